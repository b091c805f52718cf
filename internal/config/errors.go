package config

import "strings"

// FieldError describes one invalid input.
type FieldError struct {
	Field   string
	Value   string
	Message string
}

func (e FieldError) Error() string {
	if e.Value == "" {
		return e.Field + ": " + e.Message
	}
	return e.Field + " " + `"` + e.Value + `": ` + e.Message
}

// ValidationErrors collects every invalid input found by Build.
type ValidationErrors []FieldError

// Add appends a field error.
func (v *ValidationErrors) Add(field, value, message string) {
	*v = append(*v, FieldError{Field: field, Value: value, Message: message})
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Has reports whether field has at least one error.
func (v ValidationErrors) Has(field string) bool {
	for _, e := range v {
		if e.Field == field {
			return true
		}
	}
	return false
}
