// Package bands names Sentinel-2 band selections.
//
// A selection is written by callers as semicolon-delimited two-digit tokens
// ("02;03;04;08") and rendered in composite file names using range notation
// ("2-4_8").
package bands

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// MinBand and MaxBand bound the numbered Level-1C bands accepted in a selection.
const (
	MinBand = 1
	MaxBand = 12
)

// DefaultSelection is the band string used when none is configured.
const DefaultSelection = "02;03;04;08"

// ErrEmpty is returned when asked to name an empty band list.
var ErrEmpty = errors.New("bands: empty selection")

// Selection is an ordered list of band tokens. Order is the caller's
// intended channel order.
type Selection []string

// ParseSelection splits a semicolon-delimited selection. Each token must be
// exactly two digits in 01..12 and may appear once.
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	parts := strings.Split(s, ";")
	sel := make(Selection, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, raw := range parts {
		token := strings.TrimSpace(raw)
		if len(token) != 2 || token[0] < '0' || token[0] > '9' || token[1] < '0' || token[1] > '9' {
			return nil, fmt.Errorf("bands: token %q must be two digits", token)
		}
		n, _ := strconv.Atoi(token)
		if n < MinBand || n > MaxBand {
			return nil, fmt.Errorf("bands: token %q outside %02d..%02d", token, MinBand, MaxBand)
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("bands: token %q repeated", token)
		}
		seen[token] = struct{}{}
		sel = append(sel, token)
	}
	return sel, nil
}

// Numbers returns the selection as integers, preserving order.
func (s Selection) Numbers() []int {
	out := make([]int, 0, len(s))
	for _, token := range s {
		n, err := strconv.Atoi(token)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// String renders the selection in its semicolon form.
func (s Selection) String() string {
	return strings.Join(s, ";")
}

// Compact renders bands in the order given, collapsing runs of consecutive
// numbers (next == prev+1) into "first-last" and joining fragments with "_".
func Compact(bands []int) (string, error) {
	if len(bands) == 0 {
		return "", ErrEmpty
	}
	var fragments []string
	start, prev := bands[0], bands[0]
	flush := func() {
		if start == prev {
			fragments = append(fragments, strconv.Itoa(start))
			return
		}
		fragments = append(fragments, strconv.Itoa(start)+"-"+strconv.Itoa(prev))
	}
	for _, b := range bands[1:] {
		if b == prev+1 {
			prev = b
			continue
		}
		flush()
		start, prev = b, b
	}
	flush()
	return strings.Join(fragments, "_"), nil
}

// Canonical sorts and deduplicates bands before compacting them, so the
// result does not depend on the order the caller listed them in.
func Canonical(bands []int) (string, error) {
	sorted := slices.Clone(bands)
	slices.Sort(sorted)
	return Compact(slices.Compact(sorted))
}
