package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Credentials authenticate against the catalog hub.
type Credentials struct {
	Username string `env:"S2BATCH_USERNAME"`
	Password string `env:"S2BATCH_PASSWORD"`
}

// Complete reports whether both fields are set.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// CredentialsFromEnv reads S2BATCH_USERNAME and S2BATCH_PASSWORD.
func CredentialsFromEnv() (Credentials, error) {
	var creds Credentials
	if err := ParseEnv(&creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
