package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate performs comprehensive validation on the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validatePostgres()...)
	errors = append(errors, c.validateClaude()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateSafety()...)
	errors = append(errors, c.validateAuth()...)

	if errors.HasErrors() {
		return errors
	}

	return nil
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Server.Port",
			Message: "server port is required",
		})
	}

	validModes := []string{"debug", "release", "test"}
	isValid := false
	for _, mode := range validModes {
		if c.Server.GinMode == mode {
			isValid = true
			break
		}
	}
	if !isValid {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: fmt.Sprintf("invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode),
		})
	}

	return errors
}

func (c *Config) validatePostgres() []ValidationError {
	var errors []ValidationError

	if c.Postgres.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "Postgres.Host",
			Message: "postgres host is required",
		})
	}

	if c.Postgres.Port == "" {
		errors = append(errors, ValidationError{
			Field:   "Postgres.Port",
			Message: "postgres port is required",
		})
	}

	if c.Postgres.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "Postgres.Database",
			Message: "postgres database name is required",
		})
	}

	if c.Postgres.Username == "" {
		errors = append(errors, ValidationError{
			Field:   "Postgres.Username",
			Message: "postgres username is required",
		})
	}

	return errors
}

func (c *Config) validateClaude() []ValidationError {
	var errors []ValidationError

	if c.Claude.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "Claude.APIKey",
			Message: "Anthropic API key is required",
		})
	}

	if c.Claude.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "Claude.Model",
			Message: "Claude model is required",
		})
	}

	return errors
}

func (c *Config) validateRedis() []ValidationError {
	var errors []ValidationError

	if c.Redis.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Addr",
			Message: "redis address is required",
		})
	}

	return errors
}

func (c *Config) validateSafety() []ValidationError {
	var errors []ValidationError

	if len(c.Safety.BlockedSQLKeywords) == 0 {
		errors = append(errors, ValidationError{
			Field:   "Safety.BlockedSQLKeywords",
			Message: "blocked SQL keyword list must not be empty",
		})
	}

	if c.Safety.MaxQueryRows <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Safety.MaxQueryRows",
			Message: "max query rows must be positive",
		})
	}

	if c.Safety.QueryTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Safety.QueryTimeout",
			Message: "query timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.SessionExpiry <= 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.SessionExpiry",
			Message: "session expiry must be positive",
		})
	}

	if c.Auth.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "Auth.RateLimit",
			Message: "rate limit must be non-negative",
		})
	}

	return errors
}

// ValidateProduction performs additional validation for production environments
// It checks for insecure default values that should not be used in production
func (c *Config) ValidateProduction() error {
	var errors ValidationErrors

	if c.Postgres.Password == "" || c.Postgres.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Postgres.Password",
			Message: "production deployment must not use default or empty postgres password",
		})
	}

	if c.Redis.Password == "" || c.Redis.Password == "changeme" {
		errors = append(errors, ValidationError{
			Field:   "Redis.Password",
			Message: "production deployment must not use default or empty Redis password",
		})
	}

	insecureJWTSecrets := []string{
		"",
		"your-secret-key-change-in-production",
		"change-this-in-production",
		"secret",
	}
	for _, insecure := range insecureJWTSecrets {
		if c.Auth.JWTSecret == insecure {
			errors = append(errors, ValidationError{
				Field:   "Auth.JWTSecret",
				Message: "production deployment must use a strong JWT secret",
			})
			break
		}
	}

	if c.Auth.AllowAnonymous {
		errors = append(errors, ValidationError{
			Field:   "Auth.AllowAnonymous",
			Message: "production deployment should not allow anonymous access",
		})
	}

	if c.Server.GinMode != "release" {
		errors = append(errors, ValidationError{
			Field:   "Server.GinMode",
			Message: "production deployment should run gin in release mode",
		})
	}

	if errors.HasErrors() {
		return errors
	}

	return nil
}
