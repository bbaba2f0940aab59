package config

import (
	"strings"
	"testing"
	"time"
)

// validTestConfig returns a configuration that passes Validate
func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     "8080",
			GinMode:  "debug",
			LogLevel: "info",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     "5432",
			Database: "ecommerce",
			Username: "postgres",
			Password: "testpass",
			SSLMode:  "disable",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "analytics",
		},
		Claude: ClaudeConfig{
			APIKey: "sk-ant-test",
			Model:  "claude-sonnet-4-20250514",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Safety: SafetyConfig{
			BlockedSQLKeywords: DefaultBlockedSQLKeywords,
			MaxQueryRows:       1000,
			QueryTimeout:       30 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:     "test-secret-key-with-enough-entropy",
			SessionExpiry: 24 * time.Hour,
			RateLimit:     60,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("valid config passes validation", func(t *testing.T) {
		cfg := validTestConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no validation errors, got: %v", err)
		}
	})

	t.Run("missing postgres host fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Postgres.Host = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for missing postgres host")
		}
		if !strings.Contains(err.Error(), "Postgres.Host") {
			t.Errorf("expected error about Postgres.Host, got: %v", err)
		}
	})

	t.Run("missing Anthropic API key fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Claude.APIKey = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for missing API key")
		}
		if !strings.Contains(err.Error(), "Claude.APIKey") {
			t.Errorf("expected error about Claude.APIKey, got: %v", err)
		}
	})

	t.Run("empty blocked keyword list fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Safety.BlockedSQLKeywords = nil

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for empty denylist")
		}
		if !strings.Contains(err.Error(), "Safety.BlockedSQLKeywords") {
			t.Errorf("expected error about Safety.BlockedSQLKeywords, got: %v", err)
		}
	})

	t.Run("non-positive max query rows fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Safety.MaxQueryRows = 0

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for zero max query rows")
		}
		if !strings.Contains(err.Error(), "Safety.MaxQueryRows") {
			t.Errorf("expected error about Safety.MaxQueryRows, got: %v", err)
		}
	})

	t.Run("invalid gin mode fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Server.GinMode = "production"

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for invalid gin mode")
		}
		if !strings.Contains(err.Error(), "Server.GinMode") {
			t.Errorf("expected error about Server.GinMode, got: %v", err)
		}
	})

	t.Run("negative rate limit fails validation", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Auth.RateLimit = -1

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation error for negative rate limit")
		}
		if !strings.Contains(err.Error(), "Auth.RateLimit") {
			t.Errorf("expected error about Auth.RateLimit, got: %v", err)
		}
	})

	t.Run("multiple errors are collected", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Postgres.Host = ""
		cfg.Claude.APIKey = ""
		cfg.Redis.Addr = ""

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected validation errors")
		}

		verrs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("expected ValidationErrors, got %T", err)
		}
		if len(verrs) != 3 {
			t.Errorf("expected 3 validation errors, got %d: %v", len(verrs), verrs)
		}
	})

	t.Run("missing mongo URI is allowed", func(t *testing.T) {
		// The document store is optional; an empty URI just disables it
		cfg := validTestConfig()
		cfg.Mongo.URI = ""

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no validation errors, got: %v", err)
		}
		if cfg.Mongo.Configured() {
			t.Error("mongo should report unconfigured with an empty URI")
		}
	})
}

func TestProductionValidation(t *testing.T) {
	productionConfig := func() *Config {
		cfg := validTestConfig()
		cfg.Server.GinMode = "release"
		cfg.Redis.Password = "redis-secret"
		cfg.Auth.AllowAnonymous = false
		return cfg
	}

	t.Run("hardened config passes production validation", func(t *testing.T) {
		cfg := productionConfig()
		if err := cfg.ValidateProduction(); err != nil {
			t.Errorf("expected no production validation errors, got: %v", err)
		}
	})

	t.Run("empty postgres password fails production validation", func(t *testing.T) {
		cfg := productionConfig()
		cfg.Postgres.Password = ""

		err := cfg.ValidateProduction()
		if err == nil {
			t.Fatal("expected production validation error")
		}
		if !strings.Contains(err.Error(), "Postgres.Password") {
			t.Errorf("expected error about Postgres.Password, got: %v", err)
		}
	})

	t.Run("weak JWT secret fails production validation", func(t *testing.T) {
		cfg := productionConfig()
		cfg.Auth.JWTSecret = "secret"

		err := cfg.ValidateProduction()
		if err == nil {
			t.Fatal("expected production validation error")
		}
		if !strings.Contains(err.Error(), "Auth.JWTSecret") {
			t.Errorf("expected error about Auth.JWTSecret, got: %v", err)
		}
	})

	t.Run("anonymous access fails production validation", func(t *testing.T) {
		cfg := productionConfig()
		cfg.Auth.AllowAnonymous = true

		err := cfg.ValidateProduction()
		if err == nil {
			t.Fatal("expected production validation error")
		}
		if !strings.Contains(err.Error(), "Auth.AllowAnonymous") {
			t.Errorf("expected error about Auth.AllowAnonymous, got: %v", err)
		}
	})

	t.Run("debug gin mode fails production validation", func(t *testing.T) {
		cfg := productionConfig()
		cfg.Server.GinMode = "debug"

		err := cfg.ValidateProduction()
		if err == nil {
			t.Fatal("expected production validation error")
		}
		if !strings.Contains(err.Error(), "Server.GinMode") {
			t.Errorf("expected error about Server.GinMode, got: %v", err)
		}
	})
}
