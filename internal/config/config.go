// Package config provides the typed configuration for chatrelay and its
// env-file backed store. The .env file is the single backing source so that
// administrative updates survive a process restart.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full runtime configuration. Values come from the .env file
// overlaid on the process environment; defaults fill the rest.
type Config struct {
	BaseURL           string        `env:"CHATWOOT_BASE_URL"`
	APIToken          string        `env:"CHATWOOT_API_TOKEN"`
	AccountID         string        `env:"CHATWOOT_ACCOUNT_ID"`
	InferenceEndpoint string        `env:"OLLAMA_ENDPOINT" envDefault:"http://localhost:11434"`
	Model             string        `env:"LLM_MODEL" envDefault:"mistral"`
	SystemMessage     string        `env:"SYSTEM_MESSAGE" envDefault:"You are a helpful AI assistant."`
	Port              int           `env:"PORT" envDefault:"5000"`
	HistoryEnabled    bool          `env:"HISTORY_ENABLED" envDefault:"true"`
	HistoryLimit      int           `env:"HISTORY_LIMIT" envDefault:"50"`
	InferenceTimeout  time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"120s"`
	PlatformTimeout   time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"15s"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Validate checks that the config has usable values. Credential presence is
// checked separately because it is only fatal for the serve command.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, "PORT must be between 1 and 65535")
	}
	if cfg.HistoryLimit < 1 {
		errs = append(errs, "HISTORY_LIMIT must be >= 1")
	}
	if cfg.InferenceTimeout < time.Second {
		errs = append(errs, "INFERENCE_TIMEOUT must be >= 1s")
	}
	if cfg.PlatformTimeout < time.Second {
		errs = append(errs, "PLATFORM_TIMEOUT must be >= 1s")
	}
	if cfg.InferenceEndpoint == "" {
		errs = append(errs, "OLLAMA_ENDPOINT must not be empty")
	}
	if cfg.Model == "" {
		errs = append(errs, "LLM_MODEL must not be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports which chat-platform credentials are missing.
// The serve command treats this as fatal at startup.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "CHATWOOT_BASE_URL")
	}
	if c.APIToken == "" {
		missing = append(missing, "CHATWOOT_API_TOKEN")
	}
	if c.AccountID == "" {
		missing = append(missing, "CHATWOOT_ACCOUNT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MaskSecret shows the first and last 4 characters of a credential.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
