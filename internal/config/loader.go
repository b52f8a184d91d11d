package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error type returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads envFiles (or .env when none are given) into the process
// environment without overriding variables that are already set, then
// decodes and validates Config. Missing files are not an error.
//
// Load also pins time.Local to UTC so event dates never drift with the host
// timezone.
func Load(envFiles ...string) (*Config, error) {
	time.Local = time.UTC
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct rules. Missing required values are
// reported as ErrMissingEnv and every other violation as ErrValidation.
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var (
		verrs            validator.ValidationErrors
		missing, invalid []string
	)
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if strings.HasPrefix(fe.Tag(), "required") {
				missing = append(missing, fe.Namespace())
			} else {
				invalid = append(invalid, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
		}
	}

	switch {
	case len(missing) > 0:
		return &ConfigError{Type: ErrMissingEnv, Message: "required configuration missing: " + strings.Join(missing, ", "), Err: err}
	case len(invalid) > 0:
		return &ConfigError{Type: ErrValidation, Message: "invalid configuration: " + strings.Join(invalid, ", "), Err: err}
	}
	return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
}
