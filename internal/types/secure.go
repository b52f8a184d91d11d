package types

import "log/slog"

const redacted = "***REDACTED***"

// SecretString holds a credential such as the weather provider API key or a
// database URL with a password. Every printing path (fmt, JSON, YAML, slog)
// sees a placeholder; call Unmask to get the real value.
type SecretString string

func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

func (s SecretString) MarshalYAML() (any, error) {
	return redacted, nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Unmask returns the plaintext secret.
func (s SecretString) Unmask() string {
	return string(s)
}
