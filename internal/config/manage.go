package config

import (
	"fmt"
	"strconv"
)

const (
	secretHFKey    = "secret.huggingface_api_token"
	secretGenAIKey = "secret.genai_api_key"
)

var secretKeys = map[string]string{
	secretHFKey:    SecretHuggingFaceToken,
	secretGenAIKey: SecretGenAIKey,
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every non-secret key with its current value. Secrets are
// reported as set or unset only.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs)+2)
	for _, s := range specs {
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	result = append(result,
		KeyInfo{Key: secretHFKey, EnvVar: SecretHuggingFaceToken, Value: redact(cfg.Secrets.HuggingFaceToken)},
		KeyInfo{Key: secretGenAIKey, EnvVar: SecretGenAIKey, Value: redact(cfg.Secrets.GenAIKey)},
	)
	return result
}

func redact(v string) string {
	if v == "" {
		return "(unset)"
	}
	return "(set)"
}

// SetKey writes a config key to the TOML config file.
func SetKey(key, value string) error {
	return setKeyIn(newPlatformBackend(), key, value)
}

func setKeyIn(b ConfigBackend, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.typ == kInt {
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
		if _, err := parseValue(s.typ, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return b.SetString(key, value)
	}

	if env, ok := secretKeys[key]; ok {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, env)
	}
	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the settable config key names.
func ValidKeys() []string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}
