package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Secret names. They double as environment variable names.
const (
	SecretHuggingFaceToken = "HUGGINGFACE_API_TOKEN"
	SecretGenAIKey         = "GENAI_API_KEY"
)

// secretStore abstracts the fallback secret source for testing.
type secretStore interface {
	Get(name string) (string, error)
}

func secretsFilePath() string {
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// fileSecrets reads a flat JSON object of secret name to value.
type fileSecrets struct {
	path string
}

func (f fileSecrets) Get(name string) (string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("secrets file not available: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return "", fmt.Errorf("parsing secrets file: %w", err)
	}
	v, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}
