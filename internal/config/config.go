package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const appName = "captioner"

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Embedding  EmbeddingConfig
	Ollama     OllamaConfig
	Schedule   ScheduleConfig
	Corpus     CorpusConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	Output     OutputConfig
	Storage    StorageConfig
	Daemon     DaemonConfig
	Secrets    Secrets
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// EmbeddingConfig selects the embedding provider and its retry budget.
// BaseURL and Model are for the Hugging Face provider; Ollama has its own
// section.
type EmbeddingConfig struct {
	Provider          string
	BaseURL           string
	Model             string
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxElapsed        time.Duration
	FailFast          bool
	RequestsPerSecond float64
	Concurrency       int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type ScheduleConfig struct {
	PromptsFile string
}

type CorpusConfig struct {
	Path string
}

type RetrievalConfig struct {
	TopK int
}

type GenerationConfig struct {
	TextModel      string
	ImageModel     string
	TargetLanguage string
}

type OutputConfig struct {
	Dir string
}

type StorageConfig struct {
	DataDir string
}

type DaemonConfig struct {
	Cron string
}

// Secrets are never persisted through SetKey.
type Secrets struct {
	HuggingFaceToken string
	GenAIKey         string
}

// Embedding providers.
const (
	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Log:    LogConfig{Level: "info"},
		Embedding: EmbeddingConfig{
			Provider:          ProviderHuggingFace,
			BaseURL:           "https://api-inference.huggingface.co",
			Model:             "mixedbread-ai/mxbai-embed-large-v1",
			MaxAttempts:       3,
			RetryDelay:        time.Second,
			MaxElapsed:        time.Minute,
			RequestsPerSecond: 5,
			Concurrency:       4,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "mxbai-embed-large",
		},
		Retrieval: RetrievalConfig{TopK: 2},
		Generation: GenerationConfig{
			TextModel:      "gemini-2.5-flash",
			ImageModel:     "gemini-2.0-flash-preview-image-generation",
			TargetLanguage: "zh-TW",
		},
		Output:  OutputConfig{Dir: "."},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Daemon:  DaemonConfig{Cron: "0 9 * * *"},
	}
}

// Load reads configuration in layers: defaults, then the TOML file at
// $XDG_CONFIG_HOME/captioner/config.toml, then CAPTIONER_* environment
// variables. A .env file in the working directory is loaded into the
// environment first without overriding variables already set.
//
// Secrets come from the environment, falling back to
// $XDG_DATA_HOME/captioner/secrets.json.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

// loadFromPath loads with the TOML file at path as backend.
func loadFromPath(path string, secrets secretStore) (Config, error) {
	return loadWith(newTOMLBackend(path), secrets)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	cfg.Secrets.HuggingFaceToken = resolveSecret(SecretHuggingFaceToken, secrets)
	cfg.Secrets.GenAIKey = resolveSecret(SecretGenAIKey, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(name string, secrets secretStore) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	if v, err := secrets.Get(name); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func (c Config) validate() error {
	switch c.Embedding.Provider {
	case ProviderHuggingFace, ProviderOllama:
	default:
		return fmt.Errorf("invalid embedding.provider %q: want %q or %q", c.Embedding.Provider, ProviderHuggingFace, ProviderOllama)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("invalid retrieval.top_k %d: must be positive", c.Retrieval.TopK)
	}
	if c.Embedding.MaxAttempts <= 0 {
		return fmt.Errorf("invalid embedding.max_attempts %d: must be positive", c.Embedding.MaxAttempts)
	}
	return nil
}

// RequireHuggingFaceToken returns the token or an error naming where to set it.
func (c Config) RequireHuggingFaceToken() (string, error) {
	if c.Secrets.HuggingFaceToken == "" {
		return "", missingSecret(SecretHuggingFaceToken)
	}
	return c.Secrets.HuggingFaceToken, nil
}

// RequireGenAIKey returns the Gemini API key or an error naming where to set it.
func (c Config) RequireGenAIKey() (string, error) {
	if c.Secrets.GenAIKey == "" {
		return "", missingSecret(SecretGenAIKey)
	}
	return c.Secrets.GenAIKey, nil
}

func missingSecret(name string) error {
	return fmt.Errorf("missing required config: set environment variable %s (or add it to .env or %s)", name, secretsFilePath())
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
