package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
	kBool
)

const envPrefix = "CAPTIONER_"

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: envPrefix + "SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: envPrefix + "LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "embedding.provider", typ: kString, env: envPrefix + "EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.base_url", typ: kString, env: envPrefix + "EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.model", typ: kString, env: envPrefix + "EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.max_attempts", typ: kInt, env: envPrefix + "EMBEDDING_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxAttempts },
	},
	{
		key: "embedding.retry_delay", typ: kDuration, env: envPrefix + "EMBEDDING_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RetryDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.RetryDelay },
	},
	{
		key: "embedding.max_elapsed", typ: kDuration, env: envPrefix + "EMBEDDING_MAX_ELAPSED",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxElapsed = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxElapsed },
	},
	{
		key: "embedding.fail_fast", typ: kBool, env: envPrefix + "EMBEDDING_FAIL_FAST",
		apply:   func(cfg *Config, v any) { cfg.Embedding.FailFast = v.(bool) },
		extract: func(cfg Config) any { return cfg.Embedding.FailFast },
	},
	{
		key: "embedding.requests_per_second", typ: kFloat, env: envPrefix + "EMBEDDING_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Embedding.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Embedding.RequestsPerSecond },
	},
	{
		key: "embedding.concurrency", typ: kInt, env: envPrefix + "EMBEDDING_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Concurrency },
	},
	{
		key: "ollama.base_url", typ: kString, env: envPrefix + "OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: envPrefix + "OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "schedule.prompts_file", typ: kString, env: envPrefix + "SCHEDULE_PROMPTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.PromptsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.PromptsFile },
	},
	{
		key: "corpus.path", typ: kString, env: envPrefix + "CORPUS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Path },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: envPrefix + "RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "generation.text_model", typ: kString, env: envPrefix + "GENERATION_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.TextModel },
	},
	{
		key: "generation.image_model", typ: kString, env: envPrefix + "GENERATION_IMAGE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.ImageModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.ImageModel },
	},
	{
		key: "generation.target_language", typ: kString, env: envPrefix + "GENERATION_TARGET_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Generation.TargetLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.TargetLanguage },
	},
	{
		key: "output.dir", typ: kString, env: envPrefix + "OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Dir },
	},
	{
		key: "storage.data_dir", typ: kString, env: envPrefix + "STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "daemon.cron", typ: kString, env: envPrefix + "DAEMON_CRON",
		apply:   func(cfg *Config, v any) { cfg.Daemon.Cron = v.(string) },
		extract: func(cfg Config) any { return cfg.Daemon.Cron },
	},
}

// parseValue converts a raw string into the Go type for typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kBool:
		return strconv.ParseBool(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("could not parse config key, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("could not parse env var, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
