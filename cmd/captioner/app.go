package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/time/rate"

	"github.com/kalambet/captioner/internal/config"
	"github.com/kalambet/captioner/internal/corpus"
	"github.com/kalambet/captioner/internal/embedding"
	"github.com/kalambet/captioner/internal/embedding/huggingface"
	"github.com/kalambet/captioner/internal/embedding/ollama"
	"github.com/kalambet/captioner/internal/generation"
	"github.com/kalambet/captioner/internal/pipeline"
	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

// loadConfig loads configuration and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func loadPrompts(cfg config.Config) ([]string, error) {
	if cfg.Schedule.PromptsFile == "" {
		return schedule.DefaultPrompts(), nil
	}
	prompts, err := schedule.LoadPrompts(cfg.Schedule.PromptsFile)
	if err != nil {
		return nil, err
	}
	if err := schedule.ValidatePrompts(prompts); err != nil {
		printWarning("%v", err)
	}
	return prompts, nil
}

func loadCorpus(cfg config.Config) ([]corpus.Document, error) {
	if cfg.Corpus.Path == "" {
		return corpus.Default(), nil
	}
	return corpus.Load(cfg.Corpus.Path)
}

// providerClient builds the configured embedding client without contacting it.
func providerClient(cfg config.Config) embedding.Provider {
	if cfg.Embedding.Provider == config.ProviderOllama {
		return ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
	}
	return huggingface.New(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Secrets.HuggingFaceToken)
}

// newProvider returns a provider that is ready to embed. For Ollama that may
// pull the model, reporting progress to w.
func newProvider(ctx context.Context, cfg config.Config, w io.Writer) (embedding.Provider, error) {
	p := providerClient(cfg)
	switch c := p.(type) {
	case *ollama.Client:
		if err := ollama.EnsureReady(ctx, c, w); err != nil {
			return nil, err
		}
	case *huggingface.Client:
		if _, err := cfg.RequireHuggingFaceToken(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newEmbedder(p embedding.Provider, cfg config.Config) *retrieval.Embedder {
	policy := retrieval.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Embedding.MaxAttempts
	policy.RetryDelay = cfg.Embedding.RetryDelay
	policy.MaxElapsed = cfg.Embedding.MaxElapsed
	policy.FailFast = cfg.Embedding.FailFast

	opts := []retrieval.EmbedderOption{retrieval.WithConcurrency(cfg.Embedding.Concurrency)}
	if rps := cfg.Embedding.RequestsPerSecond; rps > 0 {
		opts = append(opts, retrieval.WithLimiter(rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))))
	}
	return retrieval.NewEmbedder(p, policy, opts...)
}

// app holds the components shared by the commands that touch storage.
type app struct {
	cfg     config.Config
	prompts []string
	docs    []corpus.Document
	store   *storage.Store
	cache   *retrieval.SQLiteCache
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	prompts, err := loadPrompts(cfg)
	if err != nil {
		return nil, err
	}
	docs, err := loadCorpus(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &app{
		cfg:     cfg,
		prompts: prompts,
		docs:    docs,
		store:   store,
		cache:   retrieval.NewSQLiteCache(store.DB()),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

func (a *app) retriever(ctx context.Context) (*retrieval.Retriever, error) {
	p, err := newProvider(ctx, a.cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	return retrieval.NewRetriever(a.docs, newEmbedder(p, a.cfg), a.cache), nil
}

func (a *app) runner(ctx context.Context) (*pipeline.Runner, error) {
	key, err := a.cfg.RequireGenAIKey()
	if err != nil {
		return nil, err
	}
	r, err := a.retriever(ctx)
	if err != nil {
		return nil, err
	}
	gem, err := generation.NewGemini(ctx, key, a.cfg.Generation.TextModel, a.cfg.Generation.ImageModel)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(pipeline.Config{
		Prompts:    a.prompts,
		Retriever:  r,
		Text:       gem,
		Image:      gem,
		Translator: generation.NewTranslator(gem, a.cfg.Generation.TargetLanguage),
		Store:      a.store,
		OutputDir:  a.cfg.Output.Dir,
		TopK:       a.cfg.Retrieval.TopK,
	}), nil
}
