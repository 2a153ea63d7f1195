package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/captioner/internal/embedding"
)

// RetryPolicy controls how a single text is retried against the provider.
// Zero fields take the values of DefaultRetryPolicy.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls per text, including the first.
	MaxAttempts int

	// Backoff returns the wait after the n-th rate-limited attempt (n starts at 0).
	Backoff func(n int) time.Duration

	// RetryDelay is the wait after any other transient failure.
	RetryDelay time.Duration

	// MaxElapsed caps the total time spent waiting between attempts for one
	// text. Zero means no cap.
	MaxElapsed time.Duration

	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error

	// FailFast stops at the first error that embedding.IsPermanent reports
	// instead of retrying it after RetryDelay.
	FailFast bool
}

// DefaultRetryPolicy returns 3 attempts, 2^n second backoff on rate limits,
// and a 1 second delay on any other failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff,
		RetryDelay:  time.Second,
		MaxElapsed:  time.Minute,
		Sleep:       sleepContext,
	}
}

// maxBackoffShift keeps ExponentialBackoff below the int64 range.
const maxBackoffShift = 30

// ExponentialBackoff returns 2^n seconds.
func ExponentialBackoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > maxBackoffShift {
		n = maxBackoffShift
	}
	return time.Second << n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = def.RetryDelay
	}
	if p.Sleep == nil {
		p.Sleep = def.Sleep
	}
	return p
}

// Embedder wraps a Provider with retries, optional rate limiting, and
// bounded-concurrency batching.
type Embedder struct {
	provider    embedding.Provider
	policy      RetryPolicy
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithLimiter throttles provider calls through l.
func WithLimiter(l *rate.Limiter) EmbedderOption {
	return func(e *Embedder) { e.limiter = l }
}

// WithConcurrency bounds the number of in-flight provider calls in EmbedBatch.
func WithConcurrency(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) EmbedderOption {
	return func(e *Embedder) { e.logger = l }
}

// NewEmbedder creates an Embedder for p using policy.
func NewEmbedder(p embedding.Provider, policy RetryPolicy, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		provider:    p,
		policy:      policy.withDefaults(),
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ProviderID returns the wrapped provider's identifier.
func (e *Embedder) ProviderID() string { return e.provider.ID() }

// Embed returns the vector for text, retrying per the policy.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, 0, text)
}

// EmbedBatch embeds every text and returns vectors in input order. If any
// text fails, the whole call fails and no vectors are returned.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.embed(gCtx, i, text)
			if err != nil {
				return err
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Embedder) embed(ctx context.Context, index int, text string) ([]float32, error) {
	var (
		waited  time.Duration
		lastErr error
		attempt int
	)
	for attempt = 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, &EmbeddingError{Index: index, Attempts: attempt - 1, Err: err}
			}
		}

		vec, err := e.provider.Embed(ctx, text)
		if err == nil && len(vec) == 0 {
			err = fmt.Errorf("empty vector: %w", embedding.ErrMalformedResponse)
		}
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == e.policy.MaxAttempts {
			break
		}
		if e.policy.FailFast && embedding.IsPermanent(err) {
			break
		}

		delay := e.policy.RetryDelay
		if errors.Is(err, embedding.ErrRateLimited) {
			delay = e.policy.Backoff(attempt - 1)
		}
		if e.policy.MaxElapsed > 0 && waited+delay > e.policy.MaxElapsed {
			break
		}

		e.logger.Warn("embedding attempt failed, retrying",
			"text", index, "attempt", attempt, "delay", delay, "error", err)
		if err := e.policy.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		waited += delay
	}
	return nil, &EmbeddingError{Index: index, Attempts: attempt, Err: lastErr}
}
