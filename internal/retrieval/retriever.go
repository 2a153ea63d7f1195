package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/captioner/internal/corpus"
)

// ScoredDocument is a retrieved document with its rank metadata.
type ScoredDocument struct {
	corpus.Document
	Position int     `json:"position"`
	Distance float32 `json:"distance"`
}

// Result is the outcome of one retrieval.
type Result struct {
	Documents []ScoredDocument `json:"documents"`
	Context   string           `json:"context"`
}

// Retriever answers context queries over one corpus. The index is built
// lazily on first use and reused for the Retriever's lifetime.
type Retriever struct {
	docs     []corpus.Document
	embedder *Embedder
	cache    IndexCache
	logger   *slog.Logger

	mu    sync.Mutex // serializes index builds
	index *Index
}

// NewRetriever creates a Retriever. cache may be nil.
func NewRetriever(docs []corpus.Document, embedder *Embedder, cache IndexCache) *Retriever {
	return &Retriever{
		docs:     docs,
		embedder: embedder,
		cache:    cache,
		logger:   slog.Default(),
	}
}

// EnsureIndex returns the corpus index, building it if needed.
func (r *Retriever) EnsureIndex(ctx context.Context) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil {
		return r.index, nil
	}

	ix, err := r.build(ctx, true)
	if err != nil {
		return nil, err
	}
	r.index = ix
	return ix, nil
}

// Rebuild re-embeds the corpus regardless of the cache and replaces both
// the in-memory index and the cached entry.
func (r *Retriever) Rebuild(ctx context.Context) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ix, err := r.build(ctx, false)
	if err != nil {
		return nil, err
	}
	r.index = ix
	return ix, nil
}

func (r *Retriever) build(ctx context.Context, useCache bool) (*Index, error) {
	if len(r.docs) == 0 {
		return nil, fmt.Errorf("building index: %w", corpus.ErrEmpty)
	}
	providerID := r.embedder.ProviderID()
	fingerprint := corpus.Fingerprint(r.docs)

	if useCache && r.cache != nil {
		vectors, ok, err := r.cache.Load(ctx, providerID, fingerprint)
		switch {
		case err != nil:
			r.logger.Warn("index cache unreadable, re-embedding corpus", "error", err)
		case ok && len(vectors) == len(r.docs):
			ix, err := BuildIndex(vectors, len(vectors[0]))
			if err == nil {
				r.logger.Debug("index loaded from cache", "documents", len(vectors), "provider", providerID)
				return ix, nil
			}
			r.logger.Warn("cached index invalid, re-embedding corpus", "error", err)
		}
	}

	vectors, err := r.embedder.EmbedBatch(ctx, corpus.Texts(r.docs))
	if err != nil {
		return nil, fmt.Errorf("embedding corpus: %w", err)
	}
	ix, err := BuildIndex(vectors, len(vectors[0]))
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	r.logger.Info("index built", "documents", len(vectors), "dim", ix.Dim(), "provider", providerID)

	if r.cache != nil {
		if err := r.cache.Store(ctx, providerID, fingerprint, r.docs, vectors); err != nil {
			r.logger.Warn("storing index cache failed", "error", err)
		}
	}
	return ix, nil
}

// RetrieveContext returns the topK documents nearest to query and their
// texts joined by a single space. Any failure aborts the call.
func (r *Retriever) RetrieveContext(ctx context.Context, query string, topK int) (Result, error) {
	if topK <= 0 {
		return Result{}, fmt.Errorf("topK %d: %w", topK, ErrInvalidArgument)
	}

	ix, err := r.EnsureIndex(ctx)
	if err != nil {
		return Result{}, err
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := ix.Search(qvec, topK)
	if err != nil {
		return Result{}, fmt.Errorf("searching index: %w", err)
	}

	docs := make([]ScoredDocument, len(hits))
	texts := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = ScoredDocument{Document: r.docs[h.Position], Position: h.Position, Distance: h.Distance}
		texts[i] = docs[i].Text
	}
	return Result{Documents: docs, Context: strings.Join(texts, " ")}, nil
}
