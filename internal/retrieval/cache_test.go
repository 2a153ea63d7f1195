package retrieval

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/captioner/internal/corpus"
	"github.com/kalambet/captioner/internal/storage"
)

func openTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	s, err := storage.Open(storage.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewSQLiteCache(s.DB())
}

func TestSQLiteCache_RoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	docs := abcCorpus()
	vecs := [][]float32{{0, 0}, {1, 0.5}, {-0.25, 1}}
	fp := corpus.Fingerprint(docs)

	require.NoError(t, c.Store(ctx, "stub:v1", fp, docs, vecs))

	got, ok, err := c.Load(ctx, "stub:v1", fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vecs, got)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stub:v1", info.ProviderID)
	assert.Equal(t, fp, info.Fingerprint)
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, 2, info.Dim)
	assert.False(t, info.CreatedAt.IsZero())
}

func TestSQLiteCache_MissOnKeyChange(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	docs := abcCorpus()
	fp := corpus.Fingerprint(docs)
	require.NoError(t, c.Store(ctx, "stub:v1", fp, docs, [][]float32{{0}, {1}, {2}}))

	_, ok, err := c.Load(ctx, "stub:v2", fp)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Load(ctx, "stub:v1", corpus.Fingerprint(docs[:1]))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteCache_StoreReplaces(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	docs := abcCorpus()

	require.NoError(t, c.Store(ctx, "p1", "f1", docs, [][]float32{{0}, {1}, {2}}))
	require.NoError(t, c.Store(ctx, "p2", "f2", docs[:1], [][]float32{{9}}))

	_, ok, err := c.Load(ctx, "p1", "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := c.Load(ctx, "p2", "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, [][]float32{{9}}, got)
}

func TestSQLiteCache_StoreLengthMismatch(t *testing.T) {
	c := openTestCache(t)
	err := c.Store(context.Background(), "p", "f", abcCorpus(), [][]float32{{0}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSQLiteCache_InfoEmptyAndClear(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	_, err := c.Info(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, c.Store(ctx, "p", "f", abcCorpus()[:1], [][]float32{{1}}))
	require.NoError(t, c.Clear(ctx))
	_, err = c.Info(ctx)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRetriever_WithSQLiteCache(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	_, err := newTestRetriever(tableProvider(abcVectors()), abcCorpus(), c).RetrieveContext(ctx, "query", 2)
	require.NoError(t, err)

	p := tableProvider(abcVectors())
	res, err := newTestRetriever(p, abcCorpus(), c).RetrieveContext(ctx, "query", 2)
	require.NoError(t, err)
	assert.Equal(t, "A B", res.Context)
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestFloat32Encoding(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeFloat32s(encodeFloat32s(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeFloat32s([]byte{1, 2, 3})
	assert.Error(t, err)
}
