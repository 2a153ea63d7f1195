package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kalambet/captioner/internal/corpus"
)

// IndexCache persists corpus embeddings between runs. An entry is only valid
// for the provider and corpus fingerprint it was stored with.
type IndexCache interface {
	// Load returns the stored vectors in corpus order. ok is false on a miss.
	Load(ctx context.Context, providerID, fingerprint string) (vectors [][]float32, ok bool, err error)

	// Store replaces the cached entry.
	Store(ctx context.Context, providerID, fingerprint string, docs []corpus.Document, vectors [][]float32) error
}

// CacheInfo describes the entry currently held by a SQLiteCache.
type CacheInfo struct {
	ProviderID  string    `json:"provider_id"`
	Fingerprint string    `json:"fingerprint"`
	Count       int       `json:"count"`
	Dim         int       `json:"dim"`
	CreatedAt   time.Time `json:"created_at"`
}

var _ IndexCache = (*SQLiteCache)(nil)

// SQLiteCache stores corpus embeddings in the corpus_embeddings table. The
// table is created by the storage migrations.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache wraps an open database.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// Load implements IndexCache.
func (c *SQLiteCache) Load(ctx context.Context, providerID, fingerprint string) ([][]float32, bool, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT position, embedding, dim FROM corpus_embeddings
		WHERE provider_id = ? AND fingerprint = ?
		ORDER BY position ASC`, providerID, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("querying cached embeddings: %w", err)
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var (
			pos  int
			blob []byte
			dim  int
		)
		if err := rows.Scan(&pos, &blob, &dim); err != nil {
			return nil, false, fmt.Errorf("scanning cached embedding: %w", err)
		}
		if pos != len(vectors) {
			// a gap means a partial write; treat as a miss
			return nil, false, nil
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, false, fmt.Errorf("decoding cached embedding %d: %w", pos, err)
		}
		if len(vec) != dim {
			return nil, false, &DimensionError{Position: pos, Want: dim, Got: len(vec)}
		}
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating cached embeddings: %w", err)
	}
	return vectors, len(vectors) > 0, nil
}

// Store implements IndexCache. Previous entries are removed in the same
// transaction.
func (c *SQLiteCache) Store(ctx context.Context, providerID, fingerprint string, docs []corpus.Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("storing %d vectors for %d documents: %w", len(vectors), len(docs), ErrInvalidArgument)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM corpus_embeddings`); err != nil {
		return fmt.Errorf("clearing cached embeddings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO corpus_embeddings (position, doc_id, text, embedding, dim, provider_id, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, d := range docs {
		if _, err := stmt.ExecContext(ctx, i, d.ID, d.Text, encodeFloat32s(vectors[i]), len(vectors[i]), providerID, fingerprint, now); err != nil {
			return fmt.Errorf("inserting embedding %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Info describes the cached entry. It returns sql.ErrNoRows when the cache
// is empty.
func (c *SQLiteCache) Info(ctx context.Context) (CacheInfo, error) {
	var (
		info      CacheInfo
		createdAt sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT provider_id, fingerprint, COUNT(*), MAX(dim), MAX(created_at)
		FROM corpus_embeddings GROUP BY provider_id, fingerprint
		ORDER BY MAX(created_at) DESC LIMIT 1`).
		Scan(&info.ProviderID, &info.Fingerprint, &info.Count, &info.Dim, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheInfo{}, err
	}
	if err != nil {
		return CacheInfo{}, fmt.Errorf("reading cache info: %w", err)
	}
	if createdAt.Valid {
		info.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	return info, nil
}

// Clear removes every cached embedding.
func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM corpus_embeddings`); err != nil {
		return fmt.Errorf("clearing cached embeddings: %w", err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes. A length that is not a
// multiple of 4 indicates corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
