// Package embedding defines the contract for remote text-embedding backends
// and the error values they report.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Provider converts text into a fixed-dimension vector.
type Provider interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ID identifies the backend and model, e.g. "huggingface:mixedbread-ai/mxbai-embed-large-v1".
	// Cached embeddings are only reused when the ID matches.
	ID() string
}

var (
	// ErrRateLimited is returned when the backend answers HTTP 429.
	ErrRateLimited = errors.New("embedding: rate limited")

	// ErrMalformedResponse is returned when a 200 response cannot be decoded
	// into a vector.
	ErrMalformedResponse = errors.New("embedding: malformed response")
)

// StatusError is returned for any non-200, non-429 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("embedding: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("embedding: unexpected status %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
// Server errors and request timeouts are temporary; other client errors are not.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}
