package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingProvider matches any *EmbeddingError.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrDimensionMismatch matches any *DimensionError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument is returned for a non-positive topK or dimension.
	ErrInvalidArgument = errors.New("invalid argument")
)

// EmbeddingError reports that a text could not be embedded after retries,
// or that the provider returned a non-retryable failure.
type EmbeddingError struct {
	Index    int // position of the text in the batch
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding text %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbeddingProvider }

// DimensionError reports a vector whose length differs from the index dimension.
// Position is -1 for a query vector.
type DimensionError struct {
	Position int
	Want     int
	Got      int
}

func (e *DimensionError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("query vector has dimension %d, index expects %d", e.Got, e.Want)
	}
	return fmt.Sprintf("vector %d has dimension %d, index expects %d", e.Position, e.Got, e.Want)
}

func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }
