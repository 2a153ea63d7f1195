package retrieval

import (
	"container/heap"
	"fmt"
	"sync"
)

// Hit is one search result: the corpus position of a vector and its squared
// L2 distance to the query.
type Hit struct {
	Position int     `json:"position"`
	Distance float32 `json:"distance"`
}

// Index is an exact flat L2 index. Searches may run concurrently; Add takes
// the write lock.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// BuildIndex creates an index over vectors, all of which must have length dim.
func BuildIndex(vectors [][]float32, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension %d: %w", dim, ErrInvalidArgument)
	}
	ix := &Index{dim: dim}
	if err := ix.Add(vectors...); err != nil {
		return nil, err
	}
	return ix, nil
}

// Add appends vectors. Nothing is added if any vector has the wrong dimension.
func (ix *Index) Add(vectors ...[]float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, v := range vectors {
		if len(v) != ix.dim {
			return &DimensionError{Position: len(ix.vectors) + i, Want: ix.dim, Got: len(v)}
		}
	}
	for _, v := range vectors {
		ix.vectors = append(ix.vectors, append([]float32(nil), v...))
	}
	return nil
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Search returns the min(topK, Len()) vectors nearest to query, ascending by
// distance. Equal distances keep insertion order.
func (ix *Index) Search(query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK %d: %w", topK, ErrInvalidArgument)
	}
	if len(query) != ix.dim {
		return nil, &DimensionError{Position: -1, Want: ix.dim, Got: len(query)}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h := make(hitHeap, 0, min(topK, len(ix.vectors)))
	for pos, v := range ix.vectors {
		hit := Hit{Position: pos, Distance: squaredL2(query, v)}
		if h.Len() < topK {
			heap.Push(&h, hit)
		} else if closer(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	out := make([]Hit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Hit)
	}
	return out, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// closer orders hits by distance, then by position.
func closer(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

// hitHeap is a max-heap: the root is the worst hit kept so far.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return closer(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
