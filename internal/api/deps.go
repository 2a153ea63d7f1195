package api

import (
	"context"
	"time"

	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

// Retriever answers context queries.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, topK int) (retrieval.Result, error)
}

// RunLister reads run history.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

// Deps holds what the HTTP and MCP surfaces serve from. Runs may be nil.
type Deps struct {
	Prompts     []string
	Retriever   Retriever
	Runs        RunLister
	DefaultTopK int
	AuthToken   string
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) topK() int {
	if d.DefaultTopK > 0 {
		return d.DefaultTopK
	}
	return 2
}

// todayEntry is the schedule entry for the current date.
func (d Deps) todayEntry() schedule.Entry {
	now := d.now()
	p := schedule.ForDate(now, d.Prompts).Lookup(now)
	return schedule.Entry{
		Date:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Prompt: p,
		Rest:   p == schedule.RestDay,
	}
}

const (
	maxTopK      = 50
	defaultRuns  = 10
	maxRunsLimit = 100
)
