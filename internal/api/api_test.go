package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/captioner/internal/corpus"
	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

type fakeRetriever struct {
	gotQuery string
	gotTopK  int
	err      error
}

func (f *fakeRetriever) RetrieveContext(ctx context.Context, query string, topK int) (retrieval.Result, error) {
	f.gotQuery, f.gotTopK = query, topK
	if f.err != nil {
		return retrieval.Result{}, f.err
	}
	if topK <= 0 {
		return retrieval.Result{}, fmt.Errorf("topK %d: %w", topK, retrieval.ErrInvalidArgument)
	}
	return retrieval.Result{
		Documents: []retrieval.ScoredDocument{
			{Document: corpus.Document{ID: "concept", Text: "Tea first."}, Position: 2, Distance: 0.5},
		},
		Context: "Tea first.",
	}, nil
}

type fakeRuns struct {
	runs     []storage.Run
	gotLimit int
	err      error
}

func (f *fakeRuns) RecentRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

var errUpstream = errors.New("upstream down")

func fixedNow() time.Time {
	return time.Date(2024, time.May, 2, 10, 30, 0, 0, time.UTC)
}

func testDeps() (Deps, *fakeRetriever, *fakeRuns) {
	r := &fakeRetriever{}
	runs := &fakeRuns{runs: []storage.Run{
		{ID: "b", Date: "2024-05-02", Prompt: "Write second", Status: storage.StatusCompleted},
		{ID: "a", Date: "2024-05-01", Prompt: schedule.RestDay, RestDay: true, Status: storage.StatusPartial, Error: "image: no image"},
	}}
	return Deps{
		Prompts:   []string{"Write first", "Write second"},
		Retriever: r,
		Runs:      runs,
		Now:       fixedNow,
	}, r, runs
}
