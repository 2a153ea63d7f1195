package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/captioner/internal/corpus"
	"github.com/kalambet/captioner/internal/generation"
	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

type fakeRetriever struct {
	queries []string
	err     error
}

func (f *fakeRetriever) RetrieveContext(_ context.Context, query string, topK int) (retrieval.Result, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return retrieval.Result{}, f.err
	}
	return retrieval.Result{
		Documents: []retrieval.ScoredDocument{{Document: corpus.Document{ID: "a", Text: "Tanji sells nearly new goods."}}},
		Context:   "Tanji sells nearly new goods.",
	}, nil
}

// scriptedText answers by prompt prefix.
type scriptedText struct {
	mu      sync.Mutex
	prompts []string
	fail    map[string]error // substring -> error
}

func (s *scriptedText) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	for sub, err := range s.fail {
		if strings.Contains(prompt, sub) {
			return "", err
		}
	}
	switch {
	case strings.HasPrefix(prompt, "Context:"):
		return "Tea time at Tanji!", nil
	case strings.HasPrefix(prompt, "Translate"):
		return "丹吉下午茶！", nil
	default:
		return "insight", nil
	}
}

type fakeImage struct {
	prompt string
	err    error
}

func (f *fakeImage) GenerateImage(_ context.Context, prompt string) (generation.Image, error) {
	f.prompt = prompt
	if f.err != nil {
		return generation.Image{}, f.err
	}
	return generation.Image{Data: []byte("jpegdata"), MIMEType: "image/jpeg"}, nil
}

type memStore struct{ runs []storage.Run }

func (m *memStore) SaveRun(_ context.Context, r storage.Run) error {
	m.runs = append(m.runs, r)
	return nil
}

type fixture struct {
	runner    *Runner
	retriever *fakeRetriever
	text      *scriptedText
	image     *fakeImage
	store     *memStore
	dir       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		retriever: &fakeRetriever{},
		text:      &scriptedText{},
		image:     &fakeImage{},
		store:     &memStore{},
		dir:       t.TempDir(),
	}
	f.runner = NewRunner(Config{
		Prompts:   []string{"Write about tea.", "Write about bargains."},
		Retriever: f.retriever,
		Text:      f.text,
		Image:     f.image,
		Store:     f.store,
		OutputDir: f.dir,
	})
	f.runner.newID = func() string { return "run-1" }
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRun_WritesAllArtifacts(t *testing.T) {
	f := newFixture(t)
	date := time.Date(2024, time.May, 2, 9, 0, 0, 0, time.Local)

	rep, err := f.runner.Run(context.Background(), date)
	require.NoError(t, err)

	assert.Equal(t, []string{"Write about tea."}, f.retriever.queries)
	assert.Equal(t, storage.StatusCompleted, rep.Run.Status)
	assert.False(t, rep.Run.RestDay)
	assert.Equal(t, "2024-05-02", rep.Run.Date)
	assert.Equal(t, "Tanji sells nearly new goods.", rep.Run.Context)

	assert.Equal(t, filepath.Join(f.dir, "generated_instagram_caption_2024-05-02.txt"), rep.Run.CaptionPath)
	assert.Equal(t, "Tea time at Tanji!", readFile(t, rep.Run.CaptionPath))
	assert.Equal(t, "丹吉下午茶！", readFile(t, filepath.Join(f.dir, "translated_caption_2024-05-02.txt")))
	assert.Equal(t, "jpegdata", readFile(t, filepath.Join(f.dir, "gemini-native-product-image_2024-05-02.jpg")))

	var analysis map[string]string
	require.NoError(t, json.Unmarshal([]byte(readFile(t, rep.Run.AnalysisPath)), &analysis))
	assert.Len(t, analysis, 7)
	assert.Equal(t, "insight", analysis["Call to Action"])

	assert.Contains(t, f.text.prompts[0], "Context: Tanji sells nearly new goods.\n\nQuestion: Write about tea.")
	assert.Contains(t, f.image.prompt, "Theme and Purpose: insight")

	require.Len(t, f.store.runs, 1)
	assert.Equal(t, rep.Run, f.store.runs[0])
}

func TestRun_RestDayStillRuns(t *testing.T) {
	f := newFixture(t)

	rep, err := f.runner.Run(context.Background(), time.Date(2024, time.May, 3, 9, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.True(t, rep.Run.RestDay)
	assert.Equal(t, []string{schedule.RestDay}, f.retriever.queries)
}

func TestRun_RetrievalFailureSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = &retrieval.EmbeddingError{Index: 0, Attempts: 3, Err: errors.New("429")}

	rep, err := f.runner.Run(context.Background(), time.Date(2024, time.May, 2, 0, 0, 0, 0, time.Local))
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.ErrorIs(t, err, retrieval.ErrEmbeddingProvider)
	assert.Equal(t, storage.StatusFailed, rep.Run.Status)
	assert.Contains(t, rep.Run.Error, "retrieval")

	assert.Empty(t, f.text.prompts)
	entries, _ := os.ReadDir(f.dir)
	assert.Empty(t, entries)
	require.Len(t, f.store.runs, 1)
	assert.Equal(t, storage.StatusFailed, f.store.runs[0].Status)
}

func TestRun_CaptionFailure(t *testing.T) {
	f := newFixture(t)
	f.text.fail = map[string]error{"Context:": errors.New("quota")}

	rep, err := f.runner.Run(context.Background(), time.Date(2024, time.May, 2, 0, 0, 0, 0, time.Local))
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, storage.StatusFailed, rep.Run.Status)
	assert.Empty(t, rep.Run.CaptionPath)
}

func TestRun_LaterFailuresArePartial(t *testing.T) {
	f := newFixture(t)
	f.text.fail = map[string]error{
		"Translate":       errors.New("translate down"),
		"Color and Style": errors.New("blocked"),
	}
	f.image.err = generation.ErrNoImage

	rep, err := f.runner.Run(context.Background(), time.Date(2024, time.May, 2, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPartial, rep.Run.Status)
	assert.Contains(t, rep.Run.Error, "translation: ")
	assert.Contains(t, rep.Run.Error, "image: ")
	assert.Empty(t, rep.Run.TranslationPath)
	assert.Empty(t, rep.Run.ImagePath)
	assert.NotEmpty(t, rep.Run.CaptionPath)

	var analysis map[string]string
	require.NoError(t, json.Unmarshal([]byte(readFile(t, rep.Run.AnalysisPath)), &analysis))
	assert.Equal(t, "Error: blocked", analysis["Color and Style"])
}

func TestRun_WithoutImageModel(t *testing.T) {
	f := newFixture(t)
	f.runner.cfg.Image = nil

	rep, err := f.runner.Run(context.Background(), time.Date(2024, time.May, 2, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rep.Run.Status)
	assert.Empty(t, rep.Run.ImagePath)
}

func TestArtifactNames(t *testing.T) {
	assert.Equal(t, "generated_instagram_caption_2024-01-31.txt", CaptionFile("2024-01-31"))
	assert.Equal(t, "translated_caption_2024-01-31.txt", TranslationFile("2024-01-31"))
	assert.Equal(t, "post_analysis_result_2024-01-31.json", AnalysisFile("2024-01-31"))
	assert.Equal(t, "gemini-native-product-image_2024-01-31.png", ImageFile("2024-01-31", ".png"))
}
