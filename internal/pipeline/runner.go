// Package pipeline runs the daily caption job: schedule lookup, retrieval,
// caption generation, translation, analysis, and image generation.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/captioner/internal/composer"
	"github.com/kalambet/captioner/internal/generation"
	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

// DateLayout formats run dates and artifact name suffixes.
const DateLayout = "2006-01-02"

// ErrRunFailed is returned when a run produced no caption.
var ErrRunFailed = errors.New("run failed")

// ContextRetriever supplies grounding context for a query.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, query string, topK int) (retrieval.Result, error)
}

// RunStore records finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, r storage.Run) error
}

// Config wires a Runner. Store may be nil.
type Config struct {
	Prompts     []string
	Retriever   ContextRetriever
	Text        generation.TextModel
	Image       generation.ImageModel
	Translator  *generation.Translator
	Store       RunStore
	OutputDir   string
	TopK        int
	Concurrency int // parallel section analyses
}

// Runner executes the daily job. A Runner holds no per-run state and may be
// reused across runs.
type Runner struct {
	cfg    Config
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// NewRunner creates a Runner. TopK defaults to 2 and OutputDir to ".".
func NewRunner(cfg Config) *Runner {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Translator == nil && cfg.Text != nil {
		cfg.Translator = generation.NewTranslator(cfg.Text, "")
	}
	if err := schedule.ValidatePrompts(cfg.Prompts); err != nil {
		slog.Warn("prompt list problem, affected days become rest days", "error", err)
	}
	return &Runner{cfg: cfg, newID: uuid.NewString, now: time.Now, logger: slog.Default()}
}

// RunReport is the outcome of one run.
type RunReport struct {
	Run         storage.Run                `json:"run"`
	Caption     string                     `json:"caption,omitempty"`
	Translation string                     `json:"translation,omitempty"`
	Analysis    composer.Analysis          `json:"analysis,omitempty"`
	Documents   []retrieval.ScoredDocument `json:"documents,omitempty"`
}

// Run executes the job for date. Rest days still run with the rest-day
// sentinel as the query. A retrieval or caption failure skips every later
// step, records the run as failed, and returns an error wrapping
// ErrRunFailed. Failures after the caption is written mark the run partial
// without returning an error.
func (r *Runner) Run(ctx context.Context, date time.Time) (RunReport, error) {
	day := date.Format(DateLayout)
	prompt := schedule.ForDate(date, r.cfg.Prompts).Lookup(date)

	rep := RunReport{Run: storage.Run{
		ID:        r.newID(),
		Date:      day,
		Prompt:    prompt,
		RestDay:   prompt == schedule.RestDay,
		StartedAt: r.now().UTC(),
	}}
	log := r.logger.With("run", rep.Run.ID, "date", day)
	log.Info("run started", "prompt", prompt, "rest_day", rep.Run.RestDay)

	var problems []string
	fail := func(step string, err error) (RunReport, error) {
		log.Error("run failed, skipping generation", "step", step, "error", err)
		rep.Run.Status = storage.StatusFailed
		rep.Run.Error = fmt.Sprintf("%s: %v", step, err)
		r.finish(ctx, &rep)
		return rep, fmt.Errorf("%w: %s: %w", ErrRunFailed, step, err)
	}

	res, err := r.cfg.Retriever.RetrieveContext(ctx, prompt, r.cfg.TopK)
	if err != nil {
		return fail("retrieval", err)
	}
	rep.Run.Context = res.Context
	rep.Documents = res.Documents

	captionPrompt := composer.CaptionPrompt(res.Context, prompt)
	log.Debug("generating caption", "prompt_tokens", composer.EstimateTokens(captionPrompt))
	caption, err := r.cfg.Text.Generate(ctx, captionPrompt)
	if err != nil {
		return fail("caption", err)
	}
	rep.Caption = caption
	if rep.Run.CaptionPath, err = r.write(CaptionFile(day), []byte(caption)); err != nil {
		return fail("caption", err)
	}

	if tr, err := r.cfg.Translator.Translate(ctx, caption); err != nil {
		log.Warn("translation failed", "error", err)
		problems = append(problems, "translation: "+err.Error())
	} else {
		rep.Translation = tr
		if rep.Run.TranslationPath, err = r.write(TranslationFile(day), []byte(tr)); err != nil {
			problems = append(problems, "translation: "+err.Error())
		}
	}

	rep.Analysis = generation.Analyze(ctx, r.cfg.Text, caption, r.cfg.Concurrency, log)
	if b, err := marshalAnalysis(rep.Analysis); err != nil {
		problems = append(problems, "analysis: "+err.Error())
	} else if rep.Run.AnalysisPath, err = r.write(AnalysisFile(day), b); err != nil {
		problems = append(problems, "analysis: "+err.Error())
	}

	if r.cfg.Image != nil {
		img, err := r.cfg.Image.GenerateImage(ctx, composer.ImagePrompt(caption, rep.Analysis))
		if err != nil {
			log.Warn("image generation failed", "error", err)
			problems = append(problems, "image: "+err.Error())
		} else if rep.Run.ImagePath, err = r.write(ImageFile(day, img.Ext()), img.Data); err != nil {
			problems = append(problems, "image: "+err.Error())
		}
	}

	rep.Run.Status = storage.StatusCompleted
	if len(problems) > 0 {
		rep.Run.Status = storage.StatusPartial
		rep.Run.Error = strings.Join(problems, "; ")
	}
	r.finish(ctx, &rep)
	log.Info("run finished", "status", rep.Run.Status)
	return rep, nil
}

func (r *Runner) finish(ctx context.Context, rep *RunReport) {
	rep.Run.FinishedAt = r.now().UTC()
	if r.cfg.Store == nil {
		return
	}
	// a cancelled run is still recorded
	if err := r.cfg.Store.SaveRun(context.WithoutCancel(ctx), rep.Run); err != nil {
		r.logger.Error("recording run failed", "run", rep.Run.ID, "error", err)
	}
}

func (r *Runner) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

// marshalAnalysis renders the analysis with 4-space indentation and
// unescaped non-ASCII text.
func marshalAnalysis(a composer.Analysis) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Artifact file names for a run date.
func CaptionFile(day string) string     { return "generated_instagram_caption_" + day + ".txt" }
func TranslationFile(day string) string { return "translated_caption_" + day + ".txt" }
func AnalysisFile(day string) string    { return "post_analysis_result_" + day + ".json" }
func ImageFile(day, ext string) string  { return "gemini-native-product-image_" + day + ext }
