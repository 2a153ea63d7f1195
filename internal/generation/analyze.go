package generation

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/captioner/internal/composer"
)

// Analyze asks model for an insight on every composer section. Sections are
// queried concurrently, at most limit at a time. A failed section is
// recorded as "Error: <msg>" and never fails the whole analysis. A nil
// logger means slog.Default().
func Analyze(ctx context.Context, model TextModel, caption string, limit int, logger *slog.Logger) composer.Analysis {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(composer.Analysis, len(composer.Sections))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, section := range composer.Sections {
		g.Go(func() error {
			text, err := model.Generate(ctx, composer.AnalysisPrompt(caption, section))
			if err != nil {
				logger.Warn("section analysis failed", "section", section, "error", err)
				out[i] = composer.FailedInsight(section, err)
				return nil
			}
			logger.Debug("section analysed", "section", section)
			out[i] = composer.Insight{Section: section, Text: text}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
