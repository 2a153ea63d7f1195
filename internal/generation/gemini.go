package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.0-flash-preview-image-generation"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// RetryConfig bounds retries of model calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig retries 3 times with backoff doubling from 1s to 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second}
}

// Gemini implements TextModel and ImageModel on the Gemini API.
type Gemini struct {
	models     contentGenerator
	textModel  string
	imageModel string
	retry      RetryConfig
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

var (
	_ TextModel  = (*Gemini)(nil)
	_ ImageModel = (*Gemini)(nil)
)

// NewGemini creates a client for the Gemini API. Empty model names fall back
// to the defaults.
func NewGemini(ctx context.Context, apiKey, textModel, imageModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GENAI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing genai client: %w", err)
	}
	return newGemini(client.Models, textModel, imageModel), nil
}

func newGemini(models contentGenerator, textModel, imageModel string) *Gemini {
	if textModel == "" {
		textModel = DefaultTextModel
	}
	if imageModel == "" {
		imageModel = DefaultImageModel
	}
	return &Gemini{
		models:     models,
		textModel:  textModel,
		imageModel: imageModel,
		retry:      DefaultRetryConfig(),
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
}

// SetRetry replaces the retry configuration.
func (g *Gemini) SetRetry(rc RetryConfig) { g.retry = rc }

func userContent(prompt string) []*genai.Content {
	return []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{genai.NewPartFromText(prompt)},
	}}
}

// Generate implements TextModel.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.call(ctx, g.textModel, prompt, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s: %w", g.textModel, ErrEmptyResponse)
	}
	return text, nil
}

// GenerateImage implements ImageModel. The first inline image part wins.
func (g *Gemini) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	resp, err := g.call(ctx, g.imageModel, prompt, cfg)
	if err != nil {
		return Image{}, err
	}
	if img, ok := firstImage(resp); ok {
		return img, nil
	}
	return Image{}, fmt.Errorf("%s: %w", g.imageModel, ErrNoImage)
}

func firstImage(resp *genai.GenerateContentResponse) (Image, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Image{}, false
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if strings.HasPrefix(part.InlineData.MIMEType, "image/") && len(part.InlineData.Data) > 0 {
			return Image{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, true
		}
	}
	return Image{}, false
}

// maxBackoffShift bounds InitialBackoff << attempt below the int64 range.
const maxBackoffShift = 30

// backoff returns the wait after a failed attempt, doubling from
// InitialBackoff and capped at MaxBackoff.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	d := rc.InitialBackoff << min(attempt, maxBackoffShift)
	if d < 0 || (rc.MaxBackoff > 0 && d > rc.MaxBackoff) {
		d = rc.MaxBackoff
	}
	return d
}

// isPermanent reports whether the API rejected the request itself: a bad
// request, a bad or unauthorised key, or an unknown model.
func isPermanent(err error) bool {
	var code int
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code = apiErrPtr.Code
	default:
		return false
	}
	switch code {
	case 400, 401, 403, 404:
		return true
	}
	return false
}

func (g *Gemini) call(ctx context.Context, model, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		resp, err := g.models.GenerateContent(ctx, model, userContent(prompt), cfg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == g.retry.MaxRetries || ctx.Err() != nil || isPermanent(err) {
			break
		}

		backoff := g.retry.backoff(attempt)
		g.logger.Warn("model call failed, retrying", "model", model, "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := g.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%s: retry interrupted: %w", model, err)
		}
	}
	return nil, fmt.Errorf("%s: %w", model, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
