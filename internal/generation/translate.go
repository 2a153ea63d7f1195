package generation

import (
	"context"
	"fmt"

	"github.com/kalambet/captioner/internal/composer"
)

// Translator translates text through a TextModel.
type Translator struct {
	model  TextModel
	target string
}

// NewTranslator translates into target, or composer.DefaultTargetLanguage
// when target is empty.
func NewTranslator(m TextModel, target string) *Translator {
	if target == "" {
		target = composer.DefaultTargetLanguage
	}
	return &Translator{model: m, target: target}
}

// Target returns the language tag translations are produced in.
func (t *Translator) Target() string { return t.target }

// Translate returns text in the target language.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	out, err := t.model.Generate(ctx, composer.TranslationPrompt(text, t.target))
	if err != nil {
		return "", fmt.Errorf("translating to %s: %w", t.target, err)
	}
	return out, nil
}
