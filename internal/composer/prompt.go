// Package composer builds the prompts sent to the text and image models.
package composer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultTargetLanguage is the caption translation target.
const DefaultTargetLanguage = "zh-TW"

// Brand is the company the generated content promotes.
const Brand = "Tanji Company"

// CaptionPrompt frames the retrieved context and the day's directive for the
// text model.
func CaptionPrompt(context, prompt string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s\n\nAnswer:", context, prompt)
}

// TranslationPrompt asks for a translation of text into lang (a BCP 47 tag).
func TranslationPrompt(text, lang string) string {
	if lang == "" {
		lang = DefaultTargetLanguage
	}
	return fmt.Sprintf("Translate the following Instagram caption from English into %s (%s). "+
		"Keep emojis, hashtags, and line breaks. Reply with the translation only.\n\n%s",
		languageName(lang), lang, text)
}

func languageName(tag string) string {
	switch strings.ToLower(tag) {
	case "zh-tw", "zh-hant":
		return "Traditional Chinese"
	case "zh-cn", "zh-hans", "zh":
		return "Simplified Chinese"
	case "ja":
		return "Japanese"
	case "ko":
		return "Korean"
	case "fr":
		return "French"
	case "de":
		return "German"
	case "es":
		return "Spanish"
	default:
		return tag
	}
}

// Sections are the visual aspects a caption is analysed for, in report order.
var Sections = []string{
	"Theme and Purpose",
	"Composition and Scene Design",
	"Color and Style",
	"Details and Texture",
	"Atmosphere and Lighting",
	"Call to Action",
	"Emotion and Storytelling",
}

// AnalysisPrompt asks for a short insight on one section of a post.
func AnalysisPrompt(caption, section string) string {
	return fmt.Sprintf("Analyze the following post content and provide a brief and concise insight on %s. Post content: %s.", section, caption)
}

// errorPrefix marks an insight whose model call failed.
const errorPrefix = "Error: "

// Insight is the analysis result for one section. Failed sections carry
// "Error: <msg>" as text.
type Insight struct {
	Section string
	Text    string
}

// Failed reports whether the section's model call failed.
func (i Insight) Failed() bool { return strings.HasPrefix(i.Text, errorPrefix) }

// FailedInsight records err as the section's result.
func FailedInsight(section string, err error) Insight {
	return Insight{Section: section, Text: errorPrefix + err.Error()}
}

// Analysis is an ordered list of section insights.
type Analysis []Insight

// MarshalJSON writes the analysis as one object keyed by section, keeping
// section order.
func (a Analysis) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, in := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(in.Section); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
		buf.WriteByte(':')
		if err := enc.Encode(in.Text); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Succeeded returns the insights whose model call worked.
func (a Analysis) Succeeded() []Insight {
	var out []Insight
	for _, in := range a {
		if !in.Failed() {
			out = append(out, in)
		}
	}
	return out
}

const (
	maxImageInsights   = 3
	insightSummaryLen  = 100
	captionSummaryLen  = 200
	captionFallbackLen = 300
)

const technicalRequirements = `- High-quality, Instagram-friendly visuals
- Space for text editing
- Include limited-time offer label design
- Match ` + Brand + ` brand identity
- 1080x1080 square format`

// ImagePrompt builds the image-model prompt from the caption and its
// analysis. Without usable insights it falls back to a generic brand prompt.
func ImagePrompt(caption string, analysis Analysis) string {
	insights := analysis.Succeeded()
	if len(insights) == 0 {
		return fmt.Sprintf("Create a professional Instagram product promotion image for %s.\n\n"+
			"Content: %s\n\nRequirements:\n%s\n",
			Brand, Truncate(caption, captionFallbackLen), technicalRequirements)
	}

	if len(insights) > maxImageInsights {
		insights = insights[:maxImageInsights]
	}
	lines := make([]string, len(insights))
	for i, in := range insights {
		summary := in.Text
		if utf8.RuneCountInString(summary) > insightSummaryLen {
			summary = Truncate(summary, insightSummaryLen) + "..."
		}
		lines[i] = in.Section + ": " + summary
	}

	return fmt.Sprintf("Create a professional Instagram product promotion image based on the following analysis:\n\n"+
		"Content summary: %s...\n\nDesign requirements:\n%s\n\nTechnical requirements:\n%s\n",
		Truncate(caption, captionSummaryLen), strings.Join(lines, "\n"), technicalRequirements)
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// EstimateTokens gives a rough token count at 4 bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
