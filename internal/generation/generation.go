// Package generation wraps the hosted models that write captions and images.
package generation

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoImage is returned when an image response carries no image part.
	ErrNoImage = errors.New("no image in model response")

	// ErrEmptyResponse is returned when a text response is blank.
	ErrEmptyResponse = errors.New("empty model response")
)

// TextModel turns a prompt into text.
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ImageModel turns a prompt into an image.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// Image is raw encoded image data.
type Image struct {
	Data     []byte
	MIMEType string
}

// Ext returns the file extension for the image's MIME type, ".png" if unknown.
func (i Image) Ext() string {
	mt := strings.ToLower(i.MIMEType)
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	switch mt {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
