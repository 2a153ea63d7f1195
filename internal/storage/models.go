package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial" // caption written, a later step failed
	StatusFailed    = "failed"  // no caption produced
)

// Run is one execution of the daily job.
type Run struct {
	ID              string    `json:"id"`
	Date            string    `json:"date"` // YYYY-MM-DD
	Prompt          string    `json:"prompt"`
	RestDay         bool      `json:"rest_day"`
	Context         string    `json:"context"`
	CaptionPath     string    `json:"caption_path,omitempty"`
	TranslationPath string    `json:"translation_path,omitempty"`
	AnalysisPath    string    `json:"analysis_path,omitempty"`
	ImagePath       string    `json:"image_path,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}
