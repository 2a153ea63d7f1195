package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RestDay is the prompt assigned to every day that has no scheduled prompt.
const RestDay = "Let's take a break."

var (
	// ErrInvalidArgument is returned for day queries outside the calendar month.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrScheduleConfig matches any *ConfigError.
	ErrScheduleConfig = errors.New("schedule config error")
)

// ConfigError describes a problem with the prompt list. It is non-fatal:
// Build still produces a calendar, degrading to rest days where needed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "schedule config: " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrScheduleConfig
}

// Calendar maps every day of one month to a prompt. It is read-only once built.
type Calendar struct {
	year  int
	month time.Month
	days  []string // days[d-1] is the prompt for day d
}

// Build assigns prompts to days of the given month. The first prompt lands on
// day 2; after prompt i the cursor advances 2 days when i is even and 3 days
// when i is odd. Prompts that do not fit are dropped and every unassigned day
// holds RestDay.
func Build(year int, month time.Month, prompts []string) Calendar {
	return Calendar{year: year, month: month, days: assign(DaysIn(year, month), prompts)}
}

// assign lays prompts out over n days using the alternating +2/+3 cadence.
func assign(n int, prompts []string) []string {
	days := make([]string, n)

	day := 2
	for i := 0; day <= n && i < len(prompts); i++ {
		days[day-1] = prompts[i]
		if i%2 == 0 {
			day += 2
		} else {
			day += 3
		}
	}

	for i := range days {
		if days[i] == "" {
			days[i] = RestDay
		}
	}
	return days
}

// ForDate builds the calendar for the month containing date.
func ForDate(date time.Time, prompts []string) Calendar {
	return Build(date.Year(), date.Month(), prompts)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Year returns the calendar's year.
func (c Calendar) Year() int { return c.year }

// Month returns the calendar's month.
func (c Calendar) Month() time.Month { return c.month }

// Len returns the number of days covered.
func (c Calendar) Len() int { return len(c.days) }

// Lookup returns the prompt scheduled for date. Dates outside the calendar's
// month yield RestDay.
func (c Calendar) Lookup(date time.Time) string {
	if date.Year() != c.year || date.Month() != c.month {
		return RestDay
	}
	d := date.Day()
	if d < 1 || d > len(c.days) {
		return RestDay
	}
	return c.days[d-1]
}

// Day returns the prompt for a day of the month, rejecting out-of-range days.
func (c Calendar) Day(day int) (string, error) {
	if day < 1 || day > len(c.days) {
		return "", fmt.Errorf("day %d outside [1, %d]: %w", day, len(c.days), ErrInvalidArgument)
	}
	return c.days[day-1], nil
}

// Entry is one calendar day.
type Entry struct {
	Date   time.Time `json:"date"`
	Prompt string    `json:"prompt"`
	Rest   bool      `json:"rest"`
}

// Entries returns every day in order.
func (c Calendar) Entries() []Entry {
	out := make([]Entry, len(c.days))
	for i, p := range c.days {
		out[i] = Entry{
			Date:   time.Date(c.year, c.month, i+1, 0, 0, 0, 0, time.UTC),
			Prompt: p,
			Rest:   p == RestDay,
		}
	}
	return out
}

// ValidatePrompts reports problems with a prompt list as a *ConfigError.
func ValidatePrompts(prompts []string) error {
	if len(prompts) == 0 {
		return &ConfigError{Reason: "prompt list is empty"}
	}
	seen := make(map[string]int, len(prompts))
	for i, p := range prompts {
		if strings.TrimSpace(p) == "" {
			return &ConfigError{Reason: fmt.Sprintf("prompt %d is blank", i)}
		}
		if j, ok := seen[p]; ok {
			return &ConfigError{Reason: fmt.Sprintf("prompt %d duplicates prompt %d", i, j)}
		}
		seen[p] = i
	}
	return nil
}
