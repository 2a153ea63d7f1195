package schedule

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
)

// promptPrefix marks a usable directive in a prompt source.
const promptPrefix = "Write"

const maxPromptLine = 64 * 1024

// ParsePrompts reads one directive per line and keeps only the trimmed lines
// that start with "Write". Order is preserved.
func ParsePrompts(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxPromptLine)

	var prompts []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, promptPrefix) {
			prompts = append(prompts, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}
	return prompts, nil
}

// LoadPrompts reads prompts from the file at path.
func LoadPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening prompt file: %w", err)
	}
	defer f.Close()
	return ParsePrompts(f)
}

//go:embed default_prompts.txt
var defaultPrompts string

// DefaultPrompts returns the built-in monthly prompt list.
func DefaultPrompts() []string {
	prompts, err := ParsePrompts(strings.NewReader(defaultPrompts))
	if err != nil {
		panic("schedule: invalid embedded prompts: " + err.Error())
	}
	return prompts
}
