package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/captioner/internal/config"
	"github.com/kalambet/captioner/internal/retrieval"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

// testEnv isolates config, data, and secrets in temp dirs.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("CAPTIONER_STORAGE_DATA_DIR", filepath.Join(dir, "store"))
	t.Setenv(config.SecretHuggingFaceToken, "")
	t.Setenv(config.SecretGenAIKey, "")
	t.Setenv("NO_COLOR", "1")
	return dir
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldStderr, oldColor := stderr, noColor
	stderr = &errOut
	defer func() {
		stderr, noColor = oldStderr, oldColor
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		resetFlags(rootCmd)
	}()

	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// resetFlags restores flag defaults so commands do not leak state between tests.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestParseDate(t *testing.T) {
	now := time.Date(2024, time.May, 2, 12, 0, 0, 0, time.Local)

	got, err := parseDate("", now)
	if err != nil || !got.Equal(now) {
		t.Errorf("parseDate(\"\") = %v, %v", got, err)
	}

	got, err = parseDate("2024-02-29", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Year() != 2024 || got.Month() != time.February || got.Day() != 29 {
		t.Errorf("parseDate = %v", got)
	}

	if _, err := parseDate("02/29/2024", now); err == nil {
		t.Error("expected error for bad layout")
	}
}

func TestScheduleCommand_JSON(t *testing.T) {
	dir := testEnv(t)
	prompts := writeFile(t, filepath.Join(dir, "prompts.txt"), "Write first\nnot a prompt\nWrite second\n")
	t.Setenv("CAPTIONER_SCHEDULE_PROMPTS_FILE", prompts)

	out, _, err := execute(t, "schedule", "--year", "2024", "--month", "2", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var entries []schedule.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode error: %v\n%s", err, out)
	}
	if len(entries) != 29 {
		t.Fatalf("got %d entries, want 29", len(entries))
	}
	if entries[1].Prompt != "Write first" || entries[3].Prompt != "Write second" {
		t.Errorf("day 2 = %q, day 4 = %q", entries[1].Prompt, entries[3].Prompt)
	}
	if !entries[0].Rest {
		t.Error("day 1 should be a rest day")
	}
}

func TestScheduleCommand_Text(t *testing.T) {
	testEnv(t)

	out, _, err := execute(t, "schedule", "--year", "2024", "--month", "4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 30 {
		t.Fatalf("got %d lines, want 30", len(lines))
	}
	if !strings.HasPrefix(lines[0], "2024-04-01  "+schedule.RestDay) {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2024-04-02  Write") {
		t.Errorf("line 2 = %q", lines[1])
	}
}

func TestScheduleCommand_InvalidMonth(t *testing.T) {
	testEnv(t)

	_, _, err := execute(t, "schedule", "--month", "13")
	if err == nil || !strings.Contains(err.Error(), "invalid month") {
		t.Errorf("error = %v, want invalid month", err)
	}
}

func TestTodayCommand(t *testing.T) {
	testEnv(t)

	out, _, err := execute(t, "today")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()
	want := schedule.ForDate(now, schedule.DefaultPrompts()).Lookup(now)
	if strings.TrimSpace(out) != want {
		t.Errorf("today = %q, want %q", out, want)
	}
}

func TestRunsList(t *testing.T) {
	dir := testEnv(t)

	store, err := storage.Open(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatal(err)
	}
	err = store.SaveRun(context.Background(), storage.Run{
		ID:        "run-1",
		Date:      "2024-05-02",
		Prompt:    "Write first",
		Status:    storage.StatusPartial,
		Error:     "image: no image",
		StartedAt: time.Now(),
	})
	store.Close()
	if err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "runs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"2024-05-02", "partial", "run-1", "image: no image"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunsList_Empty(t *testing.T) {
	testEnv(t)

	_, errOut, err := execute(t, "runs", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "none") {
		t.Errorf("stderr = %q", errOut)
	}
}

// fakeOllama serves tags and keyword-based embeddings.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"test-embed:latest"}]}`))
		case "/api/embed":
			var req struct {
				Input string `json:"input"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			vec := []float32{0, 0, 1}
			switch in := strings.ToLower(req.Input); {
			case strings.Contains(in, "tea"):
				vec = []float32{1, 0, 0}
			case strings.Contains(in, "brand"):
				vec = []float32{0, 1, 0}
			}
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func useFakeOllama(t *testing.T, dir string) {
	t.Helper()
	srv := fakeOllama(t)
	t.Setenv("CAPTIONER_EMBEDDING_PROVIDER", config.ProviderOllama)
	t.Setenv("CAPTIONER_OLLAMA_BASE_URL", srv.URL)
	t.Setenv("CAPTIONER_OLLAMA_EMBED_MODEL", "test-embed")
	t.Setenv("CAPTIONER_CORPUS_PATH", writeFile(t, filepath.Join(dir, "corpus.yaml"), `documents:
  - id: tea
    text: Tea time is a break.
  - id: goods
    text: Brand new goods only.
  - id: make
    text: No manufacturing.
`))
}

func TestRetrieveCommand(t *testing.T) {
	dir := testEnv(t)
	useFakeOllama(t, dir)

	out, _, err := execute(t, "retrieve", "tea", "please", "--top-k", "1", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res retrieval.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode error: %v\n%s", err, out)
	}
	if len(res.Documents) != 1 || res.Documents[0].ID != "tea" {
		t.Fatalf("documents = %+v", res.Documents)
	}
	if res.Context != "Tea time is a break." {
		t.Errorf("context = %q", res.Context)
	}
}

func TestIndexBuildAndStatus(t *testing.T) {
	dir := testEnv(t)
	useFakeOllama(t, dir)

	_, errOut, err := execute(t, "index", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "No cached index") {
		t.Errorf("stderr = %q", errOut)
	}

	_, errOut, err = execute(t, "index", "build")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "Indexed 3 documents (dim 3)") {
		t.Errorf("stderr = %q", errOut)
	}

	_, errOut, err = execute(t, "index", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "Index is current") {
		t.Errorf("stderr = %q", errOut)
	}

	// A different model invalidates the cached entry.
	t.Setenv("CAPTIONER_OLLAMA_EMBED_MODEL", "other-embed")
	_, errOut, err = execute(t, "index", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "stale") {
		t.Errorf("stderr = %q", errOut)
	}

	if _, _, err := execute(t, "index", "clear"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, errOut, err = execute(t, "index", "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errOut, "No cached index") {
		t.Errorf("stderr after clear = %q", errOut)
	}
}

func TestRunCommand_RequiresGenAIKey(t *testing.T) {
	dir := testEnv(t)
	useFakeOllama(t, dir)

	_, _, err := execute(t, "run", "--date", "2024-05-02")
	if err == nil || !strings.Contains(err.Error(), config.SecretGenAIKey) {
		t.Errorf("error = %v, want missing %s", err, config.SecretGenAIKey)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	testEnv(t)

	if _, _, err := execute(t, "config", "set", "retrieval.top_k", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, _, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "retrieval.top_k = 5") {
		t.Errorf("config show missing updated key:\n%s", out)
	}
	if !strings.Contains(out, "secret.genai_api_key = (unset)") {
		t.Errorf("config show missing secret status:\n%s", out)
	}

	if _, _, err := execute(t, "config", "set", "nope", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"run", "schedule", "today", "retrieve", "index", "serve", "daemon", "runs", "config"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}
