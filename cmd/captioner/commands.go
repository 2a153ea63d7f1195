package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/captioner/internal/config"
	"github.com/kalambet/captioner/internal/corpus"
	"github.com/kalambet/captioner/internal/pipeline"
	"github.com/kalambet/captioner/internal/schedule"
	"github.com/kalambet/captioner/internal/storage"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily caption job once",
	Long: `Run the daily caption job once: look up the scheduled prompt, retrieve
brand context, generate the caption, translation, analysis, and image, and
record the run.

Examples:
  captioner run
  captioner run --date 2024-05-02`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("date")
		date, err := parseDate(raw, time.Now())
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.runner(cmd.Context())
		if err != nil {
			return err
		}

		printStep("Running job for %s", date.Format(pipeline.DateLayout))
		rep, err := r.Run(cmd.Context(), date)
		if err != nil && !errors.Is(err, pipeline.ErrRunFailed) {
			return err
		}
		reportRun(rep.Run)
		return err
	},
}

func init() {
	runCmd.Flags().String("date", "", "run date as YYYY-MM-DD (default today)")
}

// parseDate parses YYYY-MM-DD in local time. An empty value yields now.
func parseDate(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now, nil
	}
	d, err := time.ParseInLocation(pipeline.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return d, nil
}

func reportRun(r storage.Run) {
	switch r.Status {
	case storage.StatusCompleted:
		printSuccess("Run %s completed", r.ID)
	default:
		printWarning("Run %s %s: %s", r.ID, r.Status, r.Error)
	}
	for _, a := range []struct{ label, path string }{
		{"Caption", r.CaptionPath},
		{"Translation", r.TranslationPath},
		{"Analysis", r.AnalysisPath},
		{"Image", r.ImagePath},
	} {
		if a.path != "" {
			printStatus(a.label, "%s", a.path)
		}
	}
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print the prompt calendar for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		year, _ := cmd.Flags().GetInt("year")
		month, _ := cmd.Flags().GetInt("month")
		asJSON, _ := cmd.Flags().GetBool("json")
		if year == 0 {
			year = now.Year()
		}
		if month == 0 {
			month = int(now.Month())
		}
		if month < 1 || month > 12 {
			return fmt.Errorf("invalid month %d", month)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		prompts, err := loadPrompts(cfg)
		if err != nil {
			return err
		}

		cal := schedule.Build(year, time.Month(month), prompts)
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), cal.Entries())
		}
		printCalendar(cmd.OutOrStdout(), cal)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().Int("year", 0, "calendar year (default current)")
	scheduleCmd.Flags().Int("month", 0, "calendar month 1-12 (default current)")
	scheduleCmd.Flags().Bool("json", false, "print as JSON")
}

func printCalendar(w io.Writer, cal schedule.Calendar) {
	for _, e := range cal.Entries() {
		day := e.Date.Format(pipeline.DateLayout)
		if e.Rest {
			fmt.Fprintf(w, "%s  %s\n", day, colorize(colorDim, e.Prompt))
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, day), e.Prompt)
	}
}

// --- today ---

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Print today's scheduled prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		prompts, err := loadPrompts(cfg)
		if err != nil {
			return err
		}
		now := time.Now()
		fmt.Fprintln(cmd.OutOrStdout(), schedule.ForDate(now, prompts).Lookup(now))
		return nil
	},
}

// --- retrieve ---

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Retrieve brand context for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topK, _ := cmd.Flags().GetInt("top-k")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if topK == 0 {
			topK = a.cfg.Retrieval.TopK
		}

		r, err := a.retriever(cmd.Context())
		if err != nil {
			return err
		}
		res, err := r.RetrieveContext(cmd.Context(), strings.Join(args, " "), topK)
		if err != nil {
			return err
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		for _, d := range res.Documents {
			printStatus(d.ID, "distance %.4f", d.Distance)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Context)
		return nil
	},
}

func init() {
	retrieveCmd.Flags().Int("top-k", 0, "number of documents (default from config)")
	retrieveCmd.Flags().Bool("json", false, "print as JSON")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the persisted corpus embeddings",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Re-embed the corpus and refresh the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.retriever(cmd.Context())
		if err != nil {
			return err
		}
		printStep("Embedding %d documents", len(a.docs))
		ix, err := r.Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Indexed %d documents (dim %d)", ix.Len(), ix.Dim())
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached index and whether it is current",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.cache.Info(cmd.Context())
		if errors.Is(err, sql.ErrNoRows) {
			printWarning("No cached index; run: captioner index build")
			return nil
		}
		if err != nil {
			return err
		}

		providerID := providerClient(a.cfg).ID()
		current := info.ProviderID == providerID && info.Fingerprint == corpus.Fingerprint(a.docs)

		printStatus("Provider", "%s", info.ProviderID)
		printStatus("Documents", "%d", info.Count)
		printStatus("Dimension", "%d", info.Dim)
		printStatus("Built", "%s", info.CreatedAt.Local().Format(time.RFC1123))
		if current {
			printSuccess("Index is current")
		} else {
			printWarning("Index is stale (provider %s, corpus of %d documents); it will be rebuilt on next use", providerID, len(a.docs))
		}
		return nil
	},
}

var indexClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached embeddings",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.cache.Clear(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Cleared cached index")
		return nil
	},
}

func init() {
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexClearCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.RecentRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		if len(runs) == 0 {
			printStatus("Runs", "none")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, r := range runs {
			fmt.Fprintf(w, "%s  %s  %s\n", r.Date, statusLabel(r.Status), r.ID)
			if r.Error != "" {
				fmt.Fprintf(w, "    %s\n", colorize(colorDim, r.Error))
			}
		}
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsListCmd.Flags().Bool("json", false, "print as JSON")
	runsCmd.AddCommand(runsListCmd)
}

func statusLabel(s string) string {
	padded := fmt.Sprintf("%-9s", s)
	switch s {
	case storage.StatusCompleted:
		return colorize(colorGreen, padded)
	case storage.StatusPartial:
		return colorize(colorYellow, padded)
	default:
		return colorize(colorRed, padded)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
