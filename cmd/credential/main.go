package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdgilhuly/go_credential_agent/pkg/config"
	"github.com/jdgilhuly/go_credential_agent/pkg/diff"
	"github.com/jdgilhuly/go_credential_agent/pkg/provider"
	"github.com/jdgilhuly/go_credential_agent/pkg/regulation"
	"github.com/jdgilhuly/go_credential_agent/pkg/report"
	"github.com/jdgilhuly/go_credential_agent/pkg/result"
	"github.com/jdgilhuly/go_credential_agent/pkg/review"
	"github.com/jdgilhuly/go_credential_agent/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "credential",
	Short: "LLM-assisted provider credentialing",
	Long: `Credential healthcare providers against hard and soft regulations
using an LLM, with rule-based fallbacks and a full audit trail.

Use 'credential init' to scaffold a project, then 'credential run' to
credential providers or 'credential serve' to start the HTTP API.`,
	SilenceUsage: true,
}

// loadConfig reads and validates the --config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run [provider-id...]",
	Short: "Credential one or more providers",
	Long: `Run the credentialing pipeline for the given providers, or for every
known provider with --all.

Each run maps provider data, verifies it externally, checks hard
regulations and scores soft regulations. A JSON report and an audit
session are written for every completed run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := setupLogging(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args
		if all, _ := cmd.Flags().GetBool("all"); all {
			ids = a.providers.IDs()
		}
		if len(ids) == 0 {
			return errors.New("no providers given; pass ids or --all")
		}

		results := a.svc.CredentialMany(ctx, ids)

		out := cmd.OutOrStdout()
		noColor, _ := cmd.Flags().GetBool("no-color")
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			report.PrintVerbose(out, results, !noColor)
		} else {
			report.PrintSummaryTable(out, results, !noColor)
		}

		if dir, _ := cmd.Flags().GetString("output"); dir != "" {
			for _, r := range results {
				path := result.DefaultPath(dir, r.ProviderID, r.Timestamp)
				if err := r.Save(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "  saved %s\n", path)
			}
		}
		return nil
	},
}

// --- serve command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the credentialing HTTP API",
	Long: `Serve the credentialing API until interrupted.

Endpoints cover single and batch credentialing, provider and regulation
lookup, stored results, usage statistics and the audit trail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
		}
		logger, err := setupLogging(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.server().Run(ctx, cfg.Server.Listen)
	},
}

// --- diff command ---

var diffCmd = &cobra.Command{
	Use:   "diff <results-a> <results-b>",
	Short: "Compare two credentialing runs",
	Long: `Compare result directories written by 'credential run --output'.

Shows providers whose compliance improved or regressed, hard regulations
whose verdict flipped, and providers only present in one run.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := diff.LoadDir(args[0])
		if err != nil {
			return err
		}
		b, err := diff.LoadDir(args[1])
		if err != nil {
			return err
		}

		threshold, _ := cmd.Flags().GetFloat64("threshold")
		dr := diff.Compare(a, b, threshold)
		if only, _ := cmd.Flags().GetStringSlice("only"); len(only) > 0 {
			cats := make([]diff.Category, len(only))
			for i, c := range only {
				cats[i] = diff.Category(c)
			}
			dr = dr.Filter(cats)
		}

		out := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "table":
			dr.PrintTable(out)
		case "json":
			data, err := dr.JSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		default:
			return fmt.Errorf("unknown format %q (want table or json)", format)
		}
		return nil
	},
}

// --- list command ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available resources",
	Long:  `List known providers, loaded regulations, or prompt templates.`,
}

var listProvidersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List known providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		providers, _, _, err := loadData(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if providers.Len() == 0 {
			fmt.Fprintln(out, "No providers found.")
			return nil
		}
		for _, p := range providers.List() {
			s := p.Summarize()
			fmt.Fprintf(out, "  %-8s %-24s %-20s %2dy  %s\n",
				s.ID, s.Name, s.Specialty, s.YearsExperience, s.PracticeName)
		}
		return nil
	},
}

var listRegulationsCmd = &cobra.Command{
	Use:   "regulations",
	Short: "List loaded regulations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, regs, _, err := loadData(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range regs.All() {
			extra := ""
			if r.Kind == regulation.Soft {
				extra = fmt.Sprintf("(weight %.2f)", r.Weight)
			}
			fmt.Fprintf(out, "  %-6s %-5s %-40s %s\n", r.ID, r.Kind, r.Name, extra)
		}
		return nil
	},
}

var listPromptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		_, _, prompts, err := loadData(cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, name := range prompts.Names() {
			t, _ := prompts.Get(name)
			desc := t.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Fprintf(out, "  %-24s %s\n", name, desc)
		}
		return nil
	},
}

// --- results command ---

var resultsCmd = &cobra.Command{
	Use:   "results [provider-id]",
	Short: "Show stored credentialing results",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Storage.DBPath == "" {
			return errors.New("results are only kept in memory; set storage.db_path")
		}
		db, err := store.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		noColor, _ := cmd.Flags().GetBool("no-color")
		if len(args) == 1 {
			r, err := db.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report.PrintVerbose(out, []*result.CredentialingResult{r}, !noColor)
			return nil
		}

		all, err := db.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintln(out, "No stored results.")
			return nil
		}
		report.PrintSummaryTable(out, all, !noColor)
		return nil
	},
}

// --- review command ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Sign off on stored results",
	Long: `Walk through stored credentialing results that need human sign-off
and record each decision in the audit trail.

The default filter shows results that used a rule fallback or are not
compliant. Stored results are never modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Storage.DBPath == "" {
			return errors.New("results are only kept in memory; set storage.db_path")
		}
		db, err := store.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		a := &app{cfg: cfg}
		if err := a.openAudit(); err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		all, err := db.List(ctx)
		if err != nil {
			return err
		}

		filter, _ := cmd.Flags().GetString("filter")
		r := &review.Reviewer{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
		decisions, err := r.Review(all, review.ParseFilter(filter))
		if err != nil {
			return err
		}
		for _, d := range decisions {
			if err := a.audit.Event(ctx, d.Event()); err != nil {
				return fmt.Errorf("recording review of %s: %w", d.ProviderID, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d decision(s) recorded.\n", len(decisions))
		return nil
	},
}

// --- usage command ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show persisted LLM usage and cost",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Storage.DBPath == "" {
			return errors.New("usage is only tracked per process; set storage.db_path")
		}
		db, err := store.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		var since time.Time
		if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
			since = time.Now().Add(-d)
		}
		ctx := cmd.Context()
		total, err := db.UsageTotals(ctx, since)
		if err != nil {
			return err
		}
		byModel, err := db.UsageByModel(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		models := make([]string, 0, len(byModel))
		for m := range byModel {
			models = append(models, m)
		}
		sort.Strings(models)
		for _, m := range models {
			fmt.Fprintf(out, "%s:\n", m)
			report.PrintUsage(out, byModel[m])
		}
		fmt.Fprintln(out, "total:")
		report.PrintUsage(out, total)
		return nil
	},
}

// --- validate command ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and data files",
	Long: `Check the configuration, provider records, regulations and prompt
templates for errors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		providers, regs, prompts, err := loadData(cfg)
		if err != nil {
			return err
		}
		cfgPath, _ := cmd.Flags().GetString("config")
		fmt.Fprintf(cmd.OutOrStdout(), "Config %q is valid: %d providers, %d hard and %d soft regulations, %d prompts.\n",
			cfgPath, providers.Len(), len(regs.Hard), len(regs.Soft), len(prompts.Names()))
		return nil
	},
}

// --- init command ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new credentialing project",
	Long: `Scaffold a credentialing project with sample data.

Creates the following structure:
  credential.yaml        - Main configuration file
  data/providers.yaml    - Sample provider records
  data/regulations.yaml  - Default regulation set
  logs/                  - Audit sessions and events
  reports/               - Per-run JSON reports`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	base, _ := cmd.Flags().GetString("dir")
	out := cmd.OutOrStdout()

	for _, d := range []string{"data", "logs", "reports"} {
		path := filepath.Join(base, d)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", path, err)
		}
		fmt.Fprintf(out, "  created %s/\n", path)
	}

	cfg := config.Default()
	cfg.Data.ProvidersFile = filepath.Join("data", "providers.yaml")
	cfg.Data.RegulationsFile = filepath.Join("data", "regulations.yaml")

	files := []struct {
		path string
		data any
	}{
		{"credential.yaml", cfg},
		{filepath.Join("data", "providers.yaml"), provider.SampleYAML()},
		{filepath.Join("data", "regulations.yaml"), regulation.DefaultYAML()},
	}
	for _, f := range files {
		if err := writeYAML(cmd, filepath.Join(base, f.path), f.data); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nCredentialing project initialized. Run 'credential validate' to check your config.")
	return nil
}

// writeYAML writes data to path unless the file already exists. Byte slices
// are written as-is.
func writeYAML(cmd *cobra.Command, path string, data any) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s (already exists)\n", path)
		return nil
	}

	out, ok := data.([]byte)
	if !ok {
		var err error
		if out, err = yaml.Marshal(data); err != nil {
			return fmt.Errorf("marshaling %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  created %s\n", path)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "credential.yaml", "Path to config file")

	// run command flags
	runCmd.Flags().Bool("all", false, "Credential every known provider")
	runCmd.Flags().BoolP("verbose", "v", false, "Print per-regulation details")
	runCmd.Flags().Bool("no-color", false, "Disable colored status labels")
	runCmd.Flags().StringP("output", "o", "", "Directory to save result JSON files")

	// serve command flags
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (overrides server.listen)")

	// diff command flags
	diffCmd.Flags().Float64("threshold", 0.0, "Minimum weighted score change to count")
	diffCmd.Flags().String("format", "table", "Output format: table, json")
	diffCmd.Flags().StringSlice("only", nil, "Only show these categories (improved, regressed, unchanged, new, removed)")

	// results command flags
	resultsCmd.Flags().Bool("no-color", false, "Disable colored status labels")

	// review command flags
	reviewCmd.Flags().String("filter", "review", "Results to show: review, fail, all")

	// usage command flags
	usageCmd.Flags().Duration("since", 0, "Only count usage within this window (0 = all time)")

	// list subcommands
	listCmd.AddCommand(listProvidersCmd)
	listCmd.AddCommand(listRegulationsCmd)
	listCmd.AddCommand(listPromptsCmd)

	// init command flags
	initCmd.Flags().String("dir", ".", "Directory to initialize")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
}

// executeContext runs the root command with args; used by tests.
func executeContext(ctx context.Context, args ...string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
