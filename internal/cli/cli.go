package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"kicad-bakery/internal/config"
	"kicad-bakery/internal/graph"
	"kicad-bakery/internal/journal"
	"kicad-bakery/internal/localize"

	"github.com/cockroachdb/errors"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// errItemFailures makes the process exit non-zero when a run completed with
// per-item failures.
var errItemFailures = errors.New("run completed with failures")

// Execute runs the CLI application.
func Execute() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := NewRootCmd().Execute(); err != nil {
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bakery",
		Short: "Copy a KiCad project's external library assets into the project",
		Long: `Localizes the footprints, 3D models, symbols and datasheets a KiCad project
references from global libraries into project-local libraries and folders, then
rewrites the references so the project is self-contained.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			if level == "" {
				level = os.Getenv("BAKERY_LOG_LEVEL")
			}
			return setLogLevel(level)
		},
	}
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (default from BAKERY_LOG_LEVEL)")

	rootCmd.AddCommand(localizeCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(backupsCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(libtableCmd())
	rootCmd.AddCommand(historyCmd())

	return rootCmd
}

func setLogLevel(level string) error {
	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

type localizeOptions struct {
	footprintLib string
	symbolLib    string
	format       string
	dryRun       bool
	noJournal    bool
}

func localizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "localize <project-dir>",
		Short: "Copy external assets into the project and rewrite references",
		Long: `Scans every schematic, board and symbol library under the project directory,
validates that no target file is locked and every destination stays inside the
project, then backs up, copies, rewrites and registers the local libraries.
Each run is journaled to PostgreSQL when DATABASE_URL is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts localizeOptions
			opts.footprintLib, _ = cmd.Flags().GetString("footprint-lib")
			opts.symbolLib, _ = cmd.Flags().GetString("symbol-lib")
			opts.format, _ = cmd.Flags().GetString("format")
			opts.dryRun, _ = cmd.Flags().GetBool("dry-run")
			opts.noJournal, _ = cmd.Flags().GetBool("no-journal")
			return runLocalize(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().String("footprint-lib", "", "Local footprint library nickname")
	cmd.Flags().String("symbol-lib", "", "Local symbol library nickname")
	cmd.Flags().String("format", "table", "Report format: table or json")
	cmd.Flags().Bool("dry-run", false, "Stop after validation without changing anything")
	cmd.Flags().Bool("no-journal", false, "Do not record the run even when DATABASE_URL is set")

	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <project-dir>",
		Short: "List the external references of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			exportGraph, _ := cmd.Flags().GetBool("graph")
			return runScan(cmd.OutOrStdout(), args[0], format, exportGraph)
		},
	}

	cmd.Flags().String("format", "table", "Output format: table or json")
	cmd.Flags().Bool("graph", false, "Export the references to Neo4j (NEO4J_URI)")

	return cmd
}

// loadConfig reads the environment and the project's bakery.yaml.
func loadConfig(projectDir string) (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.LoadProject(projectDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runLocalize handles the `localize` command.
func runLocalize(out io.Writer, projectDir string, opts localizeOptions) error {
	ctx, cancel := setupContext()
	defer cancel()

	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}
	if opts.footprintLib != "" {
		cfg.FootprintLib = opts.footprintLib
	}
	if opts.symbolLib != "" {
		cfg.SymbolLib = opts.symbolLib
	}

	lc := cfg.Localize(projectDir)
	lc.DryRun = opts.dryRun

	engine, err := localize.New(lc)
	if err != nil {
		return err
	}

	var store *journal.Store
	if cfg.DatabaseURL != "" && !opts.noJournal && !opts.dryRun {
		store, err = initJournal(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	report, runErr := engine.Run(ctx)
	if report != nil {
		if err := report.Render(out, opts.format); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
		if store != nil {
			if err := store.Record(ctx, report); err != nil {
				log.Warn().Err(err).Str("run", report.RunID).Msg("Failed to journal run")
			}
		}
	}

	if runErr != nil {
		if localize.IsFatal(runErr) {
			return errors.WithHint(errors.Wrap(runErr, "run aborted"), "no file was changed; fix the problem and run again")
		}
		return runErr
	}
	if report.HasFailures() {
		return errItemFailures
	}
	return nil
}

// runScan handles the `scan` command.
func runScan(out io.Writer, projectDir, format string, exportGraph bool) error {
	ctx, cancel := setupContext()
	defer cancel()

	cfg, err := loadConfig(projectDir)
	if err != nil {
		return err
	}

	engine, err := localize.New(cfg.Localize(projectDir))
	if err != nil {
		return err
	}

	report, err := engine.Scan(ctx)
	if err != nil {
		return err
	}

	if err := renderReferences(out, report, format); err != nil {
		return err
	}
	if report.Aborted && format != "json" {
		fmt.Fprintf(out, "Validation failed, a run would abort: %s\n", report.AbortReason)
	}

	if !exportGraph {
		return nil
	}
	driver, err := initGraph(ctx, cfg)
	if err != nil {
		return err
	}
	defer driver.Close(ctx)

	return exportReport(ctx, graph.NewDriverExecutor(driver), report)
}

func exportReport(ctx context.Context, exec graph.Executor, report *localize.Report) error {
	gb := graph.NewGraphBuilder(exec)
	if err := gb.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure graph schema: %w", err)
	}
	if err := gb.Export(ctx, report); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	return nil
}

// setupContext creates a cancellable context with signal handling.
func setupContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			log.Warn().Msg("Received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// initJournal connects to PostgreSQL and makes sure the journal tables exist.
func initJournal(ctx context.Context, cfg *config.Config) (*journal.Store, error) {
	store, err := journal.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	return store, nil
}

// initGraph connects to Neo4j.
func initGraph(ctx context.Context, cfg *config.Config) (neo4j.DriverWithContext, error) {
	if cfg.Neo4jURI == "" {
		return nil, errors.WithHint(errors.New("graph export needs a Neo4j server"), "set NEO4J_URI, NEO4J_USER and NEO4J_PASSWORD")
	}
	return graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
}
