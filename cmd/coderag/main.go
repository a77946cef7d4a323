package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/mcp"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/internal/retrieval"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	repoPath   string
	indexPath  string
	logLevel   string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "coderag",
		Short:         "Semantic code retrieval with reranking and commit context",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file path (default ./coderag.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&flags.repoPath, "repo", "", "Repository to index (overrides repo.path)")
	rootCmd.PersistentFlags().StringVar(&flags.indexPath, "index", "", "Index directory (overrides index.path)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		buildCmd(&flags),
		updateCmd(&flags),
		searchCmd(&flags),
		expandCmd(&flags),
		chunksCmd(&flags),
		statusCmd(&flags),
		impactCmd(&flags),
		configCmd(&flags),
		serveCmd(&flags),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorLabel("error:"), err)
		os.Exit(1)
	}
}

// app bundles what a command needs once configuration is resolved
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	orch   *retrieval.Orchestrator
	tracer *observability.TracerProvider
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.repoPath != "" {
		cfg.Repo.Path = flags.repoPath
	}
	if flags.indexPath != "" {
		cfg.Index.Path = flags.indexPath
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

// newApp loads configuration and builds the pipeline. When load is set the
// persisted index is read; a missing index is reported but not fatal.
func newApp(ctx context.Context, flags *globalFlags, load bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	// stdout is reserved for results and the MCP protocol
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	tracer, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Warn("tracing disabled", slog.String("error", err.Error()))
		tracer = nil
	}

	orch, err := retrieval.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, orch: orch, tracer: tracer}
	if load {
		if err := orch.LoadIndex(ctx); err != nil {
			if !errors.Is(err, types.ErrIndexNotBuilt) {
				a.close()
				return nil, fmt.Errorf("failed to load index: %w", err)
			}
			logger.Warn("no index found, run 'coderag build' first", slog.String("path", cfg.Index.Path))
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.orch.Close(); err != nil {
		a.logger.Warn("failed to close embedder", slog.String("error", err.Error()))
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}
}

func buildCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Index the configured repository from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orch.BuildIndex(cmd.Context())
			if err != nil {
				return err
			}
			printReport(os.Stdout, "Index built", report)
			return nil
		},
	}
}

func updateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "update <path>...",
		Short: "Re-index specific files; deleted files lose their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.orch.UpdateIndex(cmd.Context(), args)
			if err != nil {
				return err
			}
			printReport(os.Stdout, "Index updated", report)
			return nil
		},
	}
}

func searchCmd(flags *globalFlags) *cobra.Command {
	var (
		topK       int
		expand     bool
		noContext  bool
		keyword    bool
		explain    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index with a natural language query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			if keyword {
				hits, err := a.orch.KeywordSearch(cmd.Context(), args[0], topK)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(os.Stdout, hits)
				}
				printKeywordResults(os.Stdout, args[0], hits)
				return nil
			}

			results, err := a.orch.Search(cmd.Context(), retrieval.Request{
				Query:          args[0],
				Expand:         expand,
				IncludeContext: !noContext,
				TopK:           topK,
			})
			if err != nil {
				return err
			}
			if explain {
				withWhy := explainResults(cmd, a, args[0], results)
				if jsonOutput {
					return writeJSON(os.Stdout, withWhy)
				}
				printExplainedResults(os.Stdout, args[0], withWhy)
				return nil
			}
			if jsonOutput {
				return writeJSON(os.Stdout, results)
			}
			printResults(os.Stdout, args[0], results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default retrieval.top_k_ranking)")
	cmd.Flags().BoolVar(&expand, "expand", false, "Rewrite the query with the configured language model")
	cmd.Flags().BoolVar(&noContext, "no-context", false, "Skip commit history and related files")
	cmd.Flags().BoolVar(&keyword, "keyword", false, "Use stemmed keyword search instead of vectors")
	cmd.Flags().BoolVar(&explain, "explain", false, "Explain each result's reranker score")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

func statusCmd(flags *globalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index state and configured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			info := a.orch.SystemInfo()
			artifacts, err := a.orch.Artifacts(cmd.Context())
			if err != nil && !errors.Is(err, types.ErrIndexNotBuilt) {
				a.logger.Warn("cannot inspect persisted index", slog.String("error", err.Error()))
			}
			if jsonOutput {
				return writeJSON(os.Stdout, struct {
					retrieval.Info
					Persisted *vectorindex.Artifacts `json:",omitempty"`
				}{info, artifacts})
			}
			printInfo(os.Stdout, info, artifacts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func impactCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "impact <chunk-id>",
		Short: "Summarize the change history of the file holding a chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			impact, err := a.orch.ImpactAnalysis(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printImpact(os.Stdout, args[0], impact)
			return nil
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, maskSecrets(*cfg))
		},
	}
}

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			a.logger.Info("MCP server ready, listening on stdio",
				slog.String("version", version),
				slog.String("repo", a.cfg.Repo.Path))

			srv := mcp.NewServer(a.orch, a.logger)
			if err := srv.Serve(cmd.Context(), os.Stdin, os.Stdout); err != nil {
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coderag %s (built %s)\n", version, buildTime)
		},
	}
}
