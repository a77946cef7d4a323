package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/expander"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/parser"
	"github.com/dshills/coderag/internal/retrieval"
	"github.com/dshills/coderag/pkg/types"
)

func expandCmd(flags *globalFlags) *cobra.Command {
	var (
		strategy   string
		all        bool
		count      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "expand <query>",
		Short: "Show the alternative queries the language model produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

			exp, err := retrieval.NewExpander(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("query expansion unavailable: %w", err)
			}

			query := args[0]
			var queries []string
			switch {
			case all:
				queries = expander.NewHybrid(exp).ExpandComprehensively(cmd.Context(), query, expander.Strategies())
			case strategy != "":
				alts, err := exp.ExpandWithStrategy(cmd.Context(), query, strategy)
				if err != nil {
					return err
				}
				queries = append([]string{query}, alts...)
			default:
				if count <= 0 {
					count = cfg.Expansion.Count
				}
				res, err := exp.Rewrite(cmd.Context(), query, count, "")
				if err != nil {
					return err
				}
				queries = res.Queries()
			}
			queries = expander.RankQueries(queries, query)

			if jsonOutput {
				return writeJSON(os.Stdout, queries)
			}
			printQueries(os.Stdout, exp.Model(), queries)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", fmt.Sprintf("Single strategy, one of %v", expander.Strategies()))
	cmd.Flags().BoolVar(&all, "all", false, "Run every strategy and merge the alternatives")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Alternatives to request (default expansion.count)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagsMutuallyExclusive("strategy", "all")
	return cmd
}

func chunksCmd(flags *globalFlags) *cobra.Command {
	var (
		languages  bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "chunks <file>",
		Short: "Show how a file is split into chunks",
		Args: func(cmd *cobra.Command, args []string) error {
			if languages {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if languages {
				for _, lang := range parser.DefaultRegistry().Languages() {
					fmt.Fprintln(os.Stdout, lang)
				}
				return nil
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

			c, err := chunker.New(chunker.Config{ChunkSize: cfg.Chunking.ChunkSize, Overlap: cfg.Chunking.Overlap}, nil, logger)
			if err != nil {
				return err
			}
			chunks, err := c.ChunkFile(args[0], filepath.ToSlash(filepath.Clean(args[0])))
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(os.Stdout, chunks)
			}
			printChunks(os.Stdout, chunks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&languages, "languages", false, "List languages with a structural parser")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// explainResults scores each result again and pairs it with the explanation.
// Scorer failures leave the entry empty.
func explainResults(cmd *cobra.Command, a *app, query string, results []types.ContextualResult) []explained {
	out := make([]explained, len(results))
	for i, r := range results {
		out[i].ContextualResult = r
		exp, err := a.orch.Explain(cmd.Context(), query, r.Chunk)
		if err != nil {
			a.logger.Warn("explain failed", slog.String("chunk", r.Chunk.ID), slog.String("error", err.Error()))
			continue
		}
		out[i].Explanation = &exp
	}
	return out
}
