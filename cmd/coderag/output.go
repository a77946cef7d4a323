package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dshills/coderag/internal/config"
	"github.com/dshills/coderag/internal/reranker"
	"github.com/dshills/coderag/internal/retrieval"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

var (
	heading    = color.New(color.Bold, color.FgCyan).SprintFunc()
	location   = color.New(color.FgGreen).SprintFunc()
	dim        = color.New(color.Faint).SprintFunc()
	errorLabel = color.New(color.Bold, color.FgRed).SprintFunc()
)

const previewLines = 8

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, title string, r *retrieval.BuildReport) {
	fmt.Fprintln(w, heading(title))
	fmt.Fprintf(w, "  build id:   %s\n", r.BuildID)
	fmt.Fprintf(w, "  index:      %s\n", r.IndexPath)
	fmt.Fprintf(w, "  chunks:     %d\n", r.Chunks)
	fmt.Fprintf(w, "  duration:   %s\n", r.Duration.Round(time.Millisecond))
	if r.Stats == nil {
		return
	}
	fmt.Fprintf(w, "  files:      %d indexed, %d skipped, %d failed\n",
		r.Stats.FilesIndexed, r.Stats.FilesSkipped, r.Stats.FilesFailed)
	langs := make([]string, 0, len(r.Stats.Languages))
	for lang := range r.Stats.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Fprintf(w, "    %-10s %d chunks\n", lang, r.Stats.Languages[lang])
	}
	for _, msg := range r.Stats.ErrorMessages() {
		fmt.Fprintf(w, "  %s %s\n", errorLabel("failed:"), msg)
	}
}

func printResults(w io.Writer, query string, results []types.ContextualResult) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	if alts := results[0].ExpandedQueries; len(alts) > 0 {
		fmt.Fprintf(w, "%s %s\n\n", dim("expanded:"), strings.Join(alts, " | "))
	}

	for i, r := range results {
		printResult(w, i, r, nil)
	}
}

// explained is a search result with its scorer explanation, when one was produced
type explained struct {
	types.ContextualResult
	Explanation *reranker.Explanation `json:",omitempty"`
}

func printExplainedResults(w io.Writer, query string, results []explained) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	if alts := results[0].ExpandedQueries; len(alts) > 0 {
		fmt.Fprintf(w, "%s %s\n\n", dim("expanded:"), strings.Join(alts, " | "))
	}
	for i, r := range results {
		printResult(w, i, r.ContextualResult, r.Explanation)
	}
}

func printResult(w io.Writer, i int, r types.ContextualResult, exp *reranker.Explanation) {
	c := r.Chunk
	fmt.Fprintf(w, "%s %s %s\n", heading(fmt.Sprintf("%d.", i+1)),
		location(fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)), symbolName(c))
	fmt.Fprintf(w, "   %s\n", dim(fmt.Sprintf("score %.3f (rerank %.3f, retrieval %.3f, %s)",
		r.FinalScore, r.RerankerScore, r.Score, r.Source)))
	if exp != nil {
		fmt.Fprintf(w, "   why: %s; terms %s (%.0f%% coverage)\n", exp.Summary,
			orNone(strings.Join(exp.MatchedTerms, ", ")), exp.TermCoverage*100)
	}
	if r.Commit != nil {
		fmt.Fprintf(w, "   commit %s by %s on %s: %s\n", r.Commit.Hash, r.Commit.Author,
			r.Commit.Date.Format("2006-01-02"), firstLine(r.Commit.Message))
	}
	if len(r.RelatedFiles) > 0 {
		fmt.Fprintf(w, "   related: %s\n", strings.Join(r.RelatedFiles, ", "))
	}
	fmt.Fprintln(w, preview(c.Content))
}

func printQueries(w io.Writer, model string, queries []string) {
	fmt.Fprintln(w, heading("Queries")+" "+dim("("+model+")"))
	for i, q := range queries {
		if i == 0 {
			fmt.Fprintf(w, "  %s %s\n", q, dim("(original)"))
			continue
		}
		fmt.Fprintf(w, "  %s\n", q)
	}
}

func printChunks(w io.Writer, chunks []types.Chunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(w, "No chunks")
		return
	}
	for _, c := range chunks {
		hash := c.ContentHash()
		fmt.Fprintf(w, "%s %s %s %s\n", heading(c.ID),
			location(fmt.Sprintf("%d-%d", c.StartLine, c.EndLine)), string(c.Kind), symbolName(c))
		fmt.Fprintf(w, "   %s\n", dim(fmt.Sprintf("%s, complexity %s, sha256 %x",
			c.Meta(types.MetaChunkingMethod), orNone(c.Meta(types.MetaComplexity)), hash[:6])))
	}
}

func printKeywordResults(w io.Writer, query string, hits []types.RetrievalResult) {
	if len(hits) == 0 {
		fmt.Fprintf(w, "No results for %q\n", query)
		return
	}
	for i, h := range hits {
		c := h.Chunk
		fmt.Fprintf(w, "%s %s %s %s\n", heading(fmt.Sprintf("%d.", i+1)),
			location(fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)), symbolName(c),
			dim(fmt.Sprintf("(%.2f)", h.Score)))
		fmt.Fprintln(w, preview(c.Content))
	}
}

func printInfo(w io.Writer, info retrieval.Info, persisted *vectorindex.Artifacts) {
	fmt.Fprintln(w, heading("Index"))
	fmt.Fprintf(w, "  loaded:      %v\n", info.IndexLoaded)
	fmt.Fprintf(w, "  chunks:      %d\n", info.ChunkCount)
	fmt.Fprintf(w, "  dimension:   %d\n", info.Dimension)
	fmt.Fprintf(w, "  build id:    %s\n", orNone(info.BuildID))
	fmt.Fprintf(w, "  path:        %s\n", info.IndexPath)
	fmt.Fprintf(w, "  repository:  %s\n", info.RepoPath)
	fmt.Fprintln(w, heading("Models"))
	fmt.Fprintf(w, "  embedding:   %s/%s\n", info.EmbeddingProvider, info.EmbeddingModel)
	fmt.Fprintf(w, "  reranker:    %s\n", orNone(info.RerankerModel))
	fmt.Fprintf(w, "  expansion:   %s\n", orNone(info.ExpansionModel))
	fmt.Fprintln(w, heading("Health"))
	fmt.Fprintf(w, "  git history: %v\n", info.VersionControlAvailable)
	fmt.Fprintf(w, "  cached:      %d responses\n", info.CachedResponses)
	if persisted != nil {
		fmt.Fprintln(w, heading("On disk"))
		fmt.Fprintf(w, "  vectors:     %d x %d\n", persisted.VectorCount, persisted.Dimension)
		fmt.Fprintf(w, "  chunks:      %d (schema %s, %s)\n", persisted.ChunkCount, persisted.SchemaVersion, persisted.StorageMode)
		if !persisted.Consistent() {
			fmt.Fprintf(w, "  %s vectors and chunks disagree, run 'coderag build'\n", errorLabel("warning:"))
		}
	}
}

func printImpact(w io.Writer, chunkID string, impact types.ImpactAnalysis) {
	fmt.Fprintln(w, heading("Impact of "+chunkID))
	fmt.Fprintf(w, "  last modified by: %s\n", impact.LastModifiedBy)
	if !impact.LastModifiedDate.IsZero() {
		fmt.Fprintf(w, "  last modified on: %s\n", impact.LastModifiedDate.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "  commits:          %d\n", impact.CommitCount)
	fmt.Fprintf(w, "  related files:    %d\n", impact.RelatedFilesCount)
	for _, c := range impact.RecentCommits {
		fmt.Fprintf(w, "    %s %s %s\n", c.Hash, dim(c.Author), firstLine(c.Message))
	}
}

func symbolName(c types.Chunk) string {
	switch {
	case c.ClassName != "" && c.FunctionName != "":
		return c.ClassName + "." + c.FunctionName
	case c.FunctionName != "":
		return c.FunctionName
	case c.ClassName != "":
		return c.ClassName
	}
	return ""
}

func preview(content string) string {
	lines := strings.Split(content, "\n")
	truncated := len(lines) > previewLines
	if truncated {
		lines = lines[:previewLines]
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("   | ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	if truncated {
		b.WriteString(dim("   | ...") + "\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// maskKey keeps the last four characters of a secret
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func maskSecrets(cfg config.Config) config.Config {
	cfg.Embedding.APIKey = maskKey(cfg.Embedding.APIKey)
	cfg.Reranker.APIKey = maskKey(cfg.Reranker.APIKey)
	cfg.Expansion.APIKey = maskKey(cfg.Expansion.APIKey)
	return cfg
}
