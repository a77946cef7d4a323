package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/coderag/internal/chunker"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/parser"
	"github.com/dshills/coderag/pkg/types"
)

// Indexer coordinates the ingestion pipeline: discover -> read -> chunk
type Indexer struct {
	chunker *chunker.Chunker
	logger  *slog.Logger
}

// Config contains configuration for ingestion
type Config struct {
	Workers           int      // Number of concurrent workers (default: runtime.NumCPU())
	IncludeExtensions []string // e.g. ".py"; empty means every file
	ExcludePatterns   []string // case-insensitive substrings of the relative path
	MaxFileSize       int64    // files larger than this are skipped; 0 disables the limit
}

// Statistics contains statistics about an ingestion run
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	ChunksCreated int
	Languages     map[string]int // chunks per language
	Duration      time.Duration
	Errors        []*types.IngestionError
}

// ErrorMessages renders the per-file failures for display
func (s *Statistics) ErrorMessages() []string {
	out := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		out = append(out, e.Error())
	}
	return out
}

// New creates a new Indexer instance
func New(c *chunker.Chunker, logger *slog.Logger) *Indexer {
	return &Indexer{
		chunker: c,
		logger:  logging.OrDefault(logger),
	}
}

// IngestRepository walks rootPath and chunks every eligible file. Chunks are returned
// ordered by relative file path. Files that cannot be read are recorded in the
// statistics and skipped; only discovery failures and cancellation abort the run.
func (idx *Indexer) IngestRepository(ctx context.Context, rootPath string, config *Config) ([]types.Chunk, *Statistics, error) {
	config = normalizeConfig(config)

	files, err := discoverFiles(rootPath, config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover files: %w", err)
	}

	return idx.ingest(ctx, rootPath, files, config)
}

// IngestFiles chunks the given files, which may be absolute or relative to rootPath.
// Files that no longer exist or are excluded by config are skipped.
func (idx *Indexer) IngestFiles(ctx context.Context, rootPath string, paths []string, config *Config) ([]types.Chunk, *Statistics, error) {
	config = normalizeConfig(config)

	rels := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, err := RelativePath(rootPath, p)
		if err != nil {
			return nil, nil, err
		}
		if seen[rel] || !eligible(rel, config) {
			continue
		}
		seen[rel] = true
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	return idx.ingest(ctx, rootPath, rels, config)
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	c := *config
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return &c
}

// RelativePath returns p relative to rootPath in slash form. Relative inputs
// are taken as relative to rootPath. Paths that resolve outside rootPath are rejected.
func RelativePath(rootPath, p string) (string, error) {
	var rel string
	if filepath.IsAbs(p) {
		absRoot, err := filepath.Abs(rootPath)
		if err != nil {
			return "", err
		}
		if rel, err = filepath.Rel(absRoot, p); err != nil {
			return "", err
		}
	} else {
		rel = filepath.Clean(p)
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", p, rootPath)
	}
	return rel, nil
}

func excluded(rel string, patterns []string) bool {
	lower := strings.ToLower(rel)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func eligible(rel string, config *Config) bool {
	if excluded(rel, config.ExcludePatterns) {
		return false
	}
	if len(config.IncludeExtensions) == 0 {
		return true
	}
	ext := filepath.Ext(rel)
	for _, inc := range config.IncludeExtensions {
		if strings.EqualFold(ext, inc) {
			return true
		}
	}
	return false
}

// discoverFiles finds all eligible files below rootPath, as sorted slash-relative paths
func discoverFiles(rootPath string, config *Config) ([]string, error) {
	var files []string

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && excluded(rel+"/", config.ExcludePatterns) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !eligible(rel, config) {
			return nil
		}

		files = append(files, rel)
		return nil
	})

	sort.Strings(files)
	return files, err
}

type fileResult struct {
	chunks  []types.Chunk
	skipped bool
}

// ingest chunks files concurrently; results are collected per file slot so the
// output order follows files regardless of completion order.
func (idx *Indexer) ingest(ctx context.Context, rootPath string, files []string, config *Config) ([]types.Chunk, *Statistics, error) {
	startTime := time.Now()
	stats := &Statistics{Languages: make(map[string]int)}

	results := make([]fileResult, len(files))
	semaphore := make(chan struct{}, config.Workers)

	var (
		indexed int32
		skipped int32
		mu      sync.Mutex // protects stats.Errors
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, rel := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			res, err := idx.ingestFile(rootPath, rel, config)
			if err != nil {
				ierr := &types.IngestionError{Path: rel, Err: err}
				idx.logger.Warn("failed to process file", slog.String("file", rel), slog.String("error", err.Error()))
				mu.Lock()
				stats.Errors = append(stats.Errors, ierr)
				mu.Unlock()
				return nil
			}

			results[i] = res
			if res.skipped {
				atomic.AddInt32(&skipped, 1)
			} else {
				atomic.AddInt32(&indexed, 1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var chunks []types.Chunk
	for _, res := range results {
		for _, ch := range res.chunks {
			stats.Languages[ch.Language]++
		}
		chunks = append(chunks, res.chunks...)
	}

	sort.Slice(stats.Errors, func(i, j int) bool { return stats.Errors[i].Path < stats.Errors[j].Path })

	stats.FilesIndexed = int(indexed)
	stats.FilesSkipped = int(skipped)
	stats.FilesFailed = len(stats.Errors)
	stats.ChunksCreated = len(chunks)
	stats.Duration = time.Since(startTime)

	idx.logger.Info("ingestion complete",
		slog.Int("files", stats.FilesIndexed),
		slog.Int("skipped", stats.FilesSkipped),
		slog.Int("failed", stats.FilesFailed),
		slog.Int("chunks", stats.ChunksCreated),
		slog.Duration("duration", stats.Duration))

	return chunks, stats, nil
}

var errNotUTF8 = errors.New("file is not valid UTF-8")

// ingestFile reads and chunks a single file
func (idx *Indexer) ingestFile(rootPath, rel string, config *Config) (fileResult, error) {
	path := filepath.Join(rootPath, filepath.FromSlash(rel))

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileResult{skipped: true}, nil
	}
	if err != nil {
		return fileResult{}, err
	}
	if config.MaxFileSize > 0 && info.Size() > config.MaxFileSize {
		idx.logger.Debug("skipping large file", slog.String("file", rel), slog.Int64("size", info.Size()))
		return fileResult{skipped: true}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, fmt.Errorf("failed to read file: %w", err)
	}
	if !utf8.Valid(content) {
		return fileResult{}, errNotUTF8
	}

	chunks := idx.chunker.Extract(rel, content, parser.LanguageFromPath(rel))
	idx.logger.Debug("processed file", slog.String("file", rel), slog.Int("chunks", len(chunks)))

	return fileResult{chunks: chunks}, nil
}
