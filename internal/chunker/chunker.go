package chunker

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/parser"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// DefaultChunkSize is the window size in whitespace tokens
	DefaultChunkSize = 512

	// DefaultOverlap is the number of tokens shared by consecutive windows
	DefaultOverlap = 50

	// PatternSpanLines is how far a regex-detected definition is assumed to extend
	PatternSpanLines = 50

	// TokensPerLine is the line-number heuristic for window chunks
	TokensPerLine = 50

	// MaxComplexity caps the complexity estimate
	MaxComplexity = 10
)

// Config controls window chunking
type Config struct {
	ChunkSize int
	Overlap   int
}

// Chunker divides source files into chunks: structural units when a parser is
// registered for the language, regex-detected definitions otherwise, and token
// windows as the last resort.
type Chunker struct {
	registry  *parser.Registry
	chunkSize int
	overlap   int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Chunker. A nil registry uses parser.DefaultRegistry.
func New(cfg Config, registry *parser.Registry, logger *slog.Logger) (*Chunker, error) {
	if cfg.ChunkSize == 0 && cfg.Overlap == 0 {
		cfg = Config{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
	}
	if cfg.ChunkSize <= 0 {
		return nil, &types.ConfigurationError{Field: "chunk_size", Reason: "must be positive"}
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, &types.ConfigurationError{
			Field:  "overlap",
			Reason: fmt.Sprintf("overlap %d must be in [0, %d)", cfg.Overlap, cfg.ChunkSize),
		}
	}
	if registry == nil {
		registry = parser.DefaultRegistry()
	}

	return &Chunker{
		registry:  registry,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    logging.OrDefault(logger),
		now:       time.Now,
	}, nil
}

// ChunkFile reads a file from disk and extracts its chunks. displayPath is used for
// chunk identifiers and FilePath; when empty the on-disk path is used.
func (c *Chunker) ChunkFile(path, displayPath string) ([]types.Chunk, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if displayPath == "" {
		displayPath = path
	}
	return c.Extract(displayPath, content, parser.LanguageFromPath(path)), nil
}

// Extract splits content into chunks. It never fails: parse problems fall back to
// window chunking. Output is deterministic for identical input and configuration.
func (c *Chunker) Extract(filePath string, content []byte, language string) []types.Chunk {
	if ext, ok := c.registry.Lookup(language); ok {
		result, err := ext.Parse(filePath, content)
		switch {
		case err != nil:
			c.logger.Warn("structural parse failed, using window chunking",
				slog.String("file", filePath), slog.String("error", err.Error()))
		case len(result.Symbols) == 0:
			if result.HasErrors() {
				c.logger.Warn("no symbols recovered, using window chunking",
					slog.String("file", filePath), slog.Int("errors", len(result.Errors)))
			}
		default:
			if result.HasErrors() {
				c.logger.Debug("partial parse", slog.String("file", filePath), slog.Int("errors", len(result.Errors)))
			}
			if chunks := c.structuralChunks(filePath, content, language, result.Symbols); len(chunks) > 0 {
				return chunks
			}
		}
		return c.windowChunks(filePath, content, language, 0)
	}

	if chunks := c.patternChunks(filePath, content, language); len(chunks) > 0 {
		return chunks
	}
	return c.windowChunks(filePath, content, language, 0)
}

// structuralChunks creates one chunk per symbol using the parser's line span
func (c *Chunker) structuralChunks(filePath string, content []byte, language string, symbols []types.Symbol) []types.Chunk {
	lines := strings.Split(string(content), "\n")
	created := c.now()

	chunks := make([]types.Chunk, 0, len(symbols))
	for i := range symbols {
		sym := &symbols[i]
		if sym.Start.Line <= 0 || sym.End.Line < sym.Start.Line || sym.Start.Line > len(lines) {
			continue
		}

		end := sym.End.Line
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[sym.Start.Line-1:end], "\n")

		meta := map[string]string{
			types.MetaChunkingMethod: types.MethodStructural,
			types.MetaComplexity:     strconv.Itoa(EstimateComplexity(body)),
		}
		if sym.DocComment != "" {
			meta[types.MetaDocString] = sym.DocComment
		}

		chunk := types.Chunk{
			ID:        types.ChunkID(filePath, len(chunks)),
			FilePath:  filePath,
			Content:   body,
			Language:  language,
			StartLine: sym.Start.Line,
			EndLine:   end,
			Kind:      sym.ChunkKind(),
			Metadata:  meta,
			CreatedAt: created,
		}

		switch sym.Kind {
		case types.SymbolFunction:
			chunk.FunctionName = sym.Name
		case types.SymbolMethod:
			chunk.FunctionName = sym.Name
			chunk.ClassName = sym.Parent
		default:
			chunk.ClassName = sym.Name
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}

// windowChunks splits content into overlapping windows of whitespace tokens.
// The ordinal of each chunk is startID plus the token offset of the window.
func (c *Chunker) windowChunks(filePath string, content []byte, language string, startID int) []types.Chunk {
	words := strings.Fields(string(content))
	step := c.chunkSize - c.overlap
	created := c.now()

	var chunks []types.Chunk
	for i := 0; i < len(words); i += step {
		end := i + c.chunkSize
		if end > len(words) {
			end = len(words)
		}
		window := words[i:end]

		chunks = append(chunks, types.Chunk{
			ID:        types.ChunkID(filePath, startID+i),
			FilePath:  filePath,
			Content:   strings.Join(window, " "),
			Language:  language,
			StartLine: i/TokensPerLine + 1,
			EndLine:   (i+len(window))/TokensPerLine + 1,
			Kind:      types.KindWindow,
			Metadata:  map[string]string{types.MetaChunkingMethod: types.MethodSlidingWindow},
			CreatedAt: created,
		})
	}

	return chunks
}

var complexityMarkers = []string{"if ", "for ", "while ", "try:", "except", "elif ", "switch ", "catch ", "select {"}

// EstimateComplexity counts branching keywords in code, starting at 1 and capped at MaxComplexity.
func EstimateComplexity(code string) int {
	complexity := 1
	for _, m := range complexityMarkers {
		complexity += strings.Count(code, m)
	}
	if complexity > MaxComplexity {
		return MaxComplexity
	}
	return complexity
}
