package types

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"
)

// ChunkKind represents the structural role of a code chunk
type ChunkKind string

const (
	KindFunction ChunkKind = "function"
	KindMethod   ChunkKind = "method"
	KindClass    ChunkKind = "class"
	KindType     ChunkKind = "type"
	KindWindow   ChunkKind = "window"
)

// Metadata keys written by the chunk extractor
const (
	MetaChunkingMethod = "chunking_method"
	MetaDocString      = "doc_string"
	MetaComplexity     = "complexity"
)

// Chunking methods recorded under MetaChunkingMethod
const (
	MethodStructural    = "structural"
	MethodPattern       = "pattern"
	MethodSlidingWindow = "sliding_window"
)

// Chunk is a contiguous fragment of a source file, the unit of indexing and retrieval.
// Chunks are immutable once produced; consumers receive value copies.
type Chunk struct {
	// Identification
	ID       string // "{file_path}_{ordinal}", unique within an index
	FilePath string

	// Content
	Content  string
	Language string

	// Location (1-based, inclusive)
	StartLine int
	EndLine   int

	// Structure
	Kind         ChunkKind
	FunctionName string
	ClassName    string
	Metadata     map[string]string

	CreatedAt time.Time
}

// ChunkID builds the identifier for the n-th chunk of a file.
func ChunkID(filePath string, n int) string {
	return fmt.Sprintf("%s_%d", filePath, n)
}

// ValidateContent checks if the chunk content is valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrInvalidChunkID
	}

	if c.FilePath == "" {
		return errors.New("file path is required")
	}

	return c.ValidateContent()
}

// ContentHash returns the SHA-256 hash of the chunk content
func (c *Chunk) ContentHash() [32]byte {
	return sha256.Sum256([]byte(c.Content))
}

// HasMetadata reports whether the chunk carries any metadata entries.
func (c *Chunk) HasMetadata() bool {
	return len(c.Metadata) > 0
}

// Meta returns the metadata value for key, or "" when absent.
func (c *Chunk) Meta(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}

// Overlaps reports whether line falls inside the chunk's inclusive range.
func (c *Chunk) Overlaps(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

// Clone returns a deep copy so callers can never alias another holder's metadata.
func (c Chunk) Clone() Chunk {
	if c.Metadata != nil {
		m := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			m[k] = v
		}
		c.Metadata = m
	}
	return c
}
