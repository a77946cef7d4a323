package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// ErrNoMeta is returned when a chunk table has never been written
var ErrNoMeta = errors.New("index metadata not found")

// ChunkTable is the chunk half of a persisted index. Row positions align with the
// rows of the matching vectors file.
type ChunkTable interface {
	// WriteChunks replaces the table contents and metadata in one transaction
	WriteChunks(ctx context.Context, chunks []types.Chunk, meta IndexMeta) error

	// ReadChunks returns every chunk ordered by position
	ReadChunks(ctx context.Context) ([]types.Chunk, error)
	ChunksForFile(ctx context.Context, filePath string) ([]types.Chunk, error)
	CountChunks(ctx context.Context) (int, error)

	ReadMeta(ctx context.Context) (*IndexMeta, error)
	Health(ctx context.Context) (*HealthStatus, error)

	Close() error
}

// IndexMeta describes one persisted index build
type IndexMeta struct {
	BuildID           string
	Dimension         int
	ChunkCount        int
	EmbeddingProvider string
	EmbeddingModel    string
	SchemaVersion     string // filled on read
	CreatedAt         time.Time
}

// HealthStatus reports database state for status commands
type HealthStatus struct {
	SchemaVersion string
	BuildMode     string
	ChunkCount    int
	HasMeta       bool
}
