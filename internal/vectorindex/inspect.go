package vectorindex

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

// Artifacts describes a persisted index directory without loading it
type Artifacts struct {
	Dir            string
	VectorCount    int
	Dimension      int
	VectorsVersion uint32
	ChunkCount     int
	SchemaVersion  string
	StorageMode    string // sqlite build mode: cgo or purego
	HasMeta        bool
}

// Consistent reports whether the two artifacts agree on length
func (a *Artifacts) Consistent() bool {
	return a.HasMeta && a.VectorCount == a.ChunkCount
}

// Inspect reads the vector header and the chunk table's health without
// publishing anything. A missing artifact yields ErrIndexNotBuilt.
func Inspect(ctx context.Context, dir string) (*Artifacts, error) {
	vecPath := filepath.Join(dir, VectorsFile)
	dbPath := filepath.Join(dir, ChunksFile)

	if !Exists(dir) {
		return nil, fmt.Errorf("%w: no artifacts in %s", types.ErrIndexNotBuilt, dir)
	}

	header, err := storage.ReadVectorHeader(vecPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		return nil, &types.CorruptionError{Path: dbPath, Reason: err.Error()}
	}
	defer func() { _ = store.Close() }()

	health, err := store.Health(ctx)
	if err != nil {
		return nil, &types.CorruptionError{Path: dbPath, Reason: err.Error()}
	}

	return &Artifacts{
		Dir:            dir,
		VectorCount:    header.Count,
		Dimension:      header.Dim,
		VectorsVersion: header.Version,
		ChunkCount:     health.ChunkCount,
		SchemaVersion:  health.SchemaVersion,
		StorageMode:    health.BuildMode,
		HasMeta:        health.HasMeta,
	}, nil
}
