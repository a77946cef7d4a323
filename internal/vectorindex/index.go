package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dshills/coderag/internal/embedder"
	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/observability"
	"github.com/dshills/coderag/internal/storage"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// VectorsFile and ChunksFile are the two artifacts of a persisted index
	VectorsFile = "vectors.bin"
	ChunksFile  = "chunks.db"

	// DefaultBatchSize is the number of chunks embedded per provider call
	DefaultBatchSize = 32
)

// snapshot is an immutable, published index state. vectors row i belongs to chunks[i].
type snapshot struct {
	vectors   *storage.Vectors
	chunks    []types.Chunk
	buildID   string
	createdAt time.Time
}

// Index is an exact nearest-neighbour store over chunk embeddings.
// Searches read the current snapshot without locking; writers build a new
// snapshot and publish it with a single pointer swap.
type Index struct {
	embedder embedder.Embedder
	logger   *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// New creates an unbuilt index that embeds with emb
func New(emb embedder.Embedder, logger *slog.Logger) *Index {
	return &Index{
		embedder: emb,
		logger:   logging.OrDefault(logger),
	}
}

// IsBuilt reports whether a snapshot has been published
func (x *Index) IsBuilt() bool {
	return x.current.Load() != nil
}

// Len returns the number of indexed chunks
func (x *Index) Len() int {
	if s := x.current.Load(); s != nil {
		return len(s.chunks)
	}
	return 0
}

// Dimension returns the vector dimension of the published snapshot, or the
// embedder's dimension when unbuilt
func (x *Index) Dimension() int {
	if s := x.current.Load(); s != nil && s.vectors.Dim > 0 {
		return s.vectors.Dim
	}
	return x.embedder.Dimension()
}

// BuildID identifies the published snapshot; empty when unbuilt
func (x *Index) BuildID() string {
	if s := x.current.Load(); s != nil {
		return s.buildID
	}
	return ""
}

// Chunks returns a copy of the indexed chunks in position order
func (x *Index) Chunks() []types.Chunk {
	s := x.current.Load()
	if s == nil {
		return nil
	}
	out := make([]types.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// ChunksForFile returns the indexed chunks of filePath in position order
func (x *Index) ChunksForFile(filePath string) []types.Chunk {
	s := x.current.Load()
	if s == nil {
		return nil
	}
	var out []types.Chunk
	for _, ch := range s.chunks {
		if ch.FilePath == filePath {
			out = append(out, ch)
		}
	}
	return out
}

// Chunk looks up an indexed chunk by identifier
func (x *Index) Chunk(id string) (types.Chunk, bool) {
	s := x.current.Load()
	if s == nil {
		return types.Chunk{}, false
	}
	for _, ch := range s.chunks {
		if ch.ID == id {
			return ch, true
		}
	}
	return types.Chunk{}, false
}

// Build embeds chunks in batches and replaces the index contents.
// An empty chunk list produces a built, empty index.
func (x *Index) Build(ctx context.Context, chunks []types.Chunk, batchSize int) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	return x.build(ctx, chunks, batchSize)
}

// build requires writeMu
func (x *Index) build(ctx context.Context, chunks []types.Chunk, batchSize int) error {
	ctx, span := observability.StartStageSpan(ctx, observability.StageBuild, attribute.Int("chunks", len(chunks)))
	defer span.End()

	if err := checkUniqueIDs(nil, chunks); err != nil {
		observability.RecordError(span, err)
		return err
	}

	start := time.Now()
	rows, err := x.embedChunks(ctx, chunks, batchSize)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	dim := x.embedder.Dimension()
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	vectors, err := storage.NewVectors(dim, rows)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("failed to assemble vectors: %w", err)
	}

	x.publish(&snapshot{
		vectors:   vectors,
		chunks:    cloneChunks(chunks),
		buildID:   uuid.NewString(),
		createdAt: time.Now(),
	})

	x.logger.Info("index built",
		slog.Int("chunks", len(chunks)),
		slog.Int("dimension", dim),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Update appends chunks to the index. Behaves as Build when unbuilt.
func (x *Index) Update(ctx context.Context, chunks []types.Chunk) error {
	return x.ReplaceFiles(ctx, nil, chunks)
}

// ReplaceFiles drops every chunk belonging to the given files, then appends
// chunks. Remaining rows keep their relative order. A chunk whose identifier
// would remain indexed is rejected with types.ErrInvalidChunkID.
func (x *Index) ReplaceFiles(ctx context.Context, filePaths []string, chunks []types.Chunk) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	old := x.current.Load()
	if old == nil {
		return x.build(ctx, chunks, DefaultBatchSize)
	}

	drop := make(map[string]bool, len(filePaths))
	for _, p := range filePaths {
		drop[p] = true
	}

	kept := &storage.Vectors{Dim: old.vectors.Dim}
	keptChunks := make([]types.Chunk, 0, len(old.chunks)+len(chunks))
	if len(drop) == 0 {
		kept.Data = old.vectors.Data
		keptChunks = append(keptChunks, old.chunks...)
	} else {
		for i, ch := range old.chunks {
			if drop[ch.FilePath] {
				continue
			}
			kept.Data = append(kept.Data, old.vectors.Row(i)...)
			keptChunks = append(keptChunks, ch)
		}
	}

	if err := checkUniqueIDs(keptChunks, chunks); err != nil {
		return err
	}

	rows, err := x.embedChunks(ctx, chunks, DefaultBatchSize)
	if err != nil {
		return err
	}

	if kept.Dim == 0 && len(rows) > 0 {
		kept.Dim = len(rows[0])
	}
	vectors, err := kept.Append(rows)
	if err != nil {
		return fmt.Errorf("failed to append vectors: %w", err)
	}

	x.publish(&snapshot{
		vectors:   vectors,
		chunks:    append(keptChunks, cloneChunks(chunks)...),
		buildID:   old.buildID,
		createdAt: time.Now(),
	})

	x.logger.Info("index updated",
		slog.Int("removed", len(old.chunks)-(vectors.Len()-len(chunks))),
		slog.Int("added", len(chunks)),
		slog.Int("total", vectors.Len()))
	return nil
}

// checkUniqueIDs reports the first identifier in added that repeats within
// added or already appears in existing
func checkUniqueIDs(existing, added []types.Chunk) error {
	seen := make(map[string]bool, len(existing)+len(added))
	for _, ch := range existing {
		seen[ch.ID] = true
	}
	for _, ch := range added {
		if seen[ch.ID] {
			return fmt.Errorf("%w: duplicate chunk id %q", types.ErrInvalidChunkID, ch.ID)
		}
		seen[ch.ID] = true
	}
	return nil
}

func (x *Index) publish(s *snapshot) {
	x.current.Store(s)
}

// embedChunks returns one vector per chunk, in order
func (x *Index) embedChunks(ctx context.Context, chunks []types.Chunk, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	rows := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(chunks))

		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Content
		}

		resp, err := x.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
		if err != nil {
			return nil, &types.CapabilityError{Capability: "embedding", Err: err}
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, &types.CapabilityError{
				Capability: "embedding",
				Err:        fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts)),
			}
		}
		for _, emb := range resp.Embeddings {
			if len(rows) > 0 && len(emb.Vector) != len(rows[0]) {
				return nil, &types.CapabilityError{
					Capability: "embedding",
					Err:        fmt.Errorf("inconsistent dimension %d, expected %d", len(emb.Vector), len(rows[0])),
				}
			}
			rows = append(rows, emb.Vector)
		}
	}
	return rows, nil
}

type candidate struct {
	pos  int
	dist float64
}

// Search returns the k nearest chunks to query by L2 distance, closest first.
// Scores are 1/(1+distance).
func (x *Index) Search(ctx context.Context, query string, k int) ([]types.RetrievalResult, error) {
	snap := x.current.Load()
	if snap == nil {
		return nil, types.ErrIndexNotBuilt
	}
	if k <= 0 || len(snap.chunks) == 0 {
		return []types.RetrievalResult{}, nil
	}

	ctx, span := observability.StartStageSpan(ctx, observability.StageSearch, attribute.Int("k", k))
	defer span.End()

	qctx, qspan := observability.StartCapabilitySpan(ctx, "embedding", x.embedder.Provider(), x.embedder.Model())
	emb, err := x.embedder.GenerateEmbedding(qctx, embedder.EmbeddingRequest{Text: query})
	observability.RecordError(qspan, err)
	qspan.End()
	if err != nil {
		observability.RecordError(span, err)
		return nil, &types.CapabilityError{Capability: "embedding", Err: err}
	}
	if len(emb.Vector) != snap.vectors.Dim {
		err := fmt.Errorf("query dimension %d does not match index dimension %d", len(emb.Vector), snap.vectors.Dim)
		observability.RecordError(span, err)
		return nil, err
	}

	n := snap.vectors.Len()
	cands := make([]candidate, n)
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cands[i] = candidate{pos: i, dist: storage.SquaredL2(emb.Vector, snap.vectors.Row(i))}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].pos < cands[j].pos
	})

	results := make([]types.RetrievalResult, 0, min(k, n))
	for _, c := range cands {
		if len(results) == k {
			break
		}
		if c.pos < 0 || c.pos >= len(snap.chunks) {
			continue
		}
		d := math.Sqrt(c.dist)
		results = append(results, types.RetrievalResult{
			Chunk:  snap.chunks[c.pos],
			Score:  1 / (1 + d),
			Source: types.SourceSemantic,
		})
	}

	observability.RecordResultCount(span, len(results))
	return results, nil
}

// Verify checks that the chunk table and vectors are the same length
func (x *Index) Verify() error {
	s := x.current.Load()
	if s == nil {
		return types.ErrIndexNotBuilt
	}
	if s.vectors.Len() != len(s.chunks) {
		return &types.CorruptionError{
			Path:   "memory",
			Reason: fmt.Sprintf("%d vectors for %d chunks", s.vectors.Len(), len(s.chunks)),
		}
	}
	return nil
}

// Exists reports whether both artifacts are present in dir
func Exists(dir string) bool {
	for _, name := range []string{VectorsFile, ChunksFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Persist writes both artifacts into dir. Each is written to a temporary file
// first and renamed into place once both are complete.
func (x *Index) Persist(ctx context.Context, dir string) error {
	snap := x.current.Load()
	if snap == nil {
		return types.ErrIndexNotBuilt
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	vecTmp := filepath.Join(dir, VectorsFile+".tmp")
	dbTmp := filepath.Join(dir, ChunksFile+".tmp")
	cleanup := func() {
		_ = os.Remove(vecTmp)
		_ = os.Remove(dbTmp)
	}
	cleanup()

	if err := storage.WriteVectorFile(vecTmp, snap.vectors); err != nil {
		cleanup()
		return err
	}

	store, err := storage.Open(ctx, dbTmp)
	if err != nil {
		cleanup()
		return err
	}
	err = store.WriteChunks(ctx, snap.chunks, storage.IndexMeta{
		BuildID:           snap.buildID,
		Dimension:         snap.vectors.Dim,
		ChunkCount:        len(snap.chunks),
		EmbeddingProvider: x.embedder.Provider(),
		EmbeddingModel:    x.embedder.Model(),
		CreatedAt:         snap.createdAt,
	})
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to write chunk table: %w", err)
	}

	if err := os.Rename(vecTmp, filepath.Join(dir, VectorsFile)); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(dbTmp, filepath.Join(dir, ChunksFile)); err != nil {
		cleanup()
		return err
	}

	x.logger.Info("index persisted", slog.String("dir", dir), slog.Int("chunks", len(snap.chunks)))
	return nil
}

// Load reads both artifacts from dir and publishes them only if they agree.
// A missing artifact yields ErrIndexNotBuilt; disagreement yields a CorruptionError.
func (x *Index) Load(ctx context.Context, dir string) error {
	vecPath := filepath.Join(dir, VectorsFile)
	dbPath := filepath.Join(dir, ChunksFile)

	for _, p := range []string{vecPath, dbPath} {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s missing", types.ErrIndexNotBuilt, p)
		} else if err != nil {
			return err
		}
	}

	vectors, err := storage.ReadVectorFile(vecPath)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, dbPath)
	if err != nil {
		return &types.CorruptionError{Path: dbPath, Reason: err.Error()}
	}
	defer func() { _ = store.Close() }()

	meta, err := store.ReadMeta(ctx)
	if err != nil {
		return &types.CorruptionError{Path: dbPath, Reason: err.Error()}
	}
	chunks, err := store.ReadChunks(ctx)
	if err != nil {
		return &types.CorruptionError{Path: dbPath, Reason: err.Error()}
	}

	switch {
	case len(chunks) != vectors.Len():
		return &types.CorruptionError{Path: dir, Reason: fmt.Sprintf("%d chunks but %d vectors", len(chunks), vectors.Len())}
	case meta.ChunkCount != len(chunks):
		return &types.CorruptionError{Path: dir, Reason: fmt.Sprintf("metadata records %d chunks, table holds %d", meta.ChunkCount, len(chunks))}
	case vectors.Len() > 0 && meta.Dimension != vectors.Dim:
		return &types.CorruptionError{Path: dir, Reason: fmt.Sprintf("metadata dimension %d, vectors dimension %d", meta.Dimension, vectors.Dim)}
	}

	if dim := x.embedder.Dimension(); dim > 0 && vectors.Len() > 0 && dim != vectors.Dim {
		return &types.ConfigurationError{
			Field:  "embedding.provider",
			Reason: fmt.Sprintf("index built with %s/%s (dimension %d) but embedder produces %d", meta.EmbeddingProvider, meta.EmbeddingModel, vectors.Dim, dim),
		}
	}

	x.writeMu.Lock()
	x.publish(&snapshot{
		vectors:   vectors,
		chunks:    chunks,
		buildID:   meta.BuildID,
		createdAt: meta.CreatedAt,
	})
	x.writeMu.Unlock()

	x.logger.Info("index loaded",
		slog.String("dir", dir),
		slog.String("build_id", meta.BuildID),
		slog.Int("chunks", len(chunks)))
	return nil
}

func cloneChunks(chunks []types.Chunk) []types.Chunk {
	out := make([]types.Chunk, len(chunks))
	for i := range chunks {
		out[i] = chunks[i].Clone()
	}
	return out
}
