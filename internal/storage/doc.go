// Package storage persists the two artifacts of a built index.
//
// An index directory holds:
//   - vectors.bin: a flat little-endian float32 matrix with a small header
//     (magic, version, dimension, count), one row per chunk
//   - chunks.db: a SQLite database with the chunk table, keyed by the row
//     position in vectors.bin, and a single index_meta row (build id,
//     dimension, count, embedding provider and model)
//
// The two are written and read together by the vectorindex package; this
// package only knows how to encode each one.
//
// # Basic Usage
//
//	store, err := storage.Open(ctx, filepath.Join(dir, "chunks.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.WriteChunks(ctx, chunks, storage.IndexMeta{BuildID: id, Dimension: 384})
//
//	vecs, _ := storage.NewVectors(384, embeddings)
//	err = storage.WriteVectorFile(filepath.Join(dir, "vectors.bin"), vecs)
//
// # Schema Migrations
//
// Schema changes are versioned with semver and applied on Open. A database
// written by a newer build is rejected rather than downgraded.
//
// # Build Tags
//
// CGO Build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
