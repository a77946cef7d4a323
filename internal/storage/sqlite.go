package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/coderag/pkg/types"
)

// SQLiteStore implements ChunkTable using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var _ ChunkTable = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open opens (creating if needed) the chunk database at dbPath and applies migrations
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close checkpoints the write-ahead log and closes the database
func (s *SQLiteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// WriteChunks replaces all rows. Position i holds chunks[i].
func (s *SQLiteStore) WriteChunks(ctx context.Context, chunks []types.Chunk, meta IndexMeta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (position, chunk_id, file_path, content, language, start_line, end_line,
			kind, function_name, class_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range chunks {
		ch := &chunks[i]
		metadata, err := encodeMetadata(ch.Metadata)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, ch.ID, ch.FilePath, ch.Content, ch.Language,
			ch.StartLine, ch.EndLine, string(ch.Kind), ch.FunctionName, ch.ClassName,
			metadata, ch.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", ch.ID, err)
		}
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO index_meta (id, build_id, dimension, chunk_count, created_at,
			embedding_provider, embedding_model)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`, meta.BuildID, meta.Dimension, len(chunks), meta.CreatedAt.UnixNano(),
		meta.EmbeddingProvider, meta.EmbeddingModel); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}

	return tx.Commit()
}

const chunkColumns = `chunk_id, file_path, content, language, start_line, end_line,
	kind, function_name, class_name, metadata, created_at`

// ReadChunks returns all chunks ordered by position
func (s *SQLiteStore) ReadChunks(ctx context.Context) ([]types.Chunk, error) {
	return s.queryChunks(ctx, "SELECT "+chunkColumns+" FROM chunks ORDER BY position")
}

// ChunksForFile returns the chunks of one file ordered by position
func (s *SQLiteStore) ChunksForFile(ctx context.Context, filePath string) ([]types.Chunk, error) {
	return s.queryChunks(ctx, "SELECT "+chunkColumns+" FROM chunks WHERE file_path = ? ORDER BY position", filePath)
}

func (s *SQLiteStore) queryChunks(ctx context.Context, query string, args ...any) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		var (
			ch       types.Chunk
			kind     string
			metadata string
			created  int64
		)
		if err := rows.Scan(&ch.ID, &ch.FilePath, &ch.Content, &ch.Language, &ch.StartLine, &ch.EndLine,
			&kind, &ch.FunctionName, &ch.ClassName, &metadata, &created); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		ch.Kind = types.ChunkKind(kind)
		ch.CreatedAt = time.Unix(0, created)
		if ch.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of stored chunks
func (s *SQLiteStore) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// ReadMeta returns the index metadata row, or ErrNoMeta
func (s *SQLiteStore) ReadMeta(ctx context.Context) (*IndexMeta, error) {
	var (
		meta    IndexMeta
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT build_id, dimension, chunk_count, created_at, embedding_provider, embedding_model
		FROM index_meta WHERE id = 1
	`).Scan(&meta.BuildID, &meta.Dimension, &meta.ChunkCount, &created,
		&meta.EmbeddingProvider, &meta.EmbeddingModel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoMeta
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	meta.CreatedAt = time.Unix(0, created)

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	meta.SchemaVersion = version.String()
	return &meta, nil
}

// Health reports the schema version and row counts
func (s *SQLiteStore) Health(ctx context.Context) (*HealthStatus, error) {
	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	count, err := s.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	_, err = s.ReadMeta(ctx)
	if err != nil && !errors.Is(err, ErrNoMeta) {
		return nil, err
	}
	return &HealthStatus{
		SchemaVersion: version.String(),
		BuildMode:     BuildMode,
		ChunkCount:    count,
		HasMeta:       err == nil,
	}, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
