// Package indexer walks a repository and turns its source files into chunks.
//
// # Basic Usage
//
//	idx := indexer.New(chunker, logger)
//	chunks, stats, err := idx.IngestRepository(ctx, "/path/to/repo", &indexer.Config{
//	    IncludeExtensions: []string{".py", ".go"},
//	    ExcludePatterns:   []string{"node_modules", ".git"},
//	})
//	fmt.Printf("%d files, %d chunks in %v\n", stats.FilesIndexed, stats.ChunksCreated, stats.Duration)
//
// # Filtering
//
// A file is ingested when its extension is listed in IncludeExtensions and no
// exclude pattern occurs, case-insensitively, in its path relative to the root.
// Excluded directories are not descended into.
//
// # Concurrent Processing
//
// Files are chunked by a bounded worker pool (errgroup plus a semaphore channel).
// Each worker writes into its own result slot, so the chunk order is the sorted
// file order no matter how the work interleaves.
//
// # Error Handling
//
// A file that cannot be read or decoded becomes a types.IngestionError in
// Statistics.Errors and is skipped. Only discovery failures and context
// cancellation abort a run.
//
// IndexLock serializes whole-index rebuilds between callers.
package indexer
