// Package retrieval coordinates the search pipeline: optional query
// expansion, concurrent vector retrieval, deduplication, pairwise
// reranking and history enrichment. It also owns the index lifecycle
// (build, load, incremental update) for a single repository.
package retrieval
