// Package reranker reorders retrieval results with a pairwise (query, text)
// relevance scorer and fuses the pairwise score with the retrieval score.
//
// Scorers are pluggable: JinaScorer calls a hosted cross-encoder and
// LexicalScorer works offline from stemmed term coverage.
package reranker
