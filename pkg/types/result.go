package types

import "time"

// Source identifies which retriever produced a result
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceKeyword  Source = "keyword"
	// SourceRelated marks chunks attached because their file changes together with a result
	SourceRelated Source = "related"
)

// RetrievalResult pairs a chunk with the relevance score of the retriever that found it.
// For semantic retrieval higher is better and the score lies in (0, 1].
type RetrievalResult struct {
	Chunk  Chunk
	Score  float64
	Source Source
}

// RankedResult is a retrieval result after pairwise rescoring and fusion.
type RankedResult struct {
	RetrievalResult
	RerankerScore float64
	FinalScore    float64
}

// CommitContext describes a single commit relevant to a chunk
type CommitContext struct {
	Hash         string // 7-character short hash
	Author       string
	Date         time.Time
	Message      string
	ChangedFiles []string
	Insertions   int
	Deletions    int
}

// ContextualResult is a ranked result decorated with history context.
// Absent context is represented by a nil Commit and empty slices, never an error.
type ContextualResult struct {
	RankedResult
	Commit          *CommitContext
	RelatedFiles    []string
	RelatedChunks   []RetrievalResult
	ExpandedQueries []string
}

// QueryExpansionResult holds the alternatives produced by a query rewrite
type QueryExpansionResult struct {
	Original     string
	Alternatives []string
	Rationale    string
}

// Queries returns the original query followed by its alternatives.
func (q QueryExpansionResult) Queries() []string {
	out := make([]string, 0, len(q.Alternatives)+1)
	out = append(out, q.Original)
	out = append(out, q.Alternatives...)
	return out
}

// ImpactAnalysis summarizes the change history around a chunk.
type ImpactAnalysis struct {
	LastModifiedBy    string
	LastModifiedDate  time.Time
	CommitCount       int
	RelatedFilesCount int
	RecentCommits     []CommitContext
}

// Validate checks if the retrieval result is valid
func (r *RetrievalResult) Validate() error {
	if r.Chunk.ID == "" {
		return ErrInvalidChunkID
	}

	if r.Chunk.Content == "" {
		return ErrEmptyContent
	}

	switch r.Source {
	case SourceSemantic, SourceKeyword, SourceRelated:
	default:
		return ErrInvalidSource
	}

	return nil
}
