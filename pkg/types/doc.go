// Package types provides the shared domain types of the retrieval pipeline.
//
// # Core Types
//
// Chunk is the unit of indexing: a contiguous fragment of a source file with a
// stable identifier derived from its path and ordinal:
//
//	chunk := types.Chunk{
//	    ID:           types.ChunkID("auth/login.py", 0),
//	    FilePath:     "auth/login.py",
//	    StartLine:    3,
//	    EndLine:      7,
//	    FunctionName: "authenticate_user",
//	}
//
// Results flow through three stages, each embedding the previous one:
//
//	RetrievalResult  -> chunk + retriever score + provenance
//	RankedResult     -> + pairwise score + fused final score
//	ContextualResult -> + commit context and related files
//
// # Errors
//
// Pipeline failures are reported through sentinel errors (ErrIndexNotBuilt,
// ErrIndexCorrupted, ErrCapabilityUnavailable, ErrInvalidConfig) and typed
// wrappers that unwrap to them, so callers match with errors.Is and errors.As:
//
//	var cerr *types.CapabilityError
//	if errors.As(err, &cerr) {
//	    // degrade
//	}
package types
