package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/coderag/internal/retrieval"
	"github.com/dshills/coderag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeChunkNotFound      = -32001 // Chunk identifier is not indexed
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Index not built
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

const (
	defaultLimit = 5
	maxLimit     = 100
	maxErrors    = 5

	modeSemantic = "semantic"
	modeKeyword  = "keyword"
)

// handleBuildIndex handles the build_index tool invocation
func (s *Server) handleBuildIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	paths, err := getStringSlice(args, "paths")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "paths must be an array of strings", map[string]interface{}{
			"param":  "paths",
			"reason": err.Error(),
		})
	}

	var report *retrieval.BuildReport
	if len(paths) > 0 {
		report, err = s.pipeline.UpdateIndex(ctx, paths)
	} else {
		report, err = s.pipeline.BuildIndex(ctx)
	}
	if err != nil {
		return nil, s.toMCPError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":     true,
		"build_id":    report.BuildID,
		"index_path":  report.IndexPath,
		"chunks":      report.Chunks,
		"duration_ms": report.Duration.Milliseconds(),
	}
	if len(paths) > 0 {
		response["updated_paths"] = paths
	}
	if st := report.Stats; st != nil {
		response["files_indexed"] = st.FilesIndexed
		response["files_skipped"] = st.FilesSkipped
		response["files_failed"] = st.FilesFailed
		response["chunks_created"] = st.ChunksCreated
		response["languages"] = st.Languages

		if msgs := st.ErrorMessages(); len(msgs) > 0 {
			if len(msgs) > maxErrors {
				response["errors"] = msgs[:maxErrors]
				response["error_count"] = len(msgs)
			} else {
				response["errors"] = msgs
			}
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", defaultLimit)
	if limit < 1 || limit > maxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	searchMode := getStringDefault(args, "search_mode", modeSemantic)
	if searchMode != modeSemantic && searchMode != modeKeyword {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   searchMode,
			"allowed": []string{modeSemantic, modeKeyword},
		})
	}

	start := time.Now()

	if searchMode == modeKeyword {
		hits, err := s.pipeline.KeywordSearch(ctx, query, limit)
		if err != nil {
			return nil, s.toMCPError("search failed", err)
		}
		results := make([]map[string]interface{}, 0, len(hits))
		for i, h := range hits {
			entry := chunkEntry(h.Chunk)
			entry["rank"] = i + 1
			entry["score"] = h.Score
			entry["source"] = string(h.Source)
			results = append(results, entry)
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"query":       query,
			"search_mode": searchMode,
			"total":       len(results),
			"duration_ms": time.Since(start).Milliseconds(),
			"results":     results,
		})), nil
	}

	found, err := s.pipeline.Search(ctx, retrieval.Request{
		Query:          query,
		Expand:         getBoolDefault(args, "expand", false),
		IncludeContext: getBoolDefault(args, "include_context", true),
		TopK:           limit,
	})
	if err != nil {
		return nil, s.toMCPError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(found))
	for i, r := range found {
		results = append(results, resultEntry(i+1, r))
	}

	response := map[string]interface{}{
		"query":       query,
		"search_mode": searchMode,
		"total":       len(results),
		"duration_ms": time.Since(start).Milliseconds(),
		"results":     results,
	}
	if len(found) > 0 && len(found[0].ExpandedQueries) > 0 {
		response["expanded_queries"] = found[0].ExpandedQueries
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info := s.pipeline.SystemInfo()

	response := map[string]interface{}{
		"indexed":           info.IndexLoaded,
		"build_in_progress": info.BuildInProgress,
		"repository":        info.RepoPath,
		"index_path":        info.IndexPath,
		"index": map[string]interface{}{
			"chunks":    info.ChunkCount,
			"dimension": info.Dimension,
			"build_id":  info.BuildID,
		},
		"models": map[string]interface{}{
			"embedding_provider": info.EmbeddingProvider,
			"embedding":          info.EmbeddingModel,
			"reranker":           info.RerankerModel,
			"expansion":          info.ExpansionModel,
		},
		"health": map[string]interface{}{
			"version_control_available": info.VersionControlAvailable,
			"query_expansion_available": info.ExpansionModel != "",
			"cached_responses":          info.CachedResponses,
		},
	}
	if !info.IndexLoaded {
		response["message"] = "Index not built. Use the build_index tool first."
	}

	// The on-disk index can differ from the loaded one after an external rebuild
	if a, err := s.pipeline.Artifacts(ctx); err == nil {
		response["persisted"] = map[string]interface{}{
			"vectors":        a.VectorCount,
			"chunks":         a.ChunkCount,
			"dimension":      a.Dimension,
			"schema_version": a.SchemaVersion,
			"storage_mode":   a.StorageMode,
			"consistent":     a.Consistent(),
		}
	} else if !errors.Is(err, types.ErrIndexNotBuilt) {
		response["persisted_error"] = err.Error()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAnalyzeImpact handles the analyze_impact tool invocation
func (s *Server) handleAnalyzeImpact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	chunkID, ok := args["chunk_id"].(string)
	if !ok || chunkID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "chunk_id parameter is required", map[string]interface{}{
			"param":  "chunk_id",
			"reason": "missing or empty",
		})
	}

	impact, err := s.pipeline.ImpactAnalysis(ctx, chunkID)
	if err != nil {
		return nil, s.toMCPError("impact analysis failed", err)
	}

	recent := make([]map[string]interface{}, 0, len(impact.RecentCommits))
	for i := range impact.RecentCommits {
		recent = append(recent, commitEntry(&impact.RecentCommits[i]))
	}

	response := map[string]interface{}{
		"chunk_id":            chunkID,
		"last_modified_by":    impact.LastModifiedBy,
		"commit_count":        impact.CommitCount,
		"related_files_count": impact.RelatedFilesCount,
		"recent_commits":      recent,
	}
	if !impact.LastModifiedDate.IsZero() {
		response["last_modified_date"] = impact.LastModifiedDate.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func chunkEntry(c types.Chunk) map[string]interface{} {
	entry := map[string]interface{}{
		"chunk_id":   c.ID,
		"file":       c.FilePath,
		"start_line": c.StartLine,
		"end_line":   c.EndLine,
		"language":   c.Language,
		"kind":       string(c.Kind),
		"content":    c.Content,
	}
	if c.FunctionName != "" {
		entry["function"] = c.FunctionName
	}
	if c.ClassName != "" {
		entry["class"] = c.ClassName
	}
	return entry
}

func commitEntry(c *types.CommitContext) map[string]interface{} {
	return map[string]interface{}{
		"hash":    c.Hash,
		"author":  c.Author,
		"date":    c.Date.Format(time.RFC3339),
		"message": c.Message,
	}
}

func resultEntry(rank int, r types.ContextualResult) map[string]interface{} {
	entry := chunkEntry(r.Chunk)
	entry["rank"] = rank
	entry["score"] = r.FinalScore
	entry["reranker_score"] = r.RerankerScore
	entry["retrieval_score"] = r.Score
	entry["source"] = string(r.Source)

	if r.Commit != nil {
		entry["commit"] = commitEntry(r.Commit)
	}
	if len(r.RelatedFiles) > 0 {
		entry["related_files"] = r.RelatedFiles
	}
	if len(r.RelatedChunks) > 0 {
		ids := make([]string, 0, len(r.RelatedChunks))
		for _, rc := range r.RelatedChunks {
			ids = append(ids, rc.Chunk.ID)
		}
		entry["related_chunks"] = ids
	}
	return entry
}

// toMCPError maps pipeline failures onto MCP error codes
func (s *Server) toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", data)
	case errors.Is(err, types.ErrIndexNotBuilt):
		return newMCPError(ErrorCodeNotIndexed, "index not built, run build_index first", data)
	case errors.Is(err, retrieval.ErrBuildInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "an index build is already running", data)
	case errors.Is(err, retrieval.ErrChunkNotFound):
		return newMCPError(ErrorCodeChunkNotFound, "chunk not found", data)
	}
	s.logger.Error(message, slog.String("error", err.Error()))
	return newMCPError(ErrorCodeInternalError, message, data)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the tool arguments; a call without arguments is an empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("element %d is not a non-empty string", i)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected array, got %T", raw)
}
