package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// buildIndexTool returns the tool definition for build_index
func buildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "build_index",
		Description: "Build the code search index for the configured repository, or refresh specific files",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Files to re-index, relative to the repository root. When omitted the whole repository is rebuilt.",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed repository with a natural language query. Results are reranked and can carry commit history.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
				"expand": map[string]interface{}{
					"type":        "boolean",
					"description": "Rewrite the query into alternatives with the configured language model",
					"default":     false,
				},
				"include_context": map[string]interface{}{
					"type":        "boolean",
					"description": "Attach the last commit touching each result and files that change with it",
					"default":     true,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic (vector retrieval and reranking) or keyword (stemmed term frequency)",
					"enum":        []string{"semantic", "keyword"},
					"default":     "semantic",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index state, configured models and version control availability",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// analyzeImpactTool returns the tool definition for analyze_impact
func analyzeImpactTool() mcp.Tool {
	return mcp.Tool{
		Name:        "analyze_impact",
		Description: "Summarize the change history of the file holding an indexed chunk",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"chunk_id": map[string]interface{}{
					"type":        "string",
					"description": "Chunk identifier as returned by search_code",
				},
			},
			Required: []string{"chunk_id"},
		},
	}
}
