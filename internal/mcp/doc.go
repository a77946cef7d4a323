// Package mcp implements the Model Context Protocol (MCP) server for coderag.
//
// The server exposes the retrieval pipeline to AI coding assistants:
//   - build_index: build the index for the configured repository, or refresh given files
//   - search_code: semantic or keyword search with reranking and commit context
//   - get_status: index state, configured models and version control availability
//   - analyze_impact: change history summary for the file holding a chunk
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command:
//
//	coderag serve
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "where are passwords hashed",
//	    "limit": 5,
//	    "expand": true,
//	    "include_context": true
//	  }
//	}
//
//	Response:
//	{
//	  "query": "where are passwords hashed",
//	  "search_mode": "semantic",
//	  "total": 1,
//	  "expanded_queries": ["password hashing function"],
//	  "results": [
//	    {
//	      "rank": 1,
//	      "chunk_id": "auth/hash.py_0",
//	      "file": "auth/hash.py",
//	      "start_line": 12,
//	      "end_line": 30,
//	      "function": "hash_password",
//	      "score": 0.83,
//	      "commit": {"hash": "a1b2c3d", "author": "alice", ...},
//	      "related_files": ["auth/login.py"]
//	    }
//	  ]
//	}
//
// # Error Handling
//
// Handler failures are returned as *MCPError values and surface as JSON-RPC errors:
//
//	-32602: Invalid params (bad limit, search_mode or paths)
//	-32603: Internal error (ingestion, embedding or persistence failure)
//	-32001: Chunk not found
//	-32002: Index build already in progress
//	-32003: Index not built
//	-32004: Empty query
//
// Expansion, reranking and enrichment failures never fail a search. The
// pipeline degrades to unexpanded queries, retrieval order and plain results.
package mcp
