package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/coderag/internal/logging"
	"github.com/dshills/coderag/internal/retrieval"
	"github.com/dshills/coderag/internal/vectorindex"
	"github.com/dshills/coderag/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "coderag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Pipeline is the retrieval surface the tools call into
type Pipeline interface {
	Search(ctx context.Context, req retrieval.Request) ([]types.ContextualResult, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]types.RetrievalResult, error)
	BuildIndex(ctx context.Context) (*retrieval.BuildReport, error)
	UpdateIndex(ctx context.Context, paths []string) (*retrieval.BuildReport, error)
	SystemInfo() retrieval.Info
	Artifacts(ctx context.Context) (*vectorindex.Artifacts, error)
	ImpactAnalysis(ctx context.Context, chunkID string) (types.ImpactAnalysis, error)
}

var _ Pipeline = (*retrieval.Orchestrator)(nil)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	pipeline Pipeline
	logger   *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(p Pipeline, logger *slog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		pipeline: p,
		logger:   logging.OrDefault(logger),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol over in and out until ctx is cancelled or in closes
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(buildIndexTool(), s.handleBuildIndex)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(analyzeImpactTool(), s.handleAnalyzeImpact)
}
