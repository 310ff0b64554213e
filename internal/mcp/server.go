package mcp

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/devmemory/internal/memory"
)

const (
	// ServerName is the MCP server name
	ServerName = "devmemory"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp          *server.MCPServer
	memory       *memory.Service
	logger       *slog.Logger
	defaultLimit int
}

// Options configures a Server
type Options struct {
	Version      string
	DefaultLimit int
	Logger       *slog.Logger
}

// NewServer creates a new MCP server over svc
func NewServer(svc *memory.Service, opts Options) *Server {
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > MaxLimit {
		opts.DefaultLimit = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:          mcpServer,
		memory:       svc,
		logger:       opts.Logger,
		defaultLimit: opts.DefaultLimit,
	}
	s.registerTools()

	return s
}

// Serve runs the MCP server on stdio until ctx ends or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.Listen(ctx, os.Stdin, os.Stdout)
}

// Listen runs the MCP server over the given streams
func (s *Server) Listen(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp server listening", "transport", "stdio")
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)
	s.mcp.AddTool(saveTool(), s.handleSave)
	s.mcp.AddTool(getTool(), s.handleGet)
	s.mcp.AddTool(listTool(), s.handleList)
	s.mcp.AddTool(deleteTool(), s.handleDelete)
	s.mcp.AddTool(projectsTool(), s.handleProjects)
	s.mcp.AddTool(recentTool(), s.handleRecent)
}
