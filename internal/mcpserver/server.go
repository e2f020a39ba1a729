// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes beetle indexes to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/beetle/internal/service"
	"github.com/starford/beetle/internal/updater"
)

const querySyntaxURI = "beetle://query-syntax"

// Server wraps the MCP server with beetle tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all beetle tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Beetle",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_index",
		mcp.WithDescription("Full-text search over the files of one indexed repository. "+
			"Returns ranked paths with highlighted snippets. See the "+querySyntaxURI+" resource for the query language."),
		mcp.WithString("index", mcp.Required(), mcp.Description("Index name (see list_indexes)")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
	), s.searchIndex)

	s.mcp.AddTool(mcp.NewTool("list_indexes",
		mcp.WithDescription("List every index with its repository path, document count and last update time."),
	), s.listIndexes)

	s.mcp.AddTool(mcp.NewTool("update_index",
		mcp.WithDescription("Bring an index up to date with its repository. "+
			"Incremental mode only reprocesses changed files; full mode rebuilds everything."),
		mcp.WithString("index", mcp.Required(), mcp.Description("Index name")),
		mcp.WithString("mode", mcp.Description("incremental (default) or full"), mcp.Enum("incremental", "full")),
	), s.updateIndex)

	s.mcp.AddResource(
		mcp.NewResource(querySyntaxURI, "Query Syntax",
			mcp.WithResourceDescription("Search language accepted by search_index."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readQuerySyntax,
	)

	return s
}

// ServeStdioContext serves on the given streams until ctx is cancelled or
// in reaches EOF.
func (s *Server) ServeStdioContext(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) searchIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := req.GetInt("limit", 0)

	hits, err := s.svc.Search(ctx, name, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listIndexes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no indexes"), nil
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s\t%s\t%d documents", it.Name, it.TargetPath, it.Documents)
		if it.LastUpdated != nil {
			fmt.Fprintf(&b, "\tupdated %s", it.LastUpdated.Format("2006-01-02 15:04:05Z07:00"))
		}
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) updateIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode, err := updater.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := s.svc.Update(ctx, name, mode)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"updated %s (%s): %d added, %d modified, %d removed, %d indexed, %d skipped in %s",
		name, mode, stats.Added, stats.Modified, stats.Removed, stats.Indexed, stats.Skipped, stats.Duration)), nil
}

func (s *Server) readQuerySyntax(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      querySyntaxURI,
			MIMEType: "text/markdown",
			Text:     QuerySyntax,
		},
	}, nil
}
