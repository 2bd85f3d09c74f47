// Package mcp implements MCPHawk's Query Server (C8): the message store and
// analytics engine exposed as an MCP server in their own right, speaking
// JSON-RPC 2.0 over stdio or Streamable HTTP (spec §4.8).
//
// Built on the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk),
// which owns session management, notification semantics (requests without
// an id never receive a response), and the Streamable HTTP dual-Accept
// wire format, so this package only needs to register tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tech4242/mcphawk/daemon/analytics"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
	"github.com/tech4242/mcphawk/daemon/store"
)

// emptyArgs is the tool input shape for tools that take no arguments.
type emptyArgs struct{}

// queryTrafficArgs is the input for query_traffic.
type queryTrafficArgs struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// getLogArgs is the input for get_log.
type getLogArgs struct {
	LogID string `json:"log_id"`
}

// searchTrafficArgs is the input for search_traffic.
type searchTrafficArgs struct {
	SearchTerm    string `json:"search_term"`
	MessageType   string `json:"message_type,omitempty"`
	TransportType string `json:"transport_type,omitempty"`
	Limit         int    `json:"limit"`
}

// Server is MCPHawk's query server: the store and analytics engine exposed
// as MCP tools (spec §4.8).
type Server struct {
	version     string
	store       *store.Store
	analytics   *analytics.Engine
	mcpServer   *mcp.Server
	httpHandler *mcp.StreamableHTTPHandler
}

// NewServer builds a query server over store and an analytics engine
// derived from it.
func NewServer(version string, st *store.Store) *Server {
	return &Server{version: version, store: st, analytics: analytics.New(st)}
}

// Initialize registers all tools and builds the Streamable HTTP handler.
func (s *Server) Initialize() error {
	s.mcpServer = mcp.NewServer(
		&mcp.Implementation{Name: "mcphawk-query", Version: s.version},
		&mcp.ServerOptions{
			Instructions: "Query server over MCPHawk's captured MCP traffic: page and search " +
				"recorded messages, fetch a single record by id, and run aggregate analytics.",
		},
	)

	s.registerTools()

	s.httpHandler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcpServer },
		nil,
	)

	logger.Info("mcp: query server initialized with 5 tools")
	return nil
}

// GetHTTPHandler returns the Streamable HTTP handler, accepting dual-Accept
// clients and responding 204 to notifications per spec §6.
func (s *Server) GetHTTPHandler() http.Handler {
	if s.httpHandler == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "query server not initialized", http.StatusInternalServerError)
		})
	}
	return s.httpHandler
}

// RunSTDIO runs the query server over stdin/stdout until ctx is cancelled
// or the pipe closes.
func (s *Server) RunSTDIO(ctx context.Context) error {
	if s.mcpServer == nil {
		return fmt.Errorf("query server not initialized")
	}
	logger.Info("mcp: query server STDIO transport starting")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_traffic",
		Description: "Page through captured MCP traffic, newest first, stable under concurrent inserts",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args queryTrafficArgs) (*mcp.CallToolResult, any, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 50
		}
		recs, err := s.store.FetchPage(ctx, limit, args.Offset)
		if err != nil {
			return errResult(err), nil, nil
		}
		return jsonResult(recs)
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_log",
		Description: "Fetch one captured record by its log_id",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args getLogArgs) (*mcp.CallToolResult, any, error) {
		rec, err := s.store.GetByID(ctx, args.LogID)
		if err != nil {
			return textResult(fmt.Sprintf("log_id %q not found", args.LogID)), nil, nil
		}
		return jsonResult(rec)
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_traffic",
		Description: "Substring-search captured traffic, optionally narrowed by message type and/or transport",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchTrafficArgs) (*mcp.CallToolResult, any, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 50
		}
		recs, err := s.store.Search(ctx, args.SearchTerm, store.SearchFilters{
			MessageType:   dto.MessageType(args.MessageType),
			TransportType: dto.TransportType(args.TransportType),
		}, limit)
		if err != nil {
			return errResult(err), nil, nil
		}
		return jsonResult(recs)
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_stats",
		Description: "Totals, message-type counts, and by-transport counts across all captured traffic",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
		byType, totalErrors, err := s.analytics.MessageTypeDistribution(ctx, nil, nil, "")
		if err != nil {
			return errResult(err), nil, nil
		}
		byTransport, err := s.analytics.TransportDistribution(ctx, nil, nil)
		if err != nil {
			return errResult(err), nil, nil
		}
		total := 0
		for _, t := range byTransport {
			total += t.Count
		}
		return jsonResult(map[string]any{
			"total_records": total,
			"total_errors":  totalErrors,
			"by_message_type": byType,
			"by_transport":     byTransport,
		})
	})

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_methods",
		Description: "Sorted list of unique JSON-RPC methods observed across all captured traffic",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ emptyArgs) (*mcp.CallToolResult, any, error) {
		counts, _, err := s.analytics.MethodFrequency(ctx, 0, nil, nil, analytics.Filters{})
		if err != nil {
			return errResult(err), nil, nil
		}
		methods := make([]string, len(counts))
		for i, c := range counts {
			methods[i] = c.Method
		}
		sort.Strings(methods)
		return jsonResult(methods)
	})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

// jsonResult matches the teacher's convention of returning JSON-formatted
// text content rather than a typed structured result, so any MCP client
// renders it directly.
func jsonResult(data any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult(err), nil, nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}}, nil, nil
}
