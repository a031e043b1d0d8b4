package server

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kwalarm/kit"
)

// Version is reported as the MCP implementation version.
const Version = "0.1.0"

// MCPServer returns a new MCP server carrying the kwalarm tools.
func (s *Server) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "kwalarm", Version: Version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the kwalarm tools on srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	noArgs := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kwalarm_status",
		Description: "Scan coordinator status: page URL, active keywords, counters and the current alert.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.status, noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kwalarm_set_keywords",
		Description: "Replace the keyword list and rescan. Pass keywords as a list, or text with one phrase per line.",
		InputSchema: kit.InputSchema(map[string]any{
			"keywords": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Phrases to flag"},
			"text":     map[string]any{"type": "string", "description": "Phrases, one per line"},
		}),
	}, s.setKeywords, kit.DecodeArgs[KeywordsRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kwalarm_rescan",
		Description: "Force a rescan of the current page.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.rescan, noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kwalarm_reset",
		Description: "Withdraw the alert and highlights, then rescan.",
		InputSchema: kit.InputSchema(map[string]any{}),
	}, s.reset, noArgs)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "kwalarm_report",
		Description: "Export the scanned content with matches highlighted.",
		InputSchema: kit.InputSchema(map[string]any{
			"format": map[string]any{"type": "string", "enum": []string{FormatJSON, FormatMarkdown, FormatHTML}, "description": "Default json"},
		}),
	}, s.report, kit.DecodeArgs[ReportRequest])
}

// ServeStdio serves the MCP tools on stdin/stdout until ctx ends.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.MCPServer().Run(ctx, &mcp.StdioTransport{})
}
