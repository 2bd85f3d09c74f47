package cmd

import (
	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/services"
)

// MCP runs the query server standalone, over stdio or Streamable HTTP
// (spec §6: `mcp`).
//
// Usage in an MCP client config (stdio transport):
//
//	{
//	  "mcpServers": {
//	    "mcphawk": {
//	      "command": "mcphawk",
//	      "args": ["mcp", "--transport=stdio"]
//	    }
//	  }
//	}
type MCP struct {
	Transport string `enum:"stdio,http" default:"stdio" help:"query server transport"`
	MCPPort   int    `default:"8765" help:"query server port when --transport=http"`
}

// Run executes the mcp command.
func (m *MCP) Run(ctx *domain.Context) error {
	ctx.MCPTransport = m.Transport
	ctx.MCPPort = m.MCPPort
	return services.CreateOrchestrator(ctx).RunMCP()
}
