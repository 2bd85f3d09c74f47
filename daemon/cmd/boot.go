// Package cmd provides command implementations for the MCPHawk daemon.
package cmd

import (
	"fmt"

	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/services"
)

// Sniff runs live console capture of MCP traffic, optionally co-hosting the
// query server (spec §6: `sniff`).
type Sniff struct {
	Port       int    `help:"capture traffic to/from this TCP port" group:"capture"`
	Filter     string `help:"raw BPF filter expression" group:"capture"`
	AutoDetect bool   `help:"auto-detect MCP traffic by inspecting payloads" group:"capture"`

	WithMCP      bool   `help:"co-host the query server alongside capture"`
	MCPTransport string `enum:"stdio,http" default:"stdio" help:"query server transport when --with-mcp is set"`
	MCPPort      int    `default:"8765" help:"query server port when --mcp-transport=http"`

	Debug bool `help:"enable debug logging"`
}

// Validate enforces that exactly one capture target was chosen.
func (s *Sniff) Validate() error {
	if n := countSet(s.Port != 0, s.Filter != "", s.AutoDetect); n != 1 {
		return fmt.Errorf("exactly one of --port, --filter, or --auto-detect is required")
	}
	return nil
}

// Run executes the sniff command.
func (s *Sniff) Run(ctx *domain.Context) error {
	ctx.Port = s.Port
	ctx.BPFFilter = s.Filter
	if s.Port != 0 {
		ctx.BPFFilter = fmt.Sprintf("tcp port %d", s.Port)
	}
	ctx.AutoDetect = s.AutoDetect
	ctx.WithMCP = s.WithMCP
	ctx.MCPTransport = s.MCPTransport
	ctx.MCPPort = s.MCPPort
	return services.CreateOrchestrator(ctx).RunSniff()
}

// Web runs live capture plus the Live API dashboard, optionally co-hosting
// the query server (spec §6: `web`).
type Web struct {
	Port       int    `help:"capture traffic to/from this TCP port" group:"capture"`
	Filter     string `help:"raw BPF filter expression" group:"capture"`
	AutoDetect bool   `help:"auto-detect MCP traffic by inspecting payloads" group:"capture"`

	NoSniffer bool   `help:"serve historical data only, without live capture"`
	Host      string `default:"127.0.0.1" help:"Live API bind address"`
	WebPort   int    `default:"8080" help:"Live API port"`

	WithMCP      bool   `help:"co-host the query server alongside the dashboard"`
	MCPTransport string `enum:"stdio,http" default:"stdio" help:"query server transport when --with-mcp is set"`
	MCPPort      int    `default:"8765" help:"query server port when --mcp-transport=http"`

	Debug bool `help:"enable debug logging"`
}

// Validate enforces that exactly one capture target was chosen, unless
// --no-sniffer opts out of live capture entirely.
func (w *Web) Validate() error {
	if w.NoSniffer {
		return nil
	}
	if n := countSet(w.Port != 0, w.Filter != "", w.AutoDetect); n != 1 {
		return fmt.Errorf("exactly one of --port, --filter, or --auto-detect is required unless --no-sniffer is set")
	}
	return nil
}

// Run executes the web command.
func (w *Web) Run(ctx *domain.Context) error {
	ctx.Port = w.Port
	ctx.BPFFilter = w.Filter
	if w.Port != 0 {
		ctx.BPFFilter = fmt.Sprintf("tcp port %d", w.Port)
	}
	ctx.AutoDetect = w.AutoDetect
	ctx.NoSniffer = w.NoSniffer
	ctx.WebHost = w.Host
	ctx.WebPort = w.WebPort
	ctx.WithMCP = w.WithMCP
	ctx.MCPTransport = w.MCPTransport
	ctx.MCPPort = w.MCPPort
	return services.CreateOrchestrator(ctx).RunWeb()
}

func countSet(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
