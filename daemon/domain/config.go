// Package domain provides core domain models and configuration structures for MCPHawk.
package domain

// Config holds the application configuration settings shared by every
// subcommand. CLI flags populate it directly; LoadConfigFile supplies
// defaults for anything the CLI left at its zero value.
type Config struct {
	Version string `json:"version"`

	// Capture (C5)
	BPFFilter     string `json:"bpf_filter"`
	Port          int    `json:"port"`
	AutoDetect    bool   `json:"auto_detect"`
	ExcludedPorts []int  `json:"excluded_ports"`

	// Persistence (C1)
	StorePath string `json:"store_path"`

	// Query server (C8)
	WithMCP      bool   `json:"with_mcp"`
	MCPTransport string `json:"mcp_transport"` // "stdio" or "http"
	MCPPort      int    `json:"mcp_port"`

	// Live API (C9)
	NoSniffer  bool   `json:"no_sniffer"`
	WebHost    string `json:"web_host"`
	WebPort    int    `json:"web_port"`
	CORSOrigin string `json:"cors_origin"`
}

// ExcludedPortSet returns the configured excluded ports as a lookup set,
// including the MCP port when the query server is co-hosted over HTTP so
// the capture engine never observes its own traffic.
func (c Config) ExcludedPortSet() map[int]bool {
	set := make(map[int]bool, len(c.ExcludedPorts)+1)
	for _, p := range c.ExcludedPorts {
		set[p] = true
	}
	if c.WithMCP && c.MCPTransport == "http" {
		set[c.MCPPort] = true
	}
	return set
}
