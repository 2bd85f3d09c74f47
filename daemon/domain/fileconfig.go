package domain

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// DefaultConfigPath is the standard location for the config file.
const DefaultConfigPath = "/etc/mcphawk/config.yml"

// FileConfig represents the YAML configuration file structure.
// Values set in the config file serve as defaults that can be overridden
// by CLI flags and environment variables.
type FileConfig struct {
	LogLevel *string `yaml:"log_level,omitempty"`
	LogsDir  *string `yaml:"logs_dir,omitempty"`
	Debug    *bool   `yaml:"debug,omitempty"`

	BPFFilter     *string `yaml:"bpf_filter,omitempty"`
	Port          *int    `yaml:"port,omitempty"`
	AutoDetect    *bool   `yaml:"auto_detect,omitempty"`
	ExcludedPorts []int   `yaml:"excluded_ports,omitempty"`

	StorePath *string `yaml:"store_path,omitempty"`

	WithMCP      *bool   `yaml:"with_mcp,omitempty"`
	MCPTransport *string `yaml:"mcp_transport,omitempty"`
	MCPPort      *int    `yaml:"mcp_port,omitempty"`

	NoSniffer  *bool   `yaml:"no_sniffer,omitempty"`
	WebHost    *string `yaml:"web_host,omitempty"`
	WebPort    *int    `yaml:"web_port,omitempty"`
	CORSOrigin *string `yaml:"cors_origin,omitempty"`
}

// LoadConfigFile reads and parses a YAML config file.
// Returns nil without error if the file does not exist.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is a trusted config file path, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &cfg, nil
}
