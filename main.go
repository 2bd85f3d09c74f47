// Package main is the entry point for MCPHawk, a passive observability tool
// for the Model Context Protocol.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tech4242/mcphawk/daemon/cmd"
	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/logger"
	"github.com/tech4242/mcphawk/daemon/services"
)

// Version is the application version, set at build time via ldflags.
var Version = "dev"

var cli struct {
	LogsDir       string `default:"/var/log/mcphawk" help:"directory to store logs"`
	StorePath     string `default:"/var/lib/mcphawk/mcphawk.db" help:"SQLite message store path"`
	Debug         bool   `default:"false" help:"enable debug mode with stdout logging"`
	LogLevel      string `default:"info" help:"log level: debug, info, warning, error"`
	ExcludedPorts []int  `help:"TCP ports to exclude from capture (comma-separated)"`

	CORSOrigin string `default:"*" env:"CORS_ORIGIN" help:"Access-Control-Allow-Origin value"`

	Sniff cmd.Sniff `cmd:"" help:"live console capture of MCP traffic"`
	Web   cmd.Web   `cmd:"" help:"live capture plus an HTTP dashboard"`
	MCP   cmd.MCP   `cmd:"" help:"run the query server standalone"`
	Wrap  cmd.Wrap  `cmd:"" help:"run the stdio wrapper around an MCP server command"`
}

// cleanupOldLogs removes old rotated log files from previous versions.
// lumberjack's MaxBackups only prevents new backups, it doesn't clean up
// existing ones from before the setting was changed.
func cleanupOldLogs(logsDir, baseName string) {
	pattern := filepath.Join(logsDir, baseName+"-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, f := range files {
		_ = os.Remove(f)
	}
}

func main() {
	kctx := kong.Parse(&cli)

	// Detect stdio-sensitive modes: stdout is reserved for JSON-RPC traffic
	// proxying (wrap) or the MCP protocol itself (mcp --transport=stdio).
	command := kctx.Command()
	isStdio := strings.HasPrefix(command, "wrap") ||
		(strings.HasPrefix(command, "mcp") && cli.MCP.Transport == "stdio") ||
		(strings.HasPrefix(command, "sniff") && cli.Sniff.WithMCP && cli.Sniff.MCPTransport == "stdio") ||
		(strings.HasPrefix(command, "web") && cli.Web.WithMCP && cli.Web.MCPTransport == "stdio")

	fileCfg, err := domain.LoadConfigFile(domain.DefaultConfigPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "WARNING: failed to load config file: %v\n", err)
	}
	applyFileConfig(fileCfg)

	switch strings.ToLower(cli.LogLevel) {
	case "debug":
		logger.SetLevel(logger.LevelDebug)
	case "info":
		logger.SetLevel(logger.LevelInfo)
	case "warning", "warn":
		logger.SetLevel(logger.LevelWarning)
	case "error":
		logger.SetLevel(logger.LevelError)
	default:
		logger.SetLevel(logger.LevelInfo)
	}

	if isStdio {
		// Stdio-sensitive mode: stdout is reserved, log to file + stderr only.
		cleanupOldLogs(cli.LogsDir, "mcphawk")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcphawk.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stderr))
	} else if cli.Debug {
		log.SetOutput(os.Stdout)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		logger.SetLevel(logger.LevelDebug)
		log.Println("Debug mode enabled - logging to stdout")
	} else {
		cleanupOldLogs(cli.LogsDir, "mcphawk")
		fileLogger := &lumberjack.Logger{
			Filename:   filepath.Join(cli.LogsDir, "mcphawk.log"),
			MaxSize:    5,
			MaxBackups: 1,
			MaxAge:     1,
			Compress:   false,
		}
		log.SetOutput(io.MultiWriter(fileLogger, os.Stdout))
	}

	log.Printf("Starting MCPHawk v%s (log level: %s)", Version, cli.LogLevel)

	appCtx := &domain.Context{
		Hub: domain.NewEventBus(1024),
		Config: domain.Config{
			Version:       Version,
			StorePath:     cli.StorePath,
			ExcludedPorts: cli.ExcludedPorts,
			CORSOrigin:    cli.CORSOrigin,
		},
	}

	err = kctx.Run(appCtx)
	if err != nil {
		if errors.Is(err, services.ErrInterrupted) {
			os.Exit(130)
		}
		_, _ = fmt.Fprintf(os.Stderr, "mcphawk: %v\n", err)
		os.Exit(1)
	}
}

// applyFileConfig merges config file values into the CLI struct.
// Only fields not explicitly set via CLI/env are overridden. Kong sets
// fields to their declared defaults before parsing, so file config values
// are applied after kong.Parse to fill in non-defaulted values: CLI flag >
// env var > config file > struct default.
func applyFileConfig(cfg *domain.FileConfig) {
	if cfg == nil {
		return
	}

	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}

	setStr(&cli.LogsDir, cfg.LogsDir)
	setStr(&cli.LogLevel, cfg.LogLevel)
	setBool(&cli.Debug, cfg.Debug)
	setStr(&cli.StorePath, cfg.StorePath)
	setStr(&cli.CORSOrigin, cfg.CORSOrigin)
	if cfg.ExcludedPorts != nil {
		cli.ExcludedPorts = cfg.ExcludedPorts
	}

	setStr(&cli.Sniff.Filter, cfg.BPFFilter)
	setInt(&cli.Sniff.Port, cfg.Port)
	setBool(&cli.Sniff.AutoDetect, cfg.AutoDetect)
	setBool(&cli.Sniff.WithMCP, cfg.WithMCP)
	setStr(&cli.Sniff.MCPTransport, cfg.MCPTransport)
	setInt(&cli.Sniff.MCPPort, cfg.MCPPort)

	setStr(&cli.Web.Filter, cfg.BPFFilter)
	setInt(&cli.Web.Port, cfg.Port)
	setBool(&cli.Web.AutoDetect, cfg.AutoDetect)
	setBool(&cli.Web.NoSniffer, cfg.NoSniffer)
	setStr(&cli.Web.Host, cfg.WebHost)
	setInt(&cli.Web.WebPort, cfg.WebPort)
	setBool(&cli.Web.WithMCP, cfg.WithMCP)
	setStr(&cli.Web.MCPTransport, cfg.MCPTransport)
	setInt(&cli.Web.MCPPort, cfg.MCPPort)

	setStr(&cli.MCP.Transport, cfg.MCPTransport)
	setInt(&cli.MCP.MCPPort, cfg.MCPPort)
}
