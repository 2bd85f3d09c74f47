package cmd

import (
	"fmt"
	"os"

	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/services"
)

// Wrap runs the stdio wrapper around the given MCP server command, tapping
// both stdio directions for JSON-RPC traffic while proxying every byte
// transparently (spec §6: `wrap`).
type Wrap struct {
	Command []string `arg:"" required:"" passthrough:"" help:"MCP server command to launch and wrap"`
}

// Run executes the wrap command. It exits the process directly with the
// wrapped child's exit code (spec §4.6) rather than returning, since Kong's
// error path always exits with status 1.
func (w *Wrap) Run(ctx *domain.Context) error {
	code, err := services.CreateOrchestrator(ctx).RunWrap(w.Command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcphawk wrap: %v\n", err)
	}
	os.Exit(code)
	return nil
}
