package wrapper

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
)

// gracePeriod is how long the wrapper waits after interrupting the child
// (os.Interrupt) before SIGKILL
// (spec §4.6: "a grace period, then SIGKILL").
const gracePeriod = 5 * time.Second

// Wrapper transparently interposes on a child MCP server's stdio, forwarding
// every byte while tapping both directions for JSON-RPC messages (spec
// §4.6). Each direction is forwarded and scanned by its own goroutine; the
// goroutines are the sole owners of their buffers (spec §5).
type Wrapper struct {
	command []string

	mu         sync.Mutex
	serverName, serverVersion string
	clientName, clientVersion string

	fallbackName, fallbackVersion string

	onRecord func(*dto.MessageRecord)
}

// New builds a Wrapper for the given command line.
func New(command []string, onRecord func(*dto.MessageRecord)) *Wrapper {
	w := &Wrapper{command: command, onRecord: onRecord}
	if name, version, ok := DetectServerFromCommand(command); ok {
		w.fallbackName, w.fallbackVersion = name, version
	}
	return w
}

// Run spawns the child, wires up stdin/stdout/stderr forwarding, and blocks
// until the child exits or ctx is cancelled. It returns the child's exit
// code (spec §4.6: "On child exit, the wrapper exits with the child's exit
// code").
func (w *Wrapper) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if len(w.command) == 0 {
		return 1, fmt.Errorf("wrapper: empty command")
	}

	cmd := exec.Command(w.command[0], w.command[1:]...)
	childIn, err := cmd.StdinPipe()
	if err != nil {
		return 1, fmt.Errorf("wrapper: stdin pipe: %w", err)
	}
	childOut, err := cmd.StdoutPipe()
	if err != nil {
		return 1, fmt.Errorf("wrapper: stdout pipe: %w", err)
	}
	childErr, err := cmd.StderrPipe()
	if err != nil {
		return 1, fmt.Errorf("wrapper: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		logger.Error("failed to start MCP server: %v", err)
		return 1, fmt.Errorf("wrapper: start: %w", err)
	}
	logger.Info("started MCP server: %s", strings.Join(w.command, " "))

	pid := cmd.Process.Pid

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer childIn.Close()
		w.forwardAndScan(stdin, childIn, dto.DirectionOutgoing, pid)
	}()
	go func() {
		defer wg.Done()
		w.forwardAndScan(childOut, stdout, dto.DirectionIncoming, pid)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(stderr, childErr)
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		w.terminate(cmd)
		<-waitDone
		wg.Wait()
		return 130, ctx.Err()
	case err := <-waitDone:
		wg.Wait()
		return exitCode(err), nil
	}
}

// terminate propagates termination to the child with a grace period before
// escalating to SIGKILL (spec §4.6).
func (w *Wrapper) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(gracePeriod):
		_ = cmd.Process.Kill()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := exitErrorAs(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return 1
}

func exitErrorAs(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// forwardAndScan copies src to dst byte-for-byte while feeding a copy of
// every chunk to a Scanner, emitting a Message Record for each complete
// JSON-RPC object found (spec §4.6). Decode errors and non-JSON output are
// swallowed silently; forwarding is never interrupted (spec §4.6 Errors).
func (w *Wrapper) forwardAndScan(src io.Reader, dst io.Writer, direction dto.Direction, pid int) {
	scanner := NewScanner()
	buf := make([]byte, 4096)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				return
			}
			for _, obj := range scanner.Feed(chunk) {
				w.handleMessage(obj, direction, pid)
			}
		}
		if readErr != nil {
			return
		}
	}
}

func (w *Wrapper) handleMessage(raw string, direction dto.Direction, pid int) {
	if !dto.IsWellFormedJSONRPC(raw) {
		return
	}

	if direction == dto.DirectionOutgoing {
		if name, version, ok := dto.ExtractClientInfo(raw); ok {
			w.mu.Lock()
			w.clientName, w.clientVersion = name, version
			w.mu.Unlock()
		}
	} else {
		if name, version, ok := dto.ExtractServerInfo(raw); ok {
			w.mu.Lock()
			w.serverName, w.serverVersion = name, version
			w.mu.Unlock()
		}
	}

	w.mu.Lock()
	serverName, serverVersion := MergeServerInfo(w.fallbackName, w.fallbackVersion, w.serverName, w.serverVersion)
	clientName, clientVersion := w.clientName, w.clientVersion
	w.mu.Unlock()

	srcIP, dstIP, stream := "mcp-client", "mcp-server", "stdin"
	if direction == dto.DirectionIncoming {
		srcIP, dstIP, stream = "mcp-server", "mcp-client", "stdout"
	}

	rec := &dto.MessageRecord{
		LogID:         uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		SrcIP:         srcIP,
		DstIP:         dstIP,
		PID:           &pid,
		Direction:     direction,
		TransportType: dto.TransportStdio,
		Message:       raw,
		Metadata: &dto.RecordMetadata{
			ServerName:     serverName,
			ServerVersion:  serverVersion,
			ClientName:     clientName,
			ClientVersion:  clientVersion,
			WrappedCommand: strings.Join(w.command, " "),
			StreamName:     stream,
		},
	}
	w.onRecord(rec)
	logger.Debug("captured %s JSON-RPC: %s", direction, dto.ExtractMethod(raw))
}
