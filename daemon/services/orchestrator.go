// Package services provides the orchestration layer wiring MCPHawk's
// components (C1-C9) into the four CLI subcommands: sniff, web, mcp, wrap.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tech4242/mcphawk/daemon/capture"
	"github.com/tech4242/mcphawk/daemon/constants"
	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
	"github.com/tech4242/mcphawk/daemon/services/api"
	"github.com/tech4242/mcphawk/daemon/services/mcp"
	"github.com/tech4242/mcphawk/daemon/store"
	"github.com/tech4242/mcphawk/daemon/wrapper"
)

// ErrInterrupted is returned by the Run* methods when shutdown was triggered
// by SIGINT rather than SIGTERM, so main can map it to the conventional 130
// exit code (spec §6).
var ErrInterrupted = errors.New("interrupted")

// shutdownCtx tracks which OS signal triggered cancellation, written once
// before Cancel closes Ctx's Done channel, and safe to read afterward.
type shutdownCtx struct {
	Ctx    context.Context
	Cancel context.CancelFunc
	got    os.Signal
}

// Interrupted reports whether the shutdown was triggered by SIGINT, for
// mapping to the conventional 130 exit code (spec §6).
func (s *shutdownCtx) Interrupted() bool {
	return s.got == syscall.SIGINT
}

// waitForShutdown returns a context cancelled on SIGINT or SIGTERM.
func waitForShutdown() *shutdownCtx {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(context.Background())
	s := &shutdownCtx{Ctx: ctx}
	go func() {
		s.got = <-ch
		cancel()
	}()
	s.Cancel = func() {
		signal.Stop(ch)
		cancel()
	}
	return s
}

// Orchestrator coordinates the lifecycle of the store, capture engine,
// query server, and Live API for one subcommand invocation, and handles
// graceful shutdown.
type Orchestrator struct {
	ctx   *domain.Context
	store *store.Store
}

// CreateOrchestrator creates a new orchestrator with the given context.
func CreateOrchestrator(ctx *domain.Context) *Orchestrator {
	return &Orchestrator{ctx: ctx}
}

func (o *Orchestrator) openStore() error {
	st, err := store.Open(o.ctx.StorePath)
	if err != nil {
		return fmt.Errorf("opening message store: %w", err)
	}
	o.store = st
	return nil
}

// RunSniff drives the packet capture engine (C5) alone, co-hosting the
// query server (C8) if ctx.WithMCP is set, until a shutdown signal
// (spec §6: `sniff`).
func (o *Orchestrator) RunSniff() error {
	logger.Info("Starting MCPHawk v%s (sniff mode)", o.ctx.Version)

	if err := o.openStore(); err != nil {
		return err
	}
	defer o.store.Close()

	var wg sync.WaitGroup
	sh := waitForShutdown()
	defer sh.Cancel()
	ctx := sh.Ctx

	engine := o.newCaptureEngine()
	wg.Go(func() {
		if err := engine.Run(ctx, "", o.ctx.BPFFilter); err != nil && ctx.Err() == nil {
			logger.Error("Capture engine stopped: %v", err)
		}
	})
	logger.Success("Capture engine started")

	if o.ctx.WithMCP {
		wg.Go(func() {
			if err := o.runQueryServer(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Query server stopped: %v", err)
			}
		})
		logger.Success("Query server started (%s)", o.ctx.MCPTransport)
	}

	<-ctx.Done()
	logger.Warning("Received shutdown signal, shutting down...")
	wg.Wait()
	logger.Info("Shutdown complete")
	if sh.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

// RunWeb drives the capture engine (C5, unless NoSniffer) plus the Live API
// (C9), optionally co-hosting the query server, until a shutdown signal
// (spec §6: `web`).
func (o *Orchestrator) RunWeb() error {
	logger.Info("Starting MCPHawk v%s (web mode)", o.ctx.Version)

	if err := o.openStore(); err != nil {
		return err
	}
	defer o.store.Close()

	var wg sync.WaitGroup
	sh := waitForShutdown()
	defer sh.Cancel()
	ctx := sh.Ctx

	apiServer := api.NewServer(o.ctx, o.store)
	apiServer.StartSubscriptions()
	<-apiServer.Ready()
	logger.Success("Live API subscriptions ready")

	if !o.ctx.NoSniffer {
		engine := o.newCaptureEngine()
		apiServer.SetCaptureEngine(engine)
		wg.Go(func() {
			if err := engine.Run(ctx, "", o.ctx.BPFFilter); err != nil && ctx.Err() == nil {
				logger.Error("Capture engine stopped: %v", err)
			}
		})
		logger.Success("Capture engine started")
	}

	if o.ctx.WithMCP {
		wg.Go(func() {
			if err := o.runQueryServer(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Query server stopped: %v", err)
			}
		})
		logger.Success("Query server started (%s)", o.ctx.MCPTransport)
	}

	wg.Go(func() {
		if err := apiServer.StartHTTP(); err != nil {
			logger.Error("Live API server error: %v", err)
		}
	})
	logger.Success("Live API started on %s:%d", o.ctx.WebHost, o.ctx.WebPort)

	<-ctx.Done()
	logger.Warning("Received shutdown signal, shutting down...")

	apiServer.Stop()
	logger.Info("Waiting for all goroutines to complete...")
	wg.Wait()
	logger.Info("Shutdown complete")
	if sh.Interrupted() {
		return ErrInterrupted
	}
	return nil
}

// RunMCP runs the query server (C8) standalone over stdio or Streamable
// HTTP (spec §6: `mcp`).
func (o *Orchestrator) RunMCP() error {
	logger.Info("Starting MCPHawk v%s (mcp mode, %s transport)", o.ctx.Version, o.ctx.MCPTransport)

	if err := o.openStore(); err != nil {
		return err
	}
	defer o.store.Close()

	sh := waitForShutdown()
	defer sh.Cancel()

	err := o.runQueryServer(sh.Ctx)
	logger.Info("Query server stopped")
	if err == nil && sh.Interrupted() {
		return ErrInterrupted
	}
	return err
}

// runQueryServer initializes the query server and blocks on its chosen
// transport until ctx is cancelled.
func (o *Orchestrator) runQueryServer(ctx context.Context) error {
	srv := mcp.NewServer(o.ctx.Version, o.store)
	if err := srv.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize query server: %w", err)
	}

	if o.ctx.MCPTransport == "stdio" {
		logger.Info("Query server ready on stdio — waiting for client")
		return srv.RunSTDIO(ctx)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", o.ctx.MCPPort),
		Handler: srv.GetHTTPHandler(),
	}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()
	logger.Info("Query server listening on :%d (Streamable HTTP)", o.ctx.MCPPort)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunWrap runs the stdio wrapper (C6) around command, tapping both traffic
// directions for JSON-RPC messages and forwarding every byte transparently
// (spec §6: `wrap`).
func (o *Orchestrator) RunWrap(command []string) (int, error) {
	logger.Info("Starting MCPHawk v%s (wrap mode): %v", o.ctx.Version, command)

	if err := o.openStore(); err != nil {
		return 1, err
	}
	defer o.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	w := wrapper.New(command, o.onRecord)
	return w.Run(ctx, os.Stdin, os.Stdout, os.Stderr)
}

// newCaptureEngine builds a capture engine whose onRecord callback persists
// to the store and publishes to the broadcast hub (C2).
func (o *Orchestrator) newCaptureEngine() *capture.Engine {
	return capture.NewEngine(o.ctx.ExcludedPortSet(), o.ctx.AutoDetect, o.onRecord)
}

// onRecord is shared by the capture engine and the stdio wrapper: persist to
// the message store (C1), then publish to the broadcast hub (C2) for the
// Live API's WebSocket bridge (spec §4.1 step 4, §4.6).
func (o *Orchestrator) onRecord(rec *dto.MessageRecord) {
	if err := o.store.Insert(context.Background(), rec); err != nil {
		logger.Debug("Store insert failed for %s: %v", rec.LogID, err)
		return
	}
	if o.ctx.Hub != nil {
		domain.Publish(o.ctx.Hub, constants.TopicRecord, rec)
	}
}
