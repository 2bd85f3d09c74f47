// Package api implements MCPHawk's Live API (C9): a thin, read-only HTTP
// surface over the Message Store (C1), the Analytics Engine (C7), and the
// Broadcast Hub (C2) for a browser dashboard (spec §4.9).
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tech4242/mcphawk/daemon/analytics"
	"github.com/tech4242/mcphawk/daemon/capture"
	"github.com/tech4242/mcphawk/daemon/constants"
	_ "github.com/tech4242/mcphawk/daemon/docs" // registers the Swagger spec served at /swagger/doc.json
	"github.com/tech4242/mcphawk/daemon/domain"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
	"github.com/tech4242/mcphawk/daemon/store"
)

// staticAssetsDir is where a prebuilt dashboard bundle may live; served only
// if present (spec §4.9).
const staticAssetsDir = "web/dist"

// Server is MCPHawk's Live API: routes backed directly by the store and
// analytics engine, plus a persistent subscription endpoint fed by the
// broadcast hub.
type Server struct {
	ctx        *domain.Context
	store      *store.Store
	analytics  *analytics.Engine
	httpServer *http.Server
	router     *mux.Router
	wsHub      *WSHub
	cancelCtx  context.Context
	cancelFunc context.CancelFunc
	ready      chan struct{} // closed when the record subscription is wired
	engine     *capture.Engine
}

// NewServer builds a Live API server over st, reading ctx for the listen
// address, CORS origin, and whether a query server is co-hosted.
func NewServer(ctx *domain.Context, st *store.Store) *Server {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &Server{
		ctx:        ctx,
		store:      st,
		analytics:  analytics.New(st),
		router:     mux.NewRouter(),
		wsHub:      NewWSHub(),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		ready:      make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware(s.ctx.CORSOrigin))
	s.router.Use(loggingMiddleware)
	s.router.Use(recoveryMiddleware)

	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/logs", s.handleLogs).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")

	metrics := s.router.PathPrefix("/api/metrics").Subrouter()
	metrics.HandleFunc("/timeseries", s.handleMetricsTimeseries).Methods("GET")
	metrics.HandleFunc("/methods", s.handleMetricsMethods).Methods("GET")
	metrics.HandleFunc("/transport", s.handleMetricsTransport).Methods("GET")
	metrics.HandleFunc("/message-types", s.handleMetricsMessageTypes).Methods("GET")
	metrics.HandleFunc("/performance", s.handleMetricsPerformance).Methods("GET")
	metrics.HandleFunc("/errors", s.handleMetricsErrors).Methods("GET")

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	if info, err := os.Stat(staticAssetsDir); err == nil && info.IsDir() {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticAssetsDir)))
		logger.Info("api: serving dashboard assets from %s", staticAssetsDir)
	}
}

// StartSubscriptions starts the WebSocket hub and the broadcast-hub bridge
// that feeds it from C2's TopicRecord (spec §4.9). Ready() closes once the
// subscription is registered.
func (s *Server) StartSubscriptions() {
	go s.wsHub.Run(s.cancelCtx)
	go s.bridgeRecords(s.cancelCtx)
}

func (s *Server) bridgeRecords(ctx context.Context) {
	ch := s.ctx.Hub.SubTopics(constants.TopicRecord)
	close(s.ready)
	logger.Info("api: record subscription ready")

	for {
		select {
		case <-ctx.Done():
			s.ctx.Hub.Unsub(ch)
			logger.Info("api: record subscription stopping")
			return
		case msg := <-ch:
			rec, ok := msg.(*dto.MessageRecord)
			if !ok {
				continue
			}
			s.wsHub.Broadcast(rec)
		}
	}
}

// Ready returns a channel closed once event subscriptions are fully wired.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// StartHTTP starts the HTTP server and blocks until it stops.
func (s *Server) StartHTTP() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.ctx.WebHost, s.ctx.WebPort),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logger.Info("api: HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Start runs StartSubscriptions then StartHTTP, blocking on the latter.
func (s *Server) Start() error {
	s.StartSubscriptions()
	return s.StartHTTP()
}

// Stop gracefully shuts down the API server and its background goroutines.
func (s *Server) Stop() {
	s.cancelFunc()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logger.Error("api: server shutdown error: %v", err)
		}
	}
}

// GetRouter exposes the router for tests.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
