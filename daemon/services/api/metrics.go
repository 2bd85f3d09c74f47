package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tech4242/mcphawk/daemon/analytics"
	"github.com/tech4242/mcphawk/daemon/capture"
	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
)

// Prometheus gauges for capture health (spec.md §9 supplement: not named in
// spec.md itself, a natural extension of the teacher's /metrics endpoint).
var (
	recordsIngested = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphawk_records_ingested_total",
		Help: "Total MCP messages captured and persisted",
	})
	activeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphawk_active_streams",
		Help: "TCP streams currently tracked by the reassembler",
	})
	reassemblerResets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphawk_reassembler_resets_total",
		Help: "StreamDesync resets: connections whose accumulator exceeded the buffer cap",
	})
	wsSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcphawk_ws_subscribers",
		Help: "Clients currently connected to the subscription endpoint",
	})
)

func init() {
	prometheus.MustRegister(recordsIngested, activeStreams, reassemblerResets, wsSubscribers)
}

// SetCaptureEngine wires a running capture engine so /metrics can report its
// reassembler health; optional, since `web --no-sniffer` runs the Live API
// without a capture engine.
func (s *Server) SetCaptureEngine(e *capture.Engine) {
	s.engine = e
}

// handleMetrics serves Prometheus text exposition, refreshing the capture
// gauges just-in-time from whatever source is wired.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.engine != nil {
		active, resets := s.engine.Stats()
		activeStreams.Set(float64(active))
		reassemblerResets.Set(float64(resets))
	}
	wsSubscribers.Set(float64(s.wsHub.ClientCount()))
	if s.store != nil {
		if recs, err := s.store.All(r.Context()); err == nil {
			recordsIngested.Set(float64(len(recs)))
		}
	}
	promhttp.Handler().ServeHTTP(w, r)
}

// timeRangeParams parses the start_time/end_time query parameters shared by
// every /api/metrics/* endpoint (spec §6); absent values are left nil so the
// analytics engine defaults to the store's min/max timestamp (spec §4.7).
func timeRangeParams(r *http.Request) (start, end *time.Time) {
	if v := r.URL.Query().Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = &t
		}
	}
	if v := r.URL.Query().Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = &t
		}
	}
	return start, end
}

func bucketMinutesParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("interval_minutes"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func filtersParam(r *http.Request) (transport dto.TransportType, serverName string) {
	return dto.TransportType(r.URL.Query().Get("transport_type")), r.URL.Query().Get("server_name")
}

func analyticsFilters(transport dto.TransportType, serverName string) analytics.Filters {
	return analytics.Filters{Transport: transport, ServerName: serverName}
}

// handleMetricsTimeseries serves GET /api/metrics/timeseries.
func (s *Server) handleMetricsTimeseries(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	transport, serverName := filtersParam(r)
	bucket := bucketMinutesParam(r, 5)

	buckets, err := s.analytics.Timeseries(r.Context(), bucket, start, end, analyticsFilters(transport, serverName))
	if err != nil {
		logger.Error("api: timeseries: %v", err)
		http.Error(w, "failed to compute timeseries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, buckets)
}

// handleMetricsMethods serves GET /api/metrics/methods.
func (s *Server) handleMetricsMethods(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	transport, serverName := filtersParam(r)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	counts, total, err := s.analytics.MethodFrequency(r.Context(), limit, start, end, analyticsFilters(transport, serverName))
	if err != nil {
		logger.Error("api: method frequency: %v", err)
		http.Error(w, "failed to compute method frequency", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"methods":              counts,
		"total_unique_methods": total,
	})
}

// handleMetricsTransport serves GET /api/metrics/transport.
func (s *Server) handleMetricsTransport(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	dist, err := s.analytics.TransportDistribution(r.Context(), start, end)
	if err != nil {
		logger.Error("api: transport distribution: %v", err)
		http.Error(w, "failed to compute transport distribution", http.StatusInternalServerError)
		return
	}
	writeJSON(w, dist)
}

// handleMetricsMessageTypes serves GET /api/metrics/message-types.
func (s *Server) handleMetricsMessageTypes(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	transport, _ := filtersParam(r)

	dist, totalErrors, err := s.analytics.MessageTypeDistribution(r.Context(), start, end, transport)
	if err != nil {
		logger.Error("api: message type distribution: %v", err)
		http.Error(w, "failed to compute message type distribution", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"message_types": dist,
		"total_errors":  totalErrors,
	})
}

// handleMetricsPerformance serves GET /api/metrics/performance.
func (s *Server) handleMetricsPerformance(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	transport, _ := filtersParam(r)

	perf, err := s.analytics.Performance(r.Context(), start, end, transport)
	if err != nil {
		logger.Error("api: performance: %v", err)
		http.Error(w, "failed to compute performance", http.StatusInternalServerError)
		return
	}
	writeJSON(w, perf)
}

// handleMetricsErrors serves GET /api/metrics/errors.
func (s *Server) handleMetricsErrors(w http.ResponseWriter, r *http.Request) {
	start, end := timeRangeParams(r)
	bucket := bucketMinutesParam(r, 5)

	timeline, err := s.analytics.ErrorTimeline(r.Context(), bucket, start, end)
	if err != nil {
		logger.Error("api: error timeline: %v", err)
		http.Error(w, "failed to compute error timeline", http.StatusInternalServerError)
		return
	}
	writeJSON(w, timeline)
}
