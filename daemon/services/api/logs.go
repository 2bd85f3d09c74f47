package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tech4242/mcphawk/daemon/logger"
)

const defaultLogsLimit = 100

// statusResponse is the body of GET /status (spec §6).
type statusResponse struct {
	WithMCP bool `json:"with_mcp"`
}

// handleStatus reports whether the query server is co-running alongside
// this Live API instance (spec §4.9, §6).
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, statusResponse{WithMCP: s.ctx.WithMCP})
}

// handleLogs returns the newest-first page of captured records
// (spec §6: GET /logs?limit=N).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.store.FetchRecent(r.Context(), limit)
	if err != nil {
		logger.Error("api: fetch recent logs: %v", err)
		http.Error(w, "failed to fetch logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("api: encode response: %v", err)
	}
}
