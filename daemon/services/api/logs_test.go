package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tech4242/mcphawk/daemon/dto"
)

func insertRecord(t *testing.T, s *Server, logID string, ts time.Time) {
	t.Helper()
	err := s.store.Insert(context.Background(), &dto.MessageRecord{
		LogID:         logID,
		Timestamp:     ts,
		SrcIP:         "10.0.0.1",
		DstIP:         "10.0.0.2",
		Direction:     dto.DirectionOutgoing,
		TransportType: dto.TransportStdio,
		Message:       `{"jsonrpc":"2.0","method":"tools/list","id":1}`,
	})
	require.NoError(t, err)
}

func TestHandleLogsReturnsNewestFirst(t *testing.T) {
	s := newTestAPIServer(t)
	base := time.Now().Add(-time.Minute)
	insertRecord(t, s, "log-1", base)
	insertRecord(t, s, "log-2", base.Add(time.Second))
	insertRecord(t, s, "log-3", base.Add(2*time.Second))

	req := httptest.NewRequest("GET", "/logs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var recs []dto.MessageRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 3)
	require.Equal(t, "log-3", recs[0].LogID)
}

func TestHandleLogsRespectsLimit(t *testing.T) {
	s := newTestAPIServer(t)
	base := time.Now().Add(-time.Minute)
	for i := range 5 {
		insertRecord(t, s, string(rune('a'+i)), base.Add(time.Duration(i)*time.Second))
	}

	req := httptest.NewRequest("GET", "/logs?limit=2", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var recs []dto.MessageRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
}

func TestHandleStatusReflectsWithMCP(t *testing.T) {
	s := newTestAPIServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.WithMCP)
}
