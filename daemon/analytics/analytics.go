// Package analytics implements MCPHawk's read-only Analytics Engine (C7):
// aggregate queries over the Message Store's records for a time window,
// with no side effects on the store itself.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/tech4242/mcphawk/daemon/dto"
)

// RecordSource is the slice of the Message Store the analytics engine
// needs: a chronological window read and the store's overall time bounds
// (spec §4.7: "When start or end is absent, they default to the min/max
// timestamps in the store").
type RecordSource interface {
	InWindow(ctx context.Context, start, end time.Time) ([]*dto.MessageRecord, error)
	MinMaxTimestamp(ctx context.Context) (min, max time.Time, ok bool, err error)
}

// Filters narrows an analytics query to a transport and/or server name
// (spec §4.7).
type Filters struct {
	Transport  dto.TransportType
	ServerName string
}

func (f Filters) match(r *dto.MessageRecord) bool {
	if f.Transport != "" && r.TransportType != f.Transport {
		return false
	}
	if f.ServerName != "" {
		if r.Metadata == nil || r.Metadata.ServerName != f.ServerName {
			return false
		}
	}
	return true
}

// Engine answers analytics queries against a RecordSource.
type Engine struct {
	source RecordSource
}

// New builds an Engine over source.
func New(source RecordSource) *Engine {
	return &Engine{source: source}
}

// resolveWindow fills in start/end from the store's overall bounds when
// either is nil, per spec §4.7.
func (e *Engine) resolveWindow(ctx context.Context, start, end *time.Time) (time.Time, time.Time, error) {
	if start != nil && end != nil {
		return *start, *end, nil
	}
	minTS, maxTS, ok, err := e.source.MinMaxTimestamp(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ok {
		return time.Time{}, time.Time{}, nil
	}
	s, en := minTS, maxTS
	if start != nil {
		s = *start
	}
	if end != nil {
		en = *end
	}
	return s, en, nil
}

func (e *Engine) windowRecords(ctx context.Context, start, end *time.Time, filters Filters) ([]*dto.MessageRecord, error) {
	s, en, err := e.resolveWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if s.IsZero() && en.IsZero() {
		return nil, nil
	}
	recs, err := e.source.InWindow(ctx, s, en)
	if err != nil {
		return nil, err
	}
	out := recs[:0:0]
	for _, r := range recs {
		if filters.match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// bucketStart aligns t to a bucketMinutes boundary: bucket start =
// t - (t.minute mod bucketMinutes), seconds/micros zeroed (spec §4.7).
func bucketStart(t time.Time, bucketMinutes int) time.Time {
	t = t.Truncate(time.Minute)
	mod := t.Minute() % bucketMinutes
	return t.Add(-time.Duration(mod) * time.Minute)
}

// TimeseriesBucket is one bucket of Timeseries.
type TimeseriesBucket struct {
	Start         time.Time `json:"start"`
	Requests      int       `json:"requests"`
	Responses     int       `json:"responses"`
	Notifications int       `json:"notifications"`
	Errors        int       `json:"errors"`
}

// Timeseries buckets records by bucketMinutes-wide aligned windows (spec
// §4.7). Errors include both error-shaped records and any record whose
// body contains an "error" field.
func (e *Engine) Timeseries(ctx context.Context, bucketMinutes int, start, end *time.Time, filters Filters) ([]TimeseriesBucket, error) {
	recs, err := e.windowRecords(ctx, start, end, filters)
	if err != nil {
		return nil, err
	}

	order := []time.Time{}
	buckets := map[time.Time]*TimeseriesBucket{}
	for _, r := range recs {
		bs := bucketStart(r.Timestamp, bucketMinutes)
		b, ok := buckets[bs]
		if !ok {
			b = &TimeseriesBucket{Start: bs}
			buckets[bs] = b
			order = append(order, bs)
		}
		switch dto.ClassifyMessageType(r.Message) {
		case dto.MessageTypeRequest:
			b.Requests++
		case dto.MessageTypeResponse:
			b.Responses++
		case dto.MessageTypeNotification:
			b.Notifications++
		case dto.MessageTypeError:
			b.Errors++
		}
		if dto.ContainsErrorField(r.Message) && dto.ClassifyMessageType(r.Message) != dto.MessageTypeError {
			b.Errors++
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]TimeseriesBucket, 0, len(order))
	for _, ts := range order {
		out = append(out, *buckets[ts])
	}
	return out, nil
}

// MethodCount is one entry of MethodFrequency.
type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// MethodFrequency ranks methods by occurrence count, descending, ties
// broken by first-seen order (spec §4.7).
func (e *Engine) MethodFrequency(ctx context.Context, limit int, start, end *time.Time, filters Filters) ([]MethodCount, int, error) {
	recs, err := e.windowRecords(ctx, start, end, filters)
	if err != nil {
		return nil, 0, err
	}

	counts := map[string]int{}
	firstSeen := map[string]int{}
	var order []string
	for _, r := range recs {
		method := dto.ExtractMethod(r.Message)
		if method == "" {
			continue
		}
		if _, ok := counts[method]; !ok {
			firstSeen[method] = len(order)
			order = append(order, method)
		}
		counts[method]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return firstSeen[a] < firstSeen[b]
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]MethodCount, len(order))
	for i, m := range order {
		out[i] = MethodCount{Method: m, Count: counts[m]}
	}
	return out, len(counts), nil
}

// TransportCount is one entry of TransportDistribution.
type TransportCount struct {
	Transport  dto.TransportType `json:"transport"`
	Count      int               `json:"count"`
	Percentage float64           `json:"percentage"`
}

// TransportDistribution counts records per transport type, null transports
// normalized to "unknown" (spec §4.7).
func (e *Engine) TransportDistribution(ctx context.Context, start, end *time.Time) ([]TransportCount, error) {
	recs, err := e.windowRecords(ctx, start, end, Filters{})
	if err != nil {
		return nil, err
	}
	counts := map[dto.TransportType]int{}
	var order []dto.TransportType
	for _, r := range recs {
		tt := r.TransportType
		if tt == "" {
			tt = dto.TransportUnknown
		}
		if _, ok := counts[tt]; !ok {
			order = append(order, tt)
		}
		counts[tt]++
	}
	total := len(recs)
	out := make([]TransportCount, 0, len(order))
	for _, tt := range order {
		out = append(out, TransportCount{Transport: tt, Count: counts[tt], Percentage: percentage(counts[tt], total)})
	}
	return out, nil
}

// MessageTypeCount is one entry of MessageTypeDistribution.
type MessageTypeCount struct {
	Type       dto.MessageType `json:"type"`
	Count      int             `json:"count"`
	Percentage float64         `json:"percentage"`
}

// MessageTypeDistribution counts records per classified message type, plus
// the total count of records carrying an error field (spec §4.7).
func (e *Engine) MessageTypeDistribution(ctx context.Context, start, end *time.Time, transport dto.TransportType) ([]MessageTypeCount, int, error) {
	recs, err := e.windowRecords(ctx, start, end, Filters{Transport: transport})
	if err != nil {
		return nil, 0, err
	}
	counts := map[dto.MessageType]int{}
	var order []dto.MessageType
	totalErrors := 0
	for _, r := range recs {
		mt := dto.ClassifyMessageType(r.Message)
		if _, ok := counts[mt]; !ok {
			order = append(order, mt)
		}
		counts[mt]++
		if dto.ContainsErrorField(r.Message) {
			totalErrors++
		}
	}
	total := len(recs)
	out := make([]MessageTypeCount, 0, len(order))
	for _, mt := range order {
		out = append(out, MessageTypeCount{Type: mt, Count: counts[mt], Percentage: percentage(counts[mt], total)})
	}
	return out, totalErrors, nil
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}
