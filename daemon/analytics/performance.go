package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/tech4242/mcphawk/daemon/dto"
)

// histogramBounds are the fixed latency buckets from spec §4.7, in
// milliseconds; the final bucket is open-ended (5000+).
var histogramBounds = []struct {
	label    string
	lo, hi   float64 // hi is exclusive; hi == -1 means unbounded
}{
	{"0-10", 0, 10},
	{"10-25", 10, 25},
	{"25-50", 25, 50},
	{"50-100", 50, 100},
	{"100-250", 100, 250},
	{"250-500", 250, 500},
	{"500-1000", 500, 1000},
	{"1000-2500", 1000, 2500},
	{"2500-5000", 2500, 5000},
	{"5000+", 5000, -1},
}

// HistogramBucket is one bucket of Performance's latency histogram.
type HistogramBucket struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// MethodLatency is one entry of Performance's per-method slowest-methods
// list.
type MethodLatency struct {
	Method string  `json:"method"`
	Count  int     `json:"count"`
	AvgMS  float64 `json:"avg_ms"`
	P50MS  float64 `json:"p50_ms"`
	P95MS  float64 `json:"p95_ms"`
}

// Performance is the full result of Performance.
type Performance struct {
	MinMS           float64            `json:"min_ms"`
	AvgMS           float64            `json:"avg_ms"`
	P50MS           float64            `json:"p50_ms"`
	P90MS           float64            `json:"p90_ms"`
	P95MS           float64            `json:"p95_ms"`
	P99MS           float64            `json:"p99_ms"`
	MaxMS           float64            `json:"max_ms"`
	SlowestMethods  []MethodLatency    `json:"slowest_methods"`
	Histogram       []HistogramBucket  `json:"histogram"`
	PendingRequests int                `json:"pending_requests"`
}

type pendingEntry struct {
	ts     time.Time
	method string
}

// Performance matches requests to responses by id within the window,
// computing response-time-in-milliseconds per the percentile convention
// and histogram from spec §4.7.
func (e *Engine) Performance(ctx context.Context, start, end *time.Time, transport dto.TransportType) (Performance, error) {
	recs, err := e.windowRecords(ctx, start, end, Filters{Transport: transport})
	if err != nil {
		return Performance{}, err
	}

	pending := map[string]pendingEntry{}
	var latencies []float64
	byMethod := map[string][]float64{}

	for _, r := range recs {
		id, hasID := dto.ExtractID(r.Message)
		switch dto.ClassifyMessageType(r.Message) {
		case dto.MessageTypeRequest:
			if hasID {
				pending[id] = pendingEntry{ts: r.Timestamp, method: dto.ExtractMethod(r.Message)}
			}
		case dto.MessageTypeResponse, dto.MessageTypeError:
			if !hasID {
				continue
			}
			entry, ok := pending[id]
			if !ok {
				continue
			}
			delete(pending, id)
			latencyMS := float64(r.Timestamp.Sub(entry.ts)) / float64(time.Millisecond)
			if latencyMS < 0 {
				continue
			}
			latencies = append(latencies, latencyMS)
			byMethod[entry.method] = append(byMethod[entry.method], latencyMS)
		}
	}

	perf := Performance{PendingRequests: len(pending)}
	if len(latencies) == 0 {
		perf.Histogram = histogram(nil)
		return perf, nil
	}

	sort.Float64s(latencies)
	perf.MinMS = latencies[0]
	perf.MaxMS = latencies[len(latencies)-1]
	perf.AvgMS = mean(latencies)
	perf.P50MS = percentile(latencies, 0.50)
	perf.P90MS = percentile(latencies, 0.90)
	perf.P95MS = percentile(latencies, 0.95)
	perf.P99MS = percentile(latencies, 0.99)
	perf.Histogram = histogram(latencies)
	perf.SlowestMethods = slowestMethods(byMethod, 10)

	return perf, nil
}

// percentile implements spec §4.7's convention: for a sorted sample of size
// N, the p-th percentile is the element at index floor(p*N), clamped to
// [0, N-1].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(p * float64(n))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func histogram(latencies []float64) []HistogramBucket {
	out := make([]HistogramBucket, len(histogramBounds))
	for i, b := range histogramBounds {
		out[i] = HistogramBucket{Label: b.label}
	}
	total := len(latencies)
	for _, v := range latencies {
		for i, b := range histogramBounds {
			if v >= b.lo && (b.hi < 0 || v < b.hi) {
				out[i].Count++
				break
			}
		}
	}
	for i := range out {
		out[i].Percentage = percentage(out[i].Count, total)
	}
	return out
}

func slowestMethods(byMethod map[string][]float64, limit int) []MethodLatency {
	out := make([]MethodLatency, 0, len(byMethod))
	for method, values := range byMethod {
		sort.Float64s(values)
		out = append(out, MethodLatency{
			Method: method,
			Count:  len(values),
			AvgMS:  mean(values),
			P50MS:  percentile(values, 0.50),
			P95MS:  percentile(values, 0.95),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvgMS != out[j].AvgMS {
			return out[i].AvgMS > out[j].AvgMS
		}
		return out[i].Method < out[j].Method
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ErrorTimelineBucket is one bucket of ErrorTimeline.
type ErrorTimelineBucket struct {
	Start     time.Time `json:"start"`
	Errors    int       `json:"errors"`
	Total     int       `json:"total"`
	ErrorRate float64   `json:"error_rate"`
}

// ErrorTimeline buckets records by bucketMinutes, reporting the error rate
// per bucket; empty buckets report rate 0 (spec §4.7).
func (e *Engine) ErrorTimeline(ctx context.Context, bucketMinutes int, start, end *time.Time) ([]ErrorTimelineBucket, error) {
	recs, err := e.windowRecords(ctx, start, end, Filters{})
	if err != nil {
		return nil, err
	}

	order := []time.Time{}
	buckets := map[time.Time]*ErrorTimelineBucket{}
	for _, r := range recs {
		bs := bucketStart(r.Timestamp, bucketMinutes)
		b, ok := buckets[bs]
		if !ok {
			b = &ErrorTimelineBucket{Start: bs}
			buckets[bs] = b
			order = append(order, bs)
		}
		b.Total++
		if dto.ClassifyMessageType(r.Message) == dto.MessageTypeError || dto.ContainsErrorField(r.Message) {
			b.Errors++
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]ErrorTimelineBucket, 0, len(order))
	for _, ts := range order {
		b := *buckets[ts]
		b.ErrorRate = percentage(b.Errors, b.Total)
		out = append(out, b)
	}
	return out, nil
}
