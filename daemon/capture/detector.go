// Package capture implements MCPHawk's packet-level observability pipeline:
// transport detection (C3), TCP stream reassembly (C4), and the packet
// capture engine (C5) that drives them.
package capture

import (
	"strings"
	"sync"

	"github.com/tech4242/mcphawk/daemon/dto"
)

// ConnKey identifies a directional TCP 4-tuple.
type ConnKey struct {
	SrcIP   string
	SrcPort int
	DstIP   string
	DstPort int
}

// EndpointKey identifies a server endpoint (2-tuple), used for sticky
// classification across the HTTP+SSE GET/POST connection pair (spec §4.3).
type EndpointKey struct {
	IP   string
	Port int
}

// HTTPFeatures is the minimal request/response shape Classify needs to
// apply the detection table in spec §4.3.
type HTTPFeatures struct {
	Method               string // "GET", "POST", or "" if this is a response
	Accept               string // raw Accept header value
	IsSSEResponse        bool   // Content-Type: text/event-stream
	HasEndpointEvent     bool   // SSE body contained "event: endpoint"
}

// Classify is a pure, side-effect-free function implementing the detection
// table from spec §4.3. Only Tracker holds state.
func Classify(f HTTPFeatures) dto.TransportType {
	accept := strings.ToLower(f.Accept)

	if f.Method == "GET" && accept == "text/event-stream" {
		// Tentative http_sse; confirmed once the endpoint event is seen.
		return dto.TransportHTTPSSE
	}
	if f.HasEndpointEvent {
		return dto.TransportHTTPSSE
	}
	if f.Method == "POST" && strings.Contains(accept, "application/json") && strings.Contains(accept, "text/event-stream") {
		return dto.TransportStreamableHTTP
	}
	if f.IsSSEResponse {
		if f.Method == "POST" {
			return dto.TransportStreamableHTTP
		}
		return dto.TransportHTTPSSE
	}
	return dto.TransportUnknown
}

// Tracker holds the sticky per-connection and per-server-endpoint
// classification state described in spec §3/§4.3. It is owned exclusively
// by the capture goroutine (spec §5); the mutex is a correctness safety
// net for tests that exercise it concurrently, not a contended resource.
type Tracker struct {
	mu        sync.Mutex
	byConn    map[ConnKey]dto.TransportType
	byServer  map[EndpointKey]dto.TransportType
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byConn:   make(map[ConnKey]dto.TransportType),
		byServer: make(map[EndpointKey]dto.TransportType),
	}
}

// Update records transport for a connection and its server endpoint.
// unknown never overwrites a known classification (spec §4.3 stickiness).
func (t *Tracker) Update(conn ConnKey, server EndpointKey, transport dto.TransportType) {
	if transport == dto.TransportUnknown {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[conn] = transport
	t.byServer[server] = transport
}

// Lookup returns the sticky classification for a connection, falling back
// to its server endpoint's classification (new connections to an already
// classified http_sse endpoint inherit it without re-detection), then
// unknown.
func (t *Tracker) Lookup(conn ConnKey, server EndpointKey) dto.TransportType {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.byConn[conn]; ok {
		return v
	}
	if v, ok := t.byServer[server]; ok {
		return v
	}
	return dto.TransportUnknown
}

// Reversed swaps source and destination, yielding the tuple seen by the
// other end of the same TCP connection.
func (c ConnKey) Reversed() ConnKey {
	return ConnKey{SrcIP: c.DstIP, SrcPort: c.DstPort, DstIP: c.SrcIP, DstPort: c.SrcPort}
}

// ServerEndpoint canonicalizes a connection's server-side 2-tuple. By
// convention the destination of an outgoing (client->server) packet, or the
// source of an incoming (server->client) packet, is the server endpoint;
// callers pass whichever side they know is the server.
func ServerEndpoint(ip string, port int) EndpointKey {
	return EndpointKey{IP: ip, Port: port}
}

// ExtractEndpointEvent reports whether sseData contains an
// "event: endpoint" SSE event, and if so its advertised URL (spec §4.3,
// §4.4). data lines are newline-joined; payload is parsed only far enough
// to pull out "url".
func ExtractEndpointEvent(sseData string) (url string, found bool) {
	lines := strings.Split(sseData, "\n")
	var isEndpointEvent bool
	var dataLine string
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			if strings.TrimSpace(strings.TrimPrefix(line, "event:")) == "endpoint" {
				isEndpointEvent = true
			}
		case strings.HasPrefix(line, "data:"):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if !isEndpointEvent || dataLine == "" {
		return "", false
	}
	// The endpoint event's data is {"url": "..."}; a tolerant scan avoids
	// pulling in a JSON dependency for a single field.
	const key = `"url"`
	idx := strings.Index(dataLine, key)
	if idx < 0 {
		return "", false
	}
	rest := dataLine[idx+len(key):]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
