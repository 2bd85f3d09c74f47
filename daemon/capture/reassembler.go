package capture

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/tech4242/mcphawk/daemon/constants"
)

// StreamKey canonicalizes a TCP connection's unordered 4-tuple so that
// packets observed from either direction resolve to the same stream (spec
// §4.4; grounded on the Python original's StreamKey, which sorts the two
// endpoints lexicographically before hashing).
type StreamKey struct {
	endpointA, endpointB string
}

// NewStreamKey builds a StreamKey from one observed packet's 4-tuple. The
// two endpoints are ordered independent of which side sent the packet.
func NewStreamKey(srcIP string, srcPort int, dstIP string, dstPort int) StreamKey {
	a := endpointString(srcIP, srcPort)
	b := endpointString(dstIP, dstPort)
	if a > b {
		a, b = b, a
	}
	return StreamKey{endpointA: a, endpointB: b}
}

func endpointString(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}

// streamState is the explicit per-connection state machine driving
// reassembly, matching spec §9's design note. Request and response
// directions are tracked independently since a connection's two halves
// advance on their own schedules (spec §4.4: a streaming GET response can
// still be open while the next POST request arrives).
type streamState int

const (
	awaitingRequest streamState = iota
	inRequestBody
	awaitingResponseHeaders
	inResponseBody
)

// bodyKind distinguishes how a response body is framed, only meaningful
// while respState == inResponseBody.
type bodyKind int

const (
	bodyPlain bodyKind = iota
	bodySSE
	bodyChunked
)

// chunkDecodeState tracks progress through HTTP chunked transfer-encoding.
type chunkDecodeState struct {
	awaitingSize bool // true: next bytes are a hex size line; false: inside chunk data
	remaining    int  // bytes left in the current chunk, valid when !awaitingSize
}

// Message is a single reassembled application-layer message extracted from
// a TCP stream, ready for transport classification and storage. The
// Accept/IsSSEResponse/HasEndpointEvent fields carry the transport-detection
// signal (spec §4.3) a caller needs to build HTTPFeatures; they are empty on
// the side they don't apply to (a response never sets Accept, a request
// never sets IsSSEResponse/HasEndpointEvent).
type Message struct {
	IsRequest bool
	Method    string // "GET"/"POST", requests only
	Accept    string // raw Accept header, requests only
	Body      string

	IsSSEResponse    bool // Content-Type: text/event-stream, responses only
	HasEndpointEvent bool // SSE body carried "event: endpoint", responses only
}

// httpStream holds reassembly state for one TCP connection.
type httpStream struct {
	// requestDir is the directional 4-tuple carrying request bytes, learned
	// the first time a packet's payload is recognizable as a request line or
	// status line. nil until then.
	requestDir *ConnKey

	reqState     streamState
	reqBuf       []byte
	reqMethod    string
	reqAccept    string
	reqRemaining int // body bytes still expected, once headers are parsed

	respState     streamState
	respBuf       []byte
	respKind      bodyKind
	respIsSSE     bool // Content-Type: text/event-stream, learned at header parse time
	respRemaining int  // for bodyPlain
	respChunk     chunkDecodeState
	respSSEBuf    []byte // accumulates raw SSE bytes pending a blank-line split
	chunkDecoded  []byte // accumulates dechunked (non-SSE) bytes across drainChunkedBody calls
}

// Reassembler tracks in-flight HTTP streams across many connections (spec
// §4.4). It is not safe for concurrent use; callers serialize packet
// delivery per spec §5's single capture-goroutine design.
type Reassembler struct {
	streams map[StreamKey]*httpStream
	resets  int // StreamDesync resets, spec §7; capture-thread-owned, no locking needed
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{streams: make(map[StreamKey]*httpStream)}
}

// Resets reports how many times a connection's accumulator was reset after
// exceeding ReassemblerMaxBuffer without finding a frame boundary
// (StreamDesync, spec §7).
func (r *Reassembler) Resets() int {
	return r.resets
}

func (r *Reassembler) stream(key StreamKey) *httpStream {
	s, ok := r.streams[key]
	if !ok {
		s = &httpStream{reqState: awaitingRequest, respState: awaitingResponseHeaders}
		r.streams[key] = s
	}
	return s
}

// checkOverflow resets s's request and/or response accumulator once it grows
// past ReassemblerMaxBuffer without a frame boundary being found
// (StreamDesync, spec §4.4/§7): the connection's state machine restarts from
// scratch rather than buffering unboundedly.
func (r *Reassembler) checkOverflow(s *httpStream) {
	if len(s.reqBuf) > constants.ReassemblerMaxBuffer {
		s.reqBuf = nil
		s.reqState = awaitingRequest
		r.resets++
	}
	// respSSEBuf and chunkDecoded accumulate decoded bytes pulled out of
	// respBuf as chunks/SSE frames complete, so respBuf alone never reflects
	// how much of this response is still buffered awaiting a frame boundary.
	if len(s.respBuf) > constants.ReassemblerMaxBuffer ||
		len(s.respSSEBuf) > constants.ReassemblerMaxBuffer ||
		len(s.chunkDecoded) > constants.ReassemblerMaxBuffer {
		s.respBuf = nil
		s.respSSEBuf = nil
		s.chunkDecoded = nil
		s.respState = awaitingResponseHeaders
		r.resets++
	}
}

// ProcessClientData feeds payload observed travelling client->server for
// the connection identified by key, returning any fully reassembled
// request bodies.
func (r *Reassembler) ProcessClientData(key StreamKey, payload []byte) []Message {
	s := r.stream(key)
	s.reqBuf = append(s.reqBuf, payload...)

	var out []Message
	for {
		msg, ok := s.drainRequest()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	r.checkOverflow(s)
	return out
}

// ProcessServerData feeds payload observed travelling server->client for
// the connection identified by key, returning any fully reassembled
// response bodies or SSE data-frame messages.
func (r *Reassembler) ProcessServerData(key StreamKey, payload []byte) []Message {
	s := r.stream(key)
	s.respBuf = append(s.respBuf, payload...)

	var out []Message
	for {
		msg, ok := s.drainResponse()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	r.checkOverflow(s)
	return out
}

// ProcessPacket feeds a single directional payload into the stream
// identified by key, inferring on its own which half (request or response)
// it belongs to from connKey against the stream's learned direction (spec
// §4.5: the engine doesn't know a priori which endpoint is the server, only
// content shape tells it). Once a direction is learned for a stream it is
// sticky for the stream's lifetime.
func (r *Reassembler) ProcessPacket(connKey ConnKey, key StreamKey, payload []byte) []Message {
	s := r.stream(key)

	if s.requestDir == nil {
		switch {
		case isRequestLine(string(payload)) || (s.reqState == inRequestBody && len(s.reqBuf) > 0):
			dir := connKey
			s.requestDir = &dir
		case isStatusLine(string(payload)):
			dir := connKey.Reversed()
			s.requestDir = &dir
		}
	}

	switch {
	case s.requestDir != nil && connKey == *s.requestDir:
		s.reqBuf = append(s.reqBuf, payload...)
		out := drainAll(s.drainRequest)
		r.checkOverflow(s)
		return out
	case s.requestDir != nil:
		s.respBuf = append(s.respBuf, payload...)
		out := drainAll(s.drainResponse)
		r.checkOverflow(s)
		return out
	default:
		// Direction still unknown (e.g. we joined mid-stream on a body-only
		// fragment); nothing safe to do with these bytes yet.
		return nil
	}
}

func drainAll(drain func() (Message, bool)) []Message {
	var out []Message
	for {
		msg, ok := drain()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out
}

// drainRequest advances the request-side state machine by at most one
// complete message. ok is false once no further progress can be made with
// the bytes currently buffered.
func (s *httpStream) drainRequest() (Message, bool) {
	switch s.reqState {
	case awaitingRequest:
		idx := bytes.Index(s.reqBuf, []byte("\r\n\r\n"))
		if idx < 0 {
			return Message{}, false
		}
		headerBlock := string(s.reqBuf[:idx])
		body := s.reqBuf[idx+4:]

		if !isRequestLine(headerBlock) {
			// Not a request line; discard the noise byte-by-byte so an
			// unrelated stray CRLFCRLF can't wedge this connection forever.
			s.reqBuf = s.reqBuf[1:]
			return s.drainRequest()
		}

		method := requestMethod(headerBlock)
		contentLength := headerContentLength(headerBlock)
		s.reqMethod = method
		s.reqAccept = HeaderAccept(headerBlock)
		s.reqRemaining = contentLength
		s.reqBuf = body
		s.reqState = inRequestBody
		return s.drainRequest()

	case inRequestBody:
		if len(s.reqBuf) < s.reqRemaining {
			return Message{}, false
		}
		body := s.reqBuf[:s.reqRemaining]
		s.reqBuf = s.reqBuf[s.reqRemaining:]
		s.reqRemaining = 0
		s.reqState = awaitingRequest
		return Message{IsRequest: true, Method: s.reqMethod, Accept: s.reqAccept, Body: string(body)}, true
	}
	return Message{}, false
}

// drainResponse advances the response-side state machine by at most one
// complete message.
func (s *httpStream) drainResponse() (Message, bool) {
	switch s.respState {
	case awaitingResponseHeaders:
		idx := bytes.Index(s.respBuf, []byte("\r\n\r\n"))
		if idx < 0 {
			return Message{}, false
		}
		headerBlock := string(s.respBuf[:idx])
		body := s.respBuf[idx+4:]

		if !isStatusLine(headerBlock) {
			s.respBuf = s.respBuf[1:]
			return s.drainResponse()
		}

		s.respBuf = body
		s.respState = inResponseBody
		s.respIsSSE = isSSEResponse(headerBlock)
		switch {
		case isChunkedResponse(headerBlock):
			// Dechunk first regardless of content type (spec §4.4): a
			// chunked SSE response must be reassembled into its decoded
			// bytes before the SSE splitter ever sees it.
			s.respKind = bodyChunked
			s.respChunk = chunkDecodeState{awaitingSize: true}
			s.chunkDecoded = nil
		case s.respIsSSE:
			s.respKind = bodySSE
			s.respSSEBuf = nil
		default:
			s.respKind = bodyPlain
			s.respRemaining = headerContentLength(headerBlock)
		}
		return s.drainResponse()

	case inResponseBody:
		switch s.respKind {
		case bodyPlain:
			return s.drainPlainBody()
		case bodySSE:
			return s.drainSSEBody()
		case bodyChunked:
			return s.drainChunkedBody()
		}
	}
	return Message{}, false
}

func (s *httpStream) drainPlainBody() (Message, bool) {
	if s.respRemaining == 0 {
		s.respState = awaitingResponseHeaders
		return Message{}, false
	}
	if len(s.respBuf) < s.respRemaining {
		return Message{}, false
	}
	body := s.respBuf[:s.respRemaining]
	s.respBuf = s.respBuf[s.respRemaining:]
	s.respRemaining = 0
	s.respState = awaitingResponseHeaders
	return Message{Body: string(body)}, true
}

// indexSSETerminator finds whichever of "\r\n\r\n" or "\n\n" appears first in
// buf (spec §4.4: SSE events are blank-line delimited and a source may use
// either line ending), returning its start index and length, or (-1, 0) if
// neither is present yet.
func indexSSETerminator(buf []byte) (idx, length int) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case crlf < 0:
		return lf, 2
	case lf < 0:
		return crlf, 4
	case crlf <= lf:
		return crlf, 4
	default:
		return lf, 2
	}
}

// drainSSEBody appends any pending raw response bytes into the SSE buffer
// then extracts complete frames from it (spec §4.4; grounded on the Python
// original's extract_sse_messages).
func (s *httpStream) drainSSEBody() (Message, bool) {
	s.respSSEBuf = append(s.respSSEBuf, s.respBuf...)
	s.respBuf = nil
	return s.extractSSEFrame()
}

// extractSSEFrame pulls one complete blank-line-delimited SSE event out of
// respSSEBuf, if one is fully buffered. An "event: endpoint" frame (spec
// §4.3) is reported via HasEndpointEvent so the caller can feed it through
// Classify/Tracker.Update even though it carries no JSON-RPC payload; a
// "data:" frame with a JSON body is returned as the message; anything else
// is skipped and draining continues.
func (s *httpStream) extractSSEFrame() (Message, bool) {
	idx, termLen := indexSSETerminator(s.respSSEBuf)
	if idx < 0 {
		return Message{}, false
	}
	event := string(s.respSSEBuf[:idx])
	s.respSSEBuf = s.respSSEBuf[idx+termLen:]

	if _, found := ExtractEndpointEvent(event); found {
		return Message{IsSSEResponse: true, HasEndpointEvent: true}, true
	}

	for _, line := range strings.Split(event, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if strings.HasPrefix(data, "{") {
			return Message{Body: data, IsSSEResponse: true}, true
		}
	}
	// Event had no JSON-RPC data line and wasn't an endpoint event; keep
	// draining in case more SSE frames are already buffered.
	return s.extractSSEFrame()
}

// drainChunkedBody dechunks HTTP chunked transfer-encoding (spec §4.4). A
// plain chunked body accumulates decoded bytes across calls and emits them
// once the terminating zero-size chunk is seen; a chunked SSE response
// instead feeds each decoded chunk straight into the SSE buffer and
// extracts frames from it as they complete, since dechunking must happen
// before SSE splitting, not after.
func (s *httpStream) drainChunkedBody() (Message, bool) {
	for {
		if s.respChunk.awaitingSize {
			idx := bytes.Index(s.respBuf, []byte("\r\n"))
			if idx < 0 {
				return Message{}, false
			}
			sizeLine := strings.TrimSpace(string(s.respBuf[:idx]))
			if semi := strings.IndexByte(sizeLine, ';'); semi >= 0 {
				sizeLine = sizeLine[:semi]
			}
			size, err := strconv.ParseInt(sizeLine, 16, 64)
			if err != nil {
				// Unparseable size line; abandon this response cycle rather
				// than spin forever on garbage.
				s.respState = awaitingResponseHeaders
				return Message{}, false
			}
			s.respBuf = s.respBuf[idx+2:]
			if size == 0 {
				// Trailing CRLF after the zero chunk, if present.
				if bytes.HasPrefix(s.respBuf, []byte("\r\n")) {
					s.respBuf = s.respBuf[2:]
				}
				s.respState = awaitingResponseHeaders
				if s.respIsSSE {
					return s.extractSSEFrame()
				}
				if len(s.chunkDecoded) == 0 {
					return Message{}, false
				}
				body := s.chunkDecoded
				s.chunkDecoded = nil
				return Message{Body: string(body)}, true
			}
			s.respChunk.remaining = int(size)
			s.respChunk.awaitingSize = false
			continue
		}

		if len(s.respBuf) < s.respChunk.remaining+2 {
			return Message{}, false
		}
		chunk := s.respBuf[:s.respChunk.remaining]
		s.respBuf = s.respBuf[s.respChunk.remaining+2:] // skip trailing CRLF
		s.respChunk.awaitingSize = true

		if s.respIsSSE {
			s.respSSEBuf = append(s.respSSEBuf, chunk...)
			if msg, ok := s.extractSSEFrame(); ok {
				return msg, true
			}
		} else {
			s.chunkDecoded = append(s.chunkDecoded, chunk...)
		}
	}
}

func isRequestLine(headerBlock string) bool {
	return strings.HasPrefix(headerBlock, "POST ") || strings.HasPrefix(headerBlock, "GET ")
}

func isStatusLine(headerBlock string) bool {
	return strings.HasPrefix(headerBlock, "HTTP/1.")
}

func requestMethod(headerBlock string) string {
	if strings.HasPrefix(headerBlock, "POST ") {
		return "POST"
	}
	return "GET"
}

func headerContentLength(headerBlock string) int {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func isSSEResponse(headerBlock string) bool {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "Content-Type") {
			return strings.Contains(strings.ToLower(v), "text/event-stream")
		}
	}
	return false
}

func isChunkedResponse(headerBlock string) bool {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "Transfer-Encoding") {
			return strings.Contains(strings.ToLower(v), "chunked")
		}
	}
	return false
}

// HeaderAccept extracts the Accept header's value from a raw request header
// block, for transport classification (spec §4.3).
func HeaderAccept(headerBlock string) string {
	for _, line := range strings.Split(headerBlock, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "Accept") {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
