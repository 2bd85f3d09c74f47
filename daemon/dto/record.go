// Package dto contains data transfer objects shared across MCPHawk's
// capture, storage, analytics, and API layers.
package dto

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction classifies which way a captured message travelled.
type Direction string

const (
	DirectionIncoming Direction = "incoming" // server -> client
	DirectionOutgoing Direction = "outgoing" // client -> server
	DirectionUnknown  Direction = "unknown"
)

// TransportType identifies which MCP wire transport produced a record.
type TransportType string

const (
	TransportStdio          TransportType = "stdio"
	TransportHTTPSSE        TransportType = "http_sse"
	TransportStreamableHTTP TransportType = "streamable_http"
	TransportUnknown        TransportType = "unknown"
)

// MessageType is the deterministic classification of a JSON-RPC body,
// computed purely from its shape (spec §3, invariant 6).
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
	MessageTypeError        MessageType = "error"
	MessageTypeUnknown      MessageType = "unknown"
)

// RecordMetadata carries optional peer-identity and stream context
// discovered for a record's connection, never required for a record to
// be valid.
type RecordMetadata struct {
	ServerName     string `json:"server_name,omitempty"`
	ServerVersion  string `json:"server_version,omitempty"`
	ClientName     string `json:"client_name,omitempty"`
	ClientVersion  string `json:"client_version,omitempty"`
	WrappedCommand string `json:"wrapped_command,omitempty"`
	StreamName     string `json:"stream_name,omitempty"` // "stdin" or "stdout" for wrapper records
}

// MessageRecord is the single normalized unit MCPHawk stores for every
// captured MCP message (spec §3). log_id is unique and never reused;
// the record is immutable once inserted except for the test-only bulk clear.
type MessageRecord struct {
	LogID         string          `json:"log_id"`
	Timestamp     time.Time       `json:"timestamp"`
	SrcIP         string          `json:"src_ip"`
	DstIP         string          `json:"dst_ip"`
	SrcPort       *int            `json:"src_port,omitempty"`
	DstPort       *int            `json:"dst_port,omitempty"`
	PID           *int            `json:"pid,omitempty"`
	Direction     Direction       `json:"direction"`
	TransportType TransportType   `json:"transport_type"`
	Message       string          `json:"message"`
	Metadata      *RecordMetadata `json:"metadata,omitempty"`
}

// rpcShape is the minimal JSON-RPC envelope used to classify a message
// body without fully decoding its params/result payloads.
type rpcShape struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// IsWellFormedJSONRPC reports whether raw parses as JSON and declares
// "jsonrpc":"2.0" (spec §3 invariant 4; a message that fails this is not
// a record at all).
func IsWellFormedJSONRPC(raw string) bool {
	var s rpcShape
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return false
	}
	return s.JSONRPC == "2.0"
}

// ClassifyMessageType is the total, deterministic pure function from
// spec §3 invariant 6: method+id -> request, method w/o id -> notification,
// result+id -> response, error+id -> error, else -> unknown.
func ClassifyMessageType(raw string) MessageType {
	var s rpcShape
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return MessageTypeUnknown
	}
	hasID := len(s.ID) > 0 && string(s.ID) != "null"
	switch {
	case s.Method != "" && hasID:
		return MessageTypeRequest
	case s.Method != "":
		return MessageTypeNotification
	case len(s.Result) > 0 && hasID:
		return MessageTypeResponse
	case len(s.Error) > 0 && hasID:
		return MessageTypeError
	default:
		return MessageTypeUnknown
	}
}

// InferDirection derives a record's direction purely from its JSON-RPC
// shape, for contexts with no HTTP request/response framing to anchor it
// (spec §3: raw TCP JSON with no header context).
func InferDirection(raw string) Direction {
	switch ClassifyMessageType(raw) {
	case MessageTypeRequest, MessageTypeNotification:
		return DirectionOutgoing
	case MessageTypeResponse, MessageTypeError:
		return DirectionIncoming
	default:
		return DirectionUnknown
	}
}

// ContainsErrorField reports whether raw contains a top-level "error" key,
// regardless of classification — used by the analytics engine's error
// timeline, which counts error-shaped records AND any record whose body
// contains an "error" field (spec §4.7).
func ContainsErrorField(raw string) bool {
	var s rpcShape
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return false
	}
	return len(s.Error) > 0
}

// ExtractMethod returns the "method" field of a request/notification, or
// "" if absent.
func ExtractMethod(raw string) string {
	var s rpcShape
	if json.Unmarshal([]byte(raw), &s) != nil {
		return ""
	}
	return s.Method
}

// ExtractID returns the raw JSON-RPC id as a string key usable for
// request/response correlation, and whether one was present.
func ExtractID(raw string) (string, bool) {
	var s rpcShape
	if json.Unmarshal([]byte(raw), &s) != nil {
		return "", false
	}
	if len(s.ID) == 0 || string(s.ID) == "null" {
		return "", false
	}
	return strings.Trim(string(s.ID), `"`), true
}

// initializeInfo is the shape of initialize request/response payloads
// MCPHawk inspects to populate RecordMetadata (spec §3).
type initializeInfo struct {
	Params *struct {
		ClientInfo *struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	} `json:"params"`
	Result *struct {
		ServerInfo *struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	} `json:"result"`
}

// ExtractClientInfo returns name/version from an initialize request body,
// if present.
func ExtractClientInfo(raw string) (name, version string, ok bool) {
	var s initializeInfo
	if json.Unmarshal([]byte(raw), &s) != nil {
		return "", "", false
	}
	if s.Params == nil || s.Params.ClientInfo == nil {
		return "", "", false
	}
	return s.Params.ClientInfo.Name, s.Params.ClientInfo.Version, true
}

// ExtractServerInfo returns name/version from an initialize response body,
// if present.
func ExtractServerInfo(raw string) (name, version string, ok bool) {
	var s initializeInfo
	if json.Unmarshal([]byte(raw), &s) != nil {
		return "", "", false
	}
	if s.Result == nil || s.Result.ServerInfo == nil {
		return "", "", false
	}
	return s.Result.ServerInfo.Name, s.Result.ServerInfo.Version, true
}

// StatsSnapshot is the running-summary payload type of TopicStats; nothing
// in this module builds or publishes one.
type StatsSnapshot struct {
	TotalRecords int64            `json:"total_records"`
	ByTransport  map[string]int64 `json:"by_transport"`
	Timestamp    time.Time        `json:"timestamp"`
}
