// Package constants provides shared tuning constants for MCPHawk.
package constants

const (
	// WSPingInterval is the WebSocket ping interval in seconds (spec §5, §6).
	WSPingInterval = 30
	// WSBufferSize is the per-client WebSocket send-channel buffer size.
	WSBufferSize = 256

	// ReassemblerMaxBuffer caps a single connection's accumulated unparsed
	// bytes before the reassembler resets that connection's state (spec §4.4).
	ReassemblerMaxBuffer = 1 << 20 // 1 MiB

	// BroadcastBufferSize is the per-subscriber buffer size for the
	// Message Record broadcast hub.
	BroadcastBufferSize = 1024

	// StdioScannerMaxBuffer bounds the per-direction buffer used by the
	// stdio wrapper's JSON-RPC scanner before it gives up on a line.
	StdioScannerMaxBuffer = 1 << 20 // 1 MiB
)
