package capture

import (
	"context"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"

	"github.com/tech4242/mcphawk/daemon/dto"
	"github.com/tech4242/mcphawk/daemon/logger"
)

// serverIdentity is the C5 server registry entry: {name, version} cached
// per connection once an initialize exchange is observed (spec §4.1,
// "Server registry").
type serverIdentity struct {
	ServerName, ServerVersion string
	ClientName, ClientVersion string
}

// Engine drives the Reassembler from live packets, classifies transport via
// Tracker, and emits normalized Message Records (spec §4.5). It is the sole
// owner of its Reassembler and Tracker; do not share an Engine's capture
// loop across goroutines.
type Engine struct {
	reassembler *Reassembler
	tracker     *Tracker

	excludedPorts map[int]bool
	autoDetect    bool
	seenPorts     map[int]bool

	identities map[StreamKey]*serverIdentity

	onRecord func(*dto.MessageRecord)
}

// NewEngine builds an Engine. onRecord is invoked synchronously for every
// extracted record, in emission order; callers insert into the store and
// publish to the broadcast hub from within it.
func NewEngine(excludedPorts map[int]bool, autoDetect bool, onRecord func(*dto.MessageRecord)) *Engine {
	if excludedPorts == nil {
		excludedPorts = map[int]bool{}
	}
	return &Engine{
		reassembler:   NewReassembler(),
		tracker:       NewTracker(),
		excludedPorts: excludedPorts,
		autoDetect:    autoDetect,
		seenPorts:     map[int]bool{},
		identities:    map[StreamKey]*serverIdentity{},
		onRecord:      onRecord,
	}
}

// Run opens a live pcap capture on iface (empty string selects the default
// device) with the given BPF filter and processes packets until ctx is
// cancelled or the handle errors. Grounded on gopacket's standard
// OpenLive/NewPacketSource capture loop.
func (e *Engine) Run(ctx context.Context, iface, bpfFilter string) error {
	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return err
	}
	defer handle.Close()

	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			return err
		}
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			e.HandlePacket(pkt)
		}
	}
}

// HandlePacket processes one gopacket.Packet, extracting and emitting any
// completed Message Records (spec §4.5 steps 1-4).
func (e *Engine) HandlePacket(pkt gopacket.Packet) {
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp, _ := tcpLayer.(*layers.TCP)
	payload := tcp.LayerPayload()
	if len(payload) == 0 {
		return
	}

	srcIP, dstIP := packetIPs(pkt)
	srcPort, dstPort := int(tcp.SrcPort), int(tcp.DstPort)

	if e.excludedPorts[srcPort] || e.excludedPorts[dstPort] {
		return
	}

	if e.autoDetect {
		e.logFirstObservation(srcPort, dstPort, payload)
	}

	connKey := ConnKey{SrcIP: srcIP, SrcPort: srcPort, DstIP: dstIP, DstPort: dstPort}
	streamKey := NewStreamKey(srcIP, srcPort, dstIP, dstPort)

	var messages []Message
	if looksLikeBareJSONRPC(payload) {
		// A full JSON-RPC message fit in one packet with no HTTP framing;
		// no reassembly required (spec §4.5 step 3). Its direction comes
		// from the message shape.
		body := string(payload)
		messages = append(messages, Message{IsRequest: dto.InferDirection(body) == dto.DirectionOutgoing, Body: body})
	} else {
		messages = e.reassembler.ProcessPacket(connKey, streamKey, payload)
	}

	for _, msg := range messages {
		e.emit(streamKey, connKey, msg)
	}
}

func (e *Engine) emit(streamKey StreamKey, connKey ConnKey, msg Message) {
	var server EndpointKey
	if msg.IsRequest {
		server = ServerEndpoint(connKey.DstIP, connKey.DstPort)
	} else {
		server = ServerEndpoint(connKey.SrcIP, connKey.SrcPort)
	}

	// Classification runs even for a message with no JSON-RPC payload (an
	// SSE "event: endpoint" frame carries none) since it's the trigger for
	// the http_sse 2-tuple stickiness (spec §4.3 scenario 2); only record
	// emission below requires a well-formed JSON-RPC body.
	features := HTTPFeatures{
		Method:           msg.Method,
		Accept:           msg.Accept,
		IsSSEResponse:    msg.IsSSEResponse,
		HasEndpointEvent: msg.HasEndpointEvent,
	}
	transport := e.tracker.Lookup(connKey, server)
	if transport == dto.TransportUnknown {
		transport = Classify(features)
		e.tracker.Update(connKey, server, transport)
	}

	if !dto.IsWellFormedJSONRPC(msg.Body) {
		return
	}

	identity := e.identities[streamKey]
	if name, version, ok := dto.ExtractServerInfo(msg.Body); ok {
		if identity == nil {
			identity = &serverIdentity{}
			e.identities[streamKey] = identity
		}
		identity.ServerName, identity.ServerVersion = name, version
	}
	if name, version, ok := dto.ExtractClientInfo(msg.Body); ok {
		if identity == nil {
			identity = &serverIdentity{}
			e.identities[streamKey] = identity
		}
		identity.ClientName, identity.ClientVersion = name, version
	}

	direction := dto.DirectionIncoming
	if msg.IsRequest {
		direction = dto.DirectionOutgoing
	}

	rec := &dto.MessageRecord{
		LogID:         uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		SrcIP:         connKey.SrcIP,
		DstIP:         connKey.DstIP,
		SrcPort:       &connKey.SrcPort,
		DstPort:       &connKey.DstPort,
		Direction:     direction,
		TransportType: transport,
		Message:       msg.Body,
	}
	if identity != nil {
		rec.Metadata = &dto.RecordMetadata{
			ServerName:    identity.ServerName,
			ServerVersion: identity.ServerVersion,
			ClientName:    identity.ClientName,
			ClientVersion: identity.ClientVersion,
		}
	}

	e.onRecord(rec)
}

// Stats reports capture-health counters for the Live API's /metrics
// endpoint (spec.md §9 supplement): the number of tracked TCP streams and
// how many times a stream's accumulator was reset after a StreamDesync.
func (e *Engine) Stats() (activeStreams, reassemblerResets int) {
	return len(e.reassembler.streams), e.reassembler.Resets()
}

func (e *Engine) logFirstObservation(srcPort, dstPort int, payload []byte) {
	if !looksLikeBareJSONRPC(payload) && !strings.HasPrefix(string(payload), "POST") && !strings.HasPrefix(string(payload), "GET") && !strings.HasPrefix(string(payload), "HTTP/1.") {
		return
	}
	for _, port := range []int{srcPort, dstPort} {
		if !e.seenPorts[port] {
			e.seenPorts[port] = true
			logger.Info("detected MCP traffic on port %d", port)
		}
	}
}

func looksLikeBareJSONRPC(payload []byte) bool {
	trimmed := strings.TrimLeft(string(payload), " \t\r\n")
	return strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, "jsonrpc")
}

func packetIPs(pkt gopacket.Packet) (src, dst string) {
	if v4 := pkt.Layer(layers.LayerTypeIPv4); v4 != nil {
		ip, _ := v4.(*layers.IPv4)
		return ip.SrcIP.String(), ip.DstIP.String()
	}
	if v6 := pkt.Layer(layers.LayerTypeIPv6); v6 != nil {
		ip, _ := v6.(*layers.IPv6)
		return ip.SrcIP.String(), ip.DstIP.String()
	}
	return "", ""
}
