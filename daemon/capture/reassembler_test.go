package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamKeyCanonicalizesDirection(t *testing.T) {
	a := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)
	b := NewStreamKey("10.0.0.2", 8080, "10.0.0.1", 5000)
	require.Equal(t, a, b)
}

func TestReassemblePlainJSONRequest(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	body := `{"jsonrpc":"2.0","method":"tools/list","id":1}`
	packet := "POST /mcp HTTP/1.1\r\nContent-Type: application/json\r\nAccept: application/json, text/event-stream\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body

	msgs := r.ProcessClientData(key, []byte(packet))
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].IsRequest)
	require.Equal(t, "POST", msgs[0].Method)
	require.Equal(t, body, msgs[0].Body)
}

func TestReassembleRequestSplitAcrossPackets(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	body := `{"jsonrpc":"2.0","method":"ping","id":1}`
	head := "POST /mcp HTTP/1.1\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n"

	msgs := r.ProcessClientData(key, []byte(head+body[:5]))
	require.Empty(t, msgs)

	msgs = r.ProcessClientData(key, []byte(body[5:]))
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestReassemblePlainJSONResponse(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	body := `{"jsonrpc":"2.0","result":{"ok":true},"id":1}`
	packet := "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: " +
		itoa(len(body)) + "\r\n\r\n" + body

	msgs := r.ProcessServerData(key, []byte(packet))
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestReassembleSSEResponseExtractsDataFrames(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	headers := "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"
	frame1 := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"result\":{},\"id\":1}\n\n"
	frame2 := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n"

	msgs := r.ProcessServerData(key, []byte(headers+frame1))
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, `"result"`)

	msgs = r.ProcessServerData(key, []byte(frame2))
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "notifications/progress")
}

func TestReassembleSSESkipsNonJSONEvents(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	headers := "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\n\r\n"
	endpointEvent := "event: endpoint\ndata: /messages?sessionId=abc\n\n"
	dataFrame := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"ping\"}\n\n"

	msgs := r.ProcessServerData(key, []byte(headers+endpointEvent+dataFrame))
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Body, "ping")
}

func TestReassembleChunkedResponse(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	body := `{"jsonrpc":"2.0","result":{},"id":1}`
	headers := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"
	chunked := hexLen(len(body)) + "\r\n" + body + "\r\n0\r\n\r\n"

	msgs := r.ProcessServerData(key, []byte(headers+chunked))
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestReassembleChunkedResponseSplitAcrossPackets(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	body := `{"jsonrpc":"2.0","result":{},"id":7}`
	headers := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n"
	chunked := hexLen(len(body)) + "\r\n" + body + "\r\n0\r\n\r\n"

	full := headers + chunked
	mid := len(full) / 2

	msgs := r.ProcessServerData(key, []byte(full[:mid]))
	require.Empty(t, msgs)

	msgs = r.ProcessServerData(key, []byte(full[mid:]))
	require.Len(t, msgs, 1)
	require.Equal(t, body, msgs[0].Body)
}

func TestReassembleRequestAndResponseIndependent(t *testing.T) {
	r := NewReassembler()
	key := NewStreamKey("10.0.0.1", 5000, "10.0.0.2", 8080)

	reqBody := `{"jsonrpc":"2.0","method":"tools/call","id":2}`
	reqPacket := "POST /mcp HTTP/1.1\r\nContent-Length: " + itoa(len(reqBody)) + "\r\n\r\n" + reqBody
	reqs := r.ProcessClientData(key, []byte(reqPacket))
	require.Len(t, reqs, 1)

	respBody := `{"jsonrpc":"2.0","result":{},"id":2}`
	respPacket := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(respBody)) + "\r\n\r\n" + respBody
	resps := r.ProcessServerData(key, []byte(respPacket))
	require.Len(t, resps, 1)
	require.Equal(t, respBody, resps[0].Body)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func hexLen(n int) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{hexDigits[n%16]}, out...)
		n /= 16
	}
	return string(out)
}
