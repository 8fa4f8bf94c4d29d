package enginelink

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net"

	"github.com/enginelink/enginelink/pkg/frame"
	"github.com/enginelink/enginelink/pkg/protocol"
)

// Caller issues one RPC round trip. Transport is the production
// implementation; tests substitute fakes.
type Caller interface {
	Call(ctx context.Context, method string, args any) (*protocol.Response, error)
}

// Transport performs one TCP connection per call: connect, write one request
// frame, read one response frame, close. Reconnect-per-request keeps the
// server free of per-connection client state; session identity travels in
// the payload.
type Transport struct {
	Addr   string
	Dialer net.Dialer
}

func NewTransport(addr string) *Transport {
	return &Transport{Addr: addr}
}

// Call performs a single request/response exchange. The connection is closed
// on every exit path. There is no retry and no built-in timeout; bound the
// call with ctx (dial) or external wall-clock enforcement.
func (t *Transport) Call(ctx context.Context, method string, args any) (*protocol.Response, error) {
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, &ProtocolError{Reason: "encode args", Err: err}
	}
	req := protocol.Request{ID: newRequestID(), Method: method, Args: argBytes}
	body, err := json.Marshal(&req)
	if err != nil {
		return nil, &ProtocolError{Reason: "encode request", Err: err}
	}

	conn, err := t.Dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if err := frame.Write(conn, body); err != nil {
		if errors.Is(err, frame.ErrTooLarge) {
			return nil, &ProtocolError{Reason: "request frame", Err: err}
		}
		return nil, &TransportError{Op: "write", Err: err}
	}

	payload, err := frame.Read(conn)
	if err != nil {
		if errors.Is(err, frame.ErrTooLarge) || errors.Is(err, frame.ErrTruncated) {
			return nil, &ProtocolError{Reason: "response frame", Err: err}
		}
		return nil, &TransportError{Op: "read", Err: err}
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ProtocolError{Reason: "response is not a JSON object"}
	}

	var resp protocol.Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, &ProtocolError{Reason: "decode response", Err: err}
	}
	return &resp, nil
}

// newRequestID returns a random positive nonzero id. The server echoes it
// verbatim; it only needs to be unguessable enough to catch crossed frames.
func newRequestID() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	id := int64(binary.BigEndian.Uint64(b[:]) & math.MaxInt64)
	if id == 0 {
		id = 1
	}
	return id
}
