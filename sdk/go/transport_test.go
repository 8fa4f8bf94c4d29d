package enginelink

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/enginelink/enginelink/pkg/frame"
	"github.com/enginelink/enginelink/pkg/protocol"
)

// startResponder accepts one connection per call, reads one request frame,
// and answers with the payload produced by respond.
func startResponder(t *testing.T, respond func(req protocol.Request) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				payload, err := frame.Read(c)
				if err != nil {
					return
				}
				var req protocol.Request
				if err := json.Unmarshal(payload, &req); err != nil {
					return
				}
				_ = frame.Write(c, respond(req))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestTransportRoundTrip(t *testing.T) {
	addr := startResponder(t, func(req protocol.Request) []byte {
		if req.ID == 0 {
			t.Error("request id must be nonzero")
		}
		if req.Method != protocol.MethodPing {
			t.Errorf("method = %s", req.Method)
		}
		resp := protocol.Response{ID: req.ID, OK: true, Result: json.RawMessage(`"pong"`)}
		b, _ := json.Marshal(&resp)
		return b
	})

	tr := NewTransport(addr)
	resp, err := tr.Call(context.Background(), protocol.MethodPing, nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !resp.OK || string(resp.Result) != `"pong"` {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestTransportNonObjectResponse(t *testing.T) {
	addr := startResponder(t, func(protocol.Request) []byte {
		return []byte(`[1,2,3]`)
	})

	tr := NewTransport(addr)
	_, err := tr.Call(context.Background(), protocol.MethodPing, nil)
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("want *ProtocolError, got %T %v", err, err)
	}
}

func TestTransportConnectFailure(t *testing.T) {
	// reserve a port, then close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	tr := NewTransport(addr)
	_, err = tr.Call(context.Background(), protocol.MethodPing, nil)
	te, ok := err.(*TransportError)
	if !ok {
		t.Fatalf("want *TransportError, got %T %v", err, err)
	}
	if te.Op != "connect" {
		t.Fatalf("op = %s", te.Op)
	}
}

func TestTransportTruncatedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := frame.Read(conn); err != nil {
			return
		}
		// declare 100 bytes, send 3, hang up
		conn.Write([]byte{0, 0, 0, 100, 'a', 'b', 'c'})
	}()

	tr := NewTransport(ln.Addr().String())
	_, err = tr.Call(context.Background(), protocol.MethodPing, nil)
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("want *ProtocolError, got %T %v", err, err)
	}
}
