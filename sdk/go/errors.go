package enginelink

// Error taxonomy of the client SDK.
//
// TransportError: connect/read/write I/O failure. The SDK never retries;
// callers decide.
// ProtocolError: frame or payload violates the wire contract. Fatal to the
// call; the next call opens a fresh connection anyway.
// RpcError: the server answered with ok=false. The connection is fine.
//
// Fingerprint mismatches are not errors: they are reported through the log
// sink and execution continues.

import "fmt"

// TransportError wraps a connection-level I/O failure.
type TransportError struct {
	Op  string // "connect", "write", "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("enginelink: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a wire contract violation: oversized or truncated
// frames, or a response that is not a JSON object.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enginelink: protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("enginelink: protocol: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RpcError reports an ok=false response.
type RpcError struct {
	Method  string
	Message string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("enginelink: rpc %s: %s", e.Method, e.Message)
}
