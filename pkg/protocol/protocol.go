package protocol

// Wire envelopes for the host/engine RPC substrate. Both the client SDK and
// the server dispatcher speak these shapes; the framing underneath them is
// pkg/frame.

import (
	"bytes"
	"encoding/json"
)

// Methods recognized by the server dispatcher.
const (
	MethodDispatchEvent = "dispatchEvent"
	MethodPollEvents    = "pollEvents"
	MethodPing          = "ping"
)

// Request is the client-to-server envelope. ID is client-chosen, nonzero,
// and echoed verbatim. Arguments travel in Args; Params is an accepted
// legacy carrier name and means the same thing.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Arguments returns whichever carrier is populated, preferring Args.
func (r *Request) Arguments() json.RawMessage {
	if len(bytes.TrimSpace(r.Args)) > 0 && !bytes.Equal(bytes.TrimSpace(r.Args), []byte("null")) {
		return r.Args
	}
	return r.Params
}

// Response is the server-to-client envelope. Exactly one of Result or Error
// is meaningful; OK=true implies Result is present.
type Response struct {
	ID     int64           `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Event is a server-originated message with a strictly increasing, gap-free
// sequence number within one server process lifetime.
type Event struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventArg is the event member of dispatchEvent args. Session fields are
// omitted until the server has assigned them.
type EventArg struct {
	Type       string          `json:"type"`
	Target     string          `json:"target"`
	Value      json.RawMessage `json:"value"`
	SessionID  string          `json:"sessionId,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
}

// DispatchArgs is the argument object of dispatchEvent. StateJSON and Patch
// are mutually exclusive: a full-sync snapshot or a delta, never both.
type DispatchArgs struct {
	AppScript string          `json:"appScript"`
	Event     EventArg        `json:"event"`
	StateJSON string          `json:"stateJson,omitempty"`
	Patch     json.RawMessage `json:"patch,omitempty"`
}

// DispatchResult is the result object of dispatchEvent.
type DispatchResult struct {
	Patch       json.RawMessage   `json:"patch"`
	Commands    []json.RawMessage `json:"commands"`
	Fingerprint string            `json:"fingerprint"`
	SessionID   string            `json:"sessionId,omitempty"`
	SessionKey  string            `json:"sessionKey,omitempty"`
}

// PollArgs is the argument object of pollEvents.
type PollArgs struct {
	Cursor int64 `json:"cursor"`
}

// PollResult is the result object of pollEvents. Cursor is the greater of
// the requested cursor and the highest returned seq.
type PollResult struct {
	Cursor int64   `json:"cursor"`
	Events []Event `json:"events"`
}
