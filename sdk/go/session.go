package enginelink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/statehash"
	"github.com/enginelink/enginelink/pkg/statepatch"
)

// Client owns one session against a script engine. It keeps an authoritative
// local mirror of engine state by applying every server-returned patch,
// fingerprints the mirror after each dispatch, and verifies the result
// against the server's fingerprint when verification is enabled.
//
// A Client is single-owner: apart from the follow loop it starts itself, it
// performs no internal locking of session state. Callers that share one
// Client across goroutines must serialize externally, or use one Client per
// goroutine.
type Client struct {
	caller    Caller
	appScript string
	entryKey  string
	preload   PreloadBuilder
	commands  CommandSink
	events    EventSink
	logs      LogSink
	verify    bool

	sessionID          string
	sessionKey         string
	lastPatch          json.RawMessage
	lastFingerprint    string
	cursor             int64
	tracked            *statepatch.State
	trackedFingerprint string

	nextStateJSON     string
	hasNextStateJSON  bool
	nextPatchOverride json.RawMessage

	followMu sync.Mutex
	follow   *follower
}

// Options configures a Client.
type Options struct {
	// Addr is the engine endpoint, e.g. "127.0.0.1:7777". Ignored when
	// Caller is set.
	Addr string

	// AppScript is the entry script source sent with every dispatch.
	AppScript string

	// EntryKey names the entry script for the preload builder.
	EntryKey string

	// Preload builds the ready payload. Optional; a nil builder sends a
	// null ready value.
	Preload PreloadBuilder

	// Sinks. All optional.
	Commands CommandSink
	Events   EventSink
	Logs     LogSink

	// VerifyFingerprints enables comparison of the local mirror fingerprint
	// against the server's after each dispatch. Mismatches are reported via
	// Logs and are not fatal.
	VerifyFingerprints bool

	// Caller overrides the transport; used by tests and embedders.
	Caller Caller
}

// New constructs a Client in the Fresh state.
func New(opts Options) (*Client, error) {
	if opts.AppScript == "" {
		return nil, errors.New("enginelink: AppScript is required")
	}
	caller := opts.Caller
	if caller == nil {
		if opts.Addr == "" {
			return nil, errors.New("enginelink: Addr or Caller is required")
		}
		caller = NewTransport(opts.Addr)
	}
	c := &Client{
		caller:    caller,
		appScript: opts.AppScript,
		entryKey:  opts.EntryKey,
		preload:   opts.Preload,
		commands:  opts.Commands,
		events:    opts.Events,
		logs:      opts.Logs,
		verify:    opts.VerifyFingerprints,
	}
	c.resetSessionState()
	return c, nil
}

// Ready resets the session and performs the initial system/ready dispatch.
// at is the optional deterministic timestamp handed to the preload builder.
func (c *Client) Ready(ctx context.Context, at *time.Time) error {
	c.resetSessionState()

	var payload any
	if c.preload != nil {
		var err error
		payload, err = c.preload.Build(c.entryKey, at)
		if err != nil {
			return fmt.Errorf("enginelink: preload: %w", err)
		}
	}
	value, err := marshalValue(payload)
	if err != nil {
		return &ProtocolError{Reason: "encode ready payload", Err: err}
	}

	args := protocol.DispatchArgs{
		AppScript: c.appScript,
		Event:     protocol.EventArg{Type: "system", Target: "ready", Value: value},
	}
	res, err := c.callDispatch(ctx, args)
	if err != nil {
		return err
	}
	return c.absorb(res, "event_system_ready")
}

// Dispatch sends one event to the engine and applies the resulting delta to
// the tracked state.
//
// Exactly one state carrier accompanies the event: the one-shot full-sync
// snapshot if set (it wins over everything), else the one-shot patch
// override, else the last server-returned patch. Both one-shots are consumed
// by this call whether or not they were sent.
func (c *Client) Dispatch(ctx context.Context, eventType, target string, value any) error {
	args := protocol.DispatchArgs{AppScript: c.appScript}
	switch {
	case c.hasNextStateJSON:
		args.StateJSON = c.nextStateJSON
	case len(c.nextPatchOverride) > 0:
		args.Patch = c.nextPatchOverride
	case len(c.lastPatch) > 0:
		args.Patch = c.lastPatch
	}
	c.hasNextStateJSON = false
	c.nextStateJSON = ""
	c.nextPatchOverride = nil

	raw, err := marshalValue(value)
	if err != nil {
		return &ProtocolError{Reason: "encode event value", Err: err}
	}
	args.Event = protocol.EventArg{
		Type:       eventType,
		Target:     target,
		Value:      raw,
		SessionID:  c.sessionID,
		SessionKey: c.sessionKey,
	}

	res, err := c.callDispatch(ctx, args)
	if err != nil {
		return err
	}
	return c.absorb(res, "event_"+eventType+"_"+target)
}

// PollOnce fetches events past the current cursor and feeds them to the
// event sink in order. The cursor never moves backwards.
func (c *Client) PollOnce(ctx context.Context) error {
	resp, err := c.caller.Call(ctx, protocol.MethodPollEvents, protocol.PollArgs{Cursor: c.cursor})
	if err != nil {
		return err
	}
	if !resp.OK {
		return &RpcError{Method: protocol.MethodPollEvents, Message: resp.Error}
	}

	var res protocol.PollResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return &ProtocolError{Reason: "decode pollEvents result", Err: err}
	}
	if res.Cursor > c.cursor {
		c.cursor = res.Cursor
	}
	for _, ev := range res.Events {
		if ev.Seq > c.cursor {
			c.cursor = ev.Seq
		}
		if c.events != nil {
			c.events.HandleEvent(ev)
		}
	}
	return nil
}

// ResetClientSession clears all session state without contacting the
// server. Use it when the server is known to have restarted.
func (c *Client) ResetClientSession() {
	c.resetSessionState()
}

// SetNextStateJSON arms the one-shot full-sync override: the next dispatch
// carries stateJson instead of a patch.
func (c *Client) SetNextStateJSON(stateJSON string) {
	c.nextStateJSON = stateJSON
	c.hasNextStateJSON = true
}

// SetNextPatchOverride arms the one-shot patch override for the next
// dispatch. A full-sync override set at the same time takes precedence.
func (c *Client) SetNextPatchOverride(patch json.RawMessage) {
	c.nextPatchOverride = patch
}

// SessionID returns the server-assigned routing id, if any.
func (c *Client) SessionID() string { return c.sessionID }

// SessionKey returns the server-assigned session key, if any.
func (c *Client) SessionKey() string { return c.sessionKey }

// Cursor returns the highest event seq observed.
func (c *Client) Cursor() int64 { return c.cursor }

// TrackedFingerprint returns the fingerprint of the local state mirror.
func (c *Client) TrackedFingerprint() string { return c.trackedFingerprint }

// LastFingerprint returns the most recent server-declared fingerprint.
func (c *Client) LastFingerprint() string { return c.lastFingerprint }

// TrackedState returns a deep copy of the local state mirror.
func (c *Client) TrackedState() *statepatch.State { return c.tracked.Clone() }

// Close stops the follow loop, if running. In-flight RPCs are not cancelled.
func (c *Client) Close() {
	c.StopFollow()
}

func (c *Client) resetSessionState() {
	c.sessionID = ""
	c.sessionKey = ""
	c.lastPatch = nil
	c.lastFingerprint = ""
	c.cursor = 0
	c.tracked = statepatch.New()
	c.trackedFingerprint = statehash.Fingerprint(c.tracked)
	c.nextStateJSON = ""
	c.hasNextStateJSON = false
	c.nextPatchOverride = nil
}

func (c *Client) callDispatch(ctx context.Context, args protocol.DispatchArgs) (*protocol.DispatchResult, error) {
	resp, err := c.caller.Call(ctx, protocol.MethodDispatchEvent, args)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &RpcError{Method: protocol.MethodDispatchEvent, Message: resp.Error}
	}
	var res protocol.DispatchResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			return nil, &ProtocolError{Reason: "decode dispatchEvent result", Err: err}
		}
	}
	return &res, nil
}

// absorb folds a dispatch result into the session: identifiers, patch chain,
// tracked mirror, fingerprint verification, and command delivery.
func (c *Client) absorb(res *protocol.DispatchResult, label string) error {
	// sessionId follows the server; sessionKey is write-once. The server may
	// rotate routing, but a key already issued is never downgraded.
	if res.SessionID != "" {
		c.sessionID = res.SessionID
	}
	if c.sessionKey == "" && res.SessionKey != "" {
		c.sessionKey = res.SessionKey
	}

	c.lastPatch = normalizePatch(res.Patch)
	c.lastFingerprint = res.Fingerprint

	if err := statepatch.Apply(c.tracked, c.lastPatch); err != nil {
		return &ProtocolError{Reason: "apply result patch", Err: err}
	}
	c.trackedFingerprint = statehash.Fingerprint(c.tracked)

	if c.verify && res.Fingerprint != "" && res.Fingerprint != c.trackedFingerprint {
		if c.logs != nil {
			c.logs.Log("warn", "fingerprint mismatch", map[string]any{
				"label":  label,
				"local":  c.trackedFingerprint,
				"server": res.Fingerprint,
			})
		}
	}

	if c.commands != nil && len(res.Commands) > 0 {
		c.commands.HandleCommands(label, res.Commands)
	}
	return nil
}

// normalizePatch maps an absent or JSON-null patch to nil so patch chaining
// and "send lastPatch if any" agree on emptiness.
func normalizePatch(p json.RawMessage) json.RawMessage {
	t := bytes.TrimSpace(p)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return nil
	}
	return p
}

func marshalValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(bytes.TrimSpace(raw)) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
