package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/statehash"
	"github.com/enginelink/enginelink/pkg/statepatch"
	"github.com/enginelink/enginelink/services/engine/internal/bus"
)

type evalFunc func(ctx context.Context, args *protocol.DispatchArgs) (*protocol.DispatchResult, error)

func (f evalFunc) Evaluate(ctx context.Context, args *protocol.DispatchArgs) (*protocol.DispatchResult, error) {
	return f(ctx, args)
}

func newHandler(eval Evaluator) (*Handler, *bus.Bus) {
	b := bus.New(100)
	return NewHandler(eval, b, nil, nil), b
}

func request(t *testing.T, method string, args any) *protocol.Request {
	t.Helper()
	req := &protocol.Request{ID: 7, Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			t.Fatal(err)
		}
		req.Args = raw
	}
	return req
}

func TestPing(t *testing.T) {
	h, _ := newHandler(NewStateEvaluator())
	resp := h.Handle(context.Background(), request(t, protocol.MethodPing, nil))
	if !resp.OK || resp.ID != 7 || string(resp.Result) != `"pong"` {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	h, _ := newHandler(NewStateEvaluator())
	resp := h.Handle(context.Background(), &protocol.Request{ID: 7, Method: "nope"})
	if resp.OK || resp.Error != "Unknown method: nope" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestParamsCarrierAccepted(t *testing.T) {
	h, _ := newHandler(NewStateEvaluator())

	raw, _ := json.Marshal(protocol.PollArgs{Cursor: 0})
	resp := h.Handle(context.Background(), &protocol.Request{ID: 3, Method: protocol.MethodPollEvents, Params: raw})
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	var res protocol.PollResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Cursor != 0 || len(res.Events) != 0 {
		t.Fatalf("res = %+v", res)
	}
}

func TestDispatchEmitsBusEvent(t *testing.T) {
	h, b := newHandler(NewStateEvaluator())

	args := protocol.DispatchArgs{
		AppScript: "app",
		Event:     protocol.EventArg{Type: "ui", Target: "click", Value: json.RawMessage(`null`)},
	}
	resp := h.Handle(context.Background(), request(t, protocol.MethodDispatchEvent, args))
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}

	_, events := b.Poll(0)
	if len(events) != 1 || events[0].Type != "dispatch" {
		t.Fatalf("bus events = %+v", events)
	}
}

func TestEvaluatorErrorRendered(t *testing.T) {
	h, _ := newHandler(evalFunc(func(context.Context, *protocol.DispatchArgs) (*protocol.DispatchResult, error) {
		return nil, errors.New("script exploded")
	}))

	args := protocol.DispatchArgs{AppScript: "app", Event: protocol.EventArg{Type: "ui"}}
	resp := h.Handle(context.Background(), request(t, protocol.MethodDispatchEvent, args))
	if resp.OK || resp.Error != "script exploded" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestEvaluatorPanicCaught(t *testing.T) {
	h, _ := newHandler(evalFunc(func(context.Context, *protocol.DispatchArgs) (*protocol.DispatchResult, error) {
		panic("boom")
	}))

	args := protocol.DispatchArgs{AppScript: "app", Event: protocol.EventArg{Type: "ui"}}
	resp := h.Handle(context.Background(), request(t, protocol.MethodDispatchEvent, args))
	if resp.OK || !strings.Contains(resp.Error, "boom") {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestMissingRequiredArgs(t *testing.T) {
	h, _ := newHandler(NewStateEvaluator())

	resp := h.Handle(context.Background(), request(t, protocol.MethodDispatchEvent, nil))
	if resp.OK {
		t.Fatalf("resp = %+v", resp)
	}

	resp = h.Handle(context.Background(), request(t, protocol.MethodDispatchEvent,
		protocol.DispatchArgs{Event: protocol.EventArg{Type: "ui"}}))
	if resp.OK || !strings.Contains(resp.Error, "appScript") {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStateEvaluatorSessionLifecycle(t *testing.T) {
	e := NewStateEvaluator()

	res, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event:     protocol.EventArg{Type: "system", Target: "ready", Value: json.RawMessage(`null`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID == "" || res.SessionKey == "" {
		t.Fatalf("new session missing identifiers: %+v", res)
	}

	// second call with the assigned identifiers reuses the session and does
	// not re-issue the key
	res2, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event: protocol.EventArg{
			Type: "ui", Target: "click", Value: json.RawMessage(`null`),
			SessionID: res.SessionID, SessionKey: res.SessionKey,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2.SessionID != res.SessionID || res2.SessionKey != "" {
		t.Fatalf("res2 = %+v", res2)
	}

	// wrong key is rejected
	_, err = e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event: protocol.EventArg{
			Type: "ui", SessionID: res.SessionID, SessionKey: "wrong",
		},
	})
	if !errors.Is(err, ErrSessionKeyMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestStateEvaluatorStateSetProducesMatchingFingerprint(t *testing.T) {
	e := NewStateEvaluator()

	res, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event: protocol.EventArg{
			Type: "state", Target: "set",
			Value: json.RawMessage(`{"a":1,"b":"x"}`),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// applying the echoed patch to an empty mirror reproduces the server's
	// fingerprint
	mirror := statepatch.New()
	if err := statepatch.Apply(mirror, res.Patch); err != nil {
		t.Fatal(err)
	}
	if got := statehash.Fingerprint(mirror); got != res.Fingerprint {
		t.Fatalf("fingerprint %s, server %s", got, res.Fingerprint)
	}
}

func TestStateEvaluatorStateJSONReplaces(t *testing.T) {
	e := NewStateEvaluator()

	res, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		StateJSON: `{"k":42}`,
		Event:     protocol.EventArg{Type: "ui", Target: "sync", Value: json.RawMessage(`null`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	want, err := statepatch.ParseObject([]byte(`{"k":42}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Fingerprint != statehash.Fingerprint(want) {
		t.Fatalf("fingerprint = %s", res.Fingerprint)
	}
}

func TestStateEvaluatorRemove(t *testing.T) {
	e := NewStateEvaluator()

	res, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event:     protocol.EventArg{Type: "state", Target: "set", Value: json.RawMessage(`{"a":1,"b":2}`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	res2, err := e.Evaluate(context.Background(), &protocol.DispatchArgs{
		AppScript: "app",
		Event: protocol.EventArg{
			Type: "state", Target: "remove", Value: json.RawMessage(`["b"]`),
			SessionID: res.SessionID,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	want, _ := statepatch.ParseObject([]byte(`{"a":1}`))
	if res2.Fingerprint != statehash.Fingerprint(want) {
		t.Fatalf("fingerprint = %s", res2.Fingerprint)
	}
}
