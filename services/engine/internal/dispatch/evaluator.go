package dispatch

// StateEvaluator is the bundled Evaluator. It is not a script engine: it
// keeps one ordered state mapping per session, applies the client-supplied
// snapshot or patch, interprets a minimal set of built-in events, and
// fingerprints the post-evaluation state with the same canonicalization the
// client mirror uses — so fingerprint verification is meaningful end to end
// even before a real engine is wired in.
//
// Built-in events:
//
//	state/set with an object value: upserts every member, echoed as a patch
//	state/remove with an array-of-strings value: deletes the named keys
//
// Everything else evaluates to an empty delta.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/statehash"
	"github.com/enginelink/enginelink/pkg/statepatch"
)

// MaxSessions bounds the evaluator's session table.
const MaxSessions = 4096

var (
	ErrSessionKeyMismatch = errors.New("evaluator: session key mismatch")
	ErrTooManySessions    = errors.New("evaluator: session table full")
)

type session struct {
	id    string
	key   string
	state *statepatch.State
}

// StateEvaluator is safe for concurrent use by the connection workers.
type StateEvaluator struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewStateEvaluator() *StateEvaluator {
	return &StateEvaluator{sessions: make(map[string]*session)}
}

// Evaluate implements Evaluator.
func (e *StateEvaluator) Evaluate(_ context.Context, args *protocol.DispatchArgs) (*protocol.DispatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, created, err := e.resolveSession(args.Event)
	if err != nil {
		return nil, err
	}

	if args.StateJSON != "" {
		st, err := statepatch.ParseObject([]byte(args.StateJSON))
		if err != nil {
			return nil, fmt.Errorf("evaluator: stateJson: %w", err)
		}
		sess.state = st
	} else if len(args.Patch) > 0 {
		if err := statepatch.Apply(sess.state, args.Patch); err != nil {
			return nil, fmt.Errorf("evaluator: patch: %w", err)
		}
	}

	patch, err := e.applyEvent(sess, args.Event)
	if err != nil {
		return nil, err
	}

	res := &protocol.DispatchResult{
		Patch:       patch,
		Commands:    []json.RawMessage{},
		Fingerprint: statehash.Fingerprint(sess.state),
		SessionID:   sess.id,
	}
	if created {
		res.SessionKey = sess.key
	}
	return res, nil
}

// resolveSession finds the session named by the event, checking the key when
// the client presents one, or creates a fresh session.
func (e *StateEvaluator) resolveSession(ev protocol.EventArg) (*session, bool, error) {
	if ev.SessionID != "" {
		if sess, ok := e.sessions[ev.SessionID]; ok {
			if ev.SessionKey != "" && ev.SessionKey != sess.key {
				return nil, false, ErrSessionKeyMismatch
			}
			return sess, false, nil
		}
		// unknown id (e.g. the server restarted): fall through to a new
		// session rather than failing the dispatch
	}
	if len(e.sessions) >= MaxSessions {
		return nil, false, ErrTooManySessions
	}
	sess := &session{
		id:    uuid.NewString(),
		key:   uuid.NewString(),
		state: statepatch.New(),
	}
	e.sessions[sess.id] = sess
	return sess, true, nil
}

func (e *StateEvaluator) applyEvent(sess *session, ev protocol.EventArg) (json.RawMessage, error) {
	if ev.Type != "state" {
		return nil, nil
	}

	switch ev.Target {
	case "set":
		if len(ev.Value) == 0 {
			return nil, nil
		}
		st, err := statepatch.ParseObject(ev.Value)
		if err != nil {
			return nil, fmt.Errorf("evaluator: state/set value: %w", err)
		}
		entries := make([]json.RawMessage, 0, st.Len())
		for _, k := range st.Keys() {
			v, _ := st.Get(k)
			sess.state.Set(k, v)
			pair, err := json.Marshal([]any{k, v})
			if err != nil {
				return nil, fmt.Errorf("evaluator: encode patch entry: %w", err)
			}
			entries = append(entries, pair)
		}
		return json.Marshal(entries)

	case "remove":
		if len(ev.Value) == 0 {
			return nil, nil
		}
		var keys []string
		if err := json.Unmarshal(ev.Value, &keys); err != nil {
			return nil, fmt.Errorf("evaluator: state/remove value: %w", err)
		}
		entries := make([]json.RawMessage, 0, len(keys))
		for _, k := range keys {
			sess.state.Delete(k)
			pair, err := json.Marshal([]any{k, nil})
			if err != nil {
				return nil, fmt.Errorf("evaluator: encode patch entry: %w", err)
			}
			entries = append(entries, pair)
		}
		return json.Marshal(entries)
	}

	return nil, nil
}
