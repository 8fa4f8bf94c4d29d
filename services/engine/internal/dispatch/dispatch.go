package dispatch

// Method router for the engine wire protocol. One Handler instance serves
// every connection worker; it owns no per-connection state.

import (
	"context"
	"encoding/json"
	"fmt"

	elerrors "github.com/enginelink/enginelink/pkg/errors"
	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/telemetry"
	"github.com/enginelink/enginelink/services/engine/internal/bus"
)

// Evaluator is the embedded script engine boundary. The dispatcher decodes
// wire arguments and hands them over; the evaluator returns the state delta,
// commands, and fingerprint of the post-evaluation state.
type Evaluator interface {
	Evaluate(ctx context.Context, args *protocol.DispatchArgs) (*protocol.DispatchResult, error)
}

// Handler routes decoded requests to method handlers. Any evaluator error or
// panic is rendered into an ok=false response; nothing escapes to the
// connection worker.
type Handler struct {
	eval     Evaluator
	bus      *bus.Bus
	logger   *telemetry.Logger
	counters *telemetry.CounterSet
}

func NewHandler(eval Evaluator, b *bus.Bus, logger *telemetry.Logger, counters *telemetry.CounterSet) *Handler {
	if logger == nil {
		logger = telemetry.Nop
	}
	if counters == nil {
		counters = telemetry.NewCounterSet()
	}
	return &Handler{eval: eval, bus: b, logger: logger, counters: counters}
}

// Handle processes one request and always produces a response carrying the
// request id.
func (h *Handler) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	h.counters.Add("requests", 1)
	defer func() {
		if r := recover(); r != nil {
			h.counters.Add("errors", 1)
			h.logger.Error("handler panic", map[string]any{
				"code":   string(elerrors.RPCHandlerFailed),
				"method": req.Method,
				"panic":  fmt.Sprint(r),
			})
			resp = fail(req.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	switch req.Method {
	case protocol.MethodPing:
		return ok(req.ID, "pong")

	case protocol.MethodPollEvents:
		return h.handlePoll(req)

	case protocol.MethodDispatchEvent:
		return h.handleDispatch(ctx, req)

	default:
		h.counters.Add("errors", 1)
		h.logger.Warn("unknown method", map[string]any{
			"code":   string(elerrors.RPCUnknownMethod),
			"method": req.Method,
		})
		return fail(req.ID, "Unknown method: "+req.Method)
	}
}

func (h *Handler) handlePoll(req *protocol.Request) *protocol.Response {
	var args protocol.PollArgs
	if raw := req.Arguments(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			h.counters.Add("errors", 1)
			return fail(req.ID, "pollEvents: bad args: "+err.Error())
		}
	}

	cursor, events := h.bus.Poll(args.Cursor)
	return ok(req.ID, protocol.PollResult{Cursor: cursor, Events: events})
}

func (h *Handler) handleDispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	raw := req.Arguments()
	if len(raw) == 0 {
		h.counters.Add("errors", 1)
		return fail(req.ID, "dispatchEvent: missing args")
	}
	var args protocol.DispatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		h.counters.Add("errors", 1)
		return fail(req.ID, "dispatchEvent: bad args: "+err.Error())
	}
	if args.AppScript == "" {
		h.counters.Add("errors", 1)
		return fail(req.ID, "dispatchEvent: appScript is required")
	}
	if args.Event.Type == "" {
		h.counters.Add("errors", 1)
		return fail(req.ID, "dispatchEvent: event is required")
	}

	res, err := h.eval.Evaluate(ctx, &args)
	if err != nil {
		h.counters.Add("errors", 1)
		h.logger.Warn("evaluation failed", map[string]any{
			"code":  string(elerrors.RPCHandlerFailed),
			"type":  args.Event.Type,
			"error": err,
		})
		return fail(req.ID, err.Error())
	}
	if res == nil {
		res = &protocol.DispatchResult{}
	}
	if res.Commands == nil {
		res.Commands = []json.RawMessage{}
	}

	if h.bus != nil {
		h.bus.Emit("dispatch", map[string]any{
			"sessionId": res.SessionID,
			"type":      args.Event.Type,
			"target":    args.Event.Target,
		})
	}
	return ok(req.ID, res)
}

func ok(id int64, result any) *protocol.Response {
	raw, err := json.Marshal(result)
	if err != nil {
		return fail(id, "encode result: "+err.Error())
	}
	return &protocol.Response{ID: id, OK: true, Result: raw}
}

func fail(id int64, msg string) *protocol.Response {
	return &protocol.Response{ID: id, OK: false, Error: msg}
}
