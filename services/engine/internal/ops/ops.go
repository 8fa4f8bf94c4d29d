package ops

// HTTP operator surface: health, stats, and event-tail inspection. This is a
// diagnostics plane for humans and dashboards; the RPC substrate itself
// stays poll-only on the TCP port.

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	elerrors "github.com/enginelink/enginelink/pkg/errors"
	"github.com/enginelink/enginelink/pkg/telemetry"
	"github.com/enginelink/enginelink/services/engine/internal/bus"
)

const liveInterval = 500 * time.Millisecond

type Stats struct {
	EarliestSeq int64            `json:"earliest_seq"`
	LatestSeq   int64            `json:"latest_seq"`
	Retained    int              `json:"retained"`
	Counters    map[string]int64 `json:"counters"`
}

type Handler struct {
	bus      *bus.Bus
	counters *telemetry.CounterSet
	logger   *telemetry.Logger
	router   *mux.Router
}

func NewHandler(b *bus.Bus, counters *telemetry.CounterSet, logger *telemetry.Logger) *Handler {
	if counters == nil {
		counters = telemetry.NewCounterSet()
	}
	if logger == nil {
		logger = telemetry.Nop
	}
	h := &Handler{bus: b, counters: counters, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/events/tail", h.handleTail).Methods(http.MethodGet)
	r.HandleFunc("/events/live", h.handleLive).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		elerrors.WriteHTTP(w, elerrors.OpsNotFound, "no such resource")
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"ok": true})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Stats{
		EarliestSeq: h.bus.EarliestSeq(),
		LatestSeq:   h.bus.LatestSeq(),
		Retained:    h.bus.Len(),
		Counters:    h.counters.Snapshot(),
	})
}

func (h *Handler) handleTail(w http.ResponseWriter, r *http.Request) {
	cursor, ok := parseCursor(r.URL.Query().Get("cursor"))
	if !ok {
		elerrors.WriteHTTP(w, elerrors.OpsBadRequest, "cursor must be a non-negative integer")
		return
	}
	latest, events := h.bus.Poll(cursor)
	writeJSON(w, map[string]any{"cursor": latest, "events": events})
}

func parseCursor(raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
