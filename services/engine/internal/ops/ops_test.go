package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/telemetry"
	"github.com/enginelink/enginelink/services/engine/internal/bus"
)

func newTestHandler(t *testing.T) (*Handler, *bus.Bus, *telemetry.CounterSet) {
	t.Helper()
	b := bus.New(100)
	cs := telemetry.NewCounterSet()
	return NewHandler(b, cs, nil), b, cs
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := get(t, h, "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	h, b, cs := newTestHandler(t)
	b.Emit("tick", nil)
	b.Emit("tick", nil)
	cs.Add("requests", 5)

	rec := get(t, h, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.LatestSeq != 2 || stats.EarliestSeq != 1 || stats.Retained != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.Counters["requests"] != 5 {
		t.Fatalf("counters = %v", stats.Counters)
	}
}

func TestEventsTail(t *testing.T) {
	h, b, _ := newTestHandler(t)
	for i := 0; i < 3; i++ {
		b.Emit("tick", i)
	}

	rec := get(t, h, "/events/tail?cursor=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Cursor int64            `json:"cursor"`
		Events []protocol.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Cursor != 3 || len(body.Events) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestBadCursorRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := get(t, h, "/events/tail?cursor=nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ops.bad_request") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestUnknownPath(t *testing.T) {
	h, _, _ := newTestHandler(t)
	rec := get(t, h, "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}
