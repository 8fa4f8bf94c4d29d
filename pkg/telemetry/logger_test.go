package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, Options{Service: "engined", Level: LevelDebug})

	l.Info("listen", map[string]any{"addr": ":7777", "workers": 4})
	l.Debug("detail", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}

	var rec Record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Service != "engined" || rec.Msg != "listen" {
		t.Fatalf("record = %+v", rec)
	}
	// fields sorted by key
	if len(rec.Fields) != 2 || rec.Fields[0].K != "addr" || rec.Fields[1].K != "workers" {
		t.Fatalf("fields = %+v", rec.Fields)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, Options{Level: LevelWarn})

	l.Info("dropped", nil)
	l.Error("kept", nil)

	if got := strings.Count(buf.String(), "\n"); got != 1 {
		t.Fatalf("emitted %d lines", got)
	}
}

func TestNopLoggerSafe(t *testing.T) {
	Nop.Error("nothing", map[string]any{"k": "v"})
	var nilLogger *Logger
	nilLogger.Info("also nothing", nil)
}

func TestCounterSet(t *testing.T) {
	cs := NewCounterSet()
	cs.Add("requests", 2)
	cs.Add("requests", 1)
	cs.Add("errors", 1)

	snap := cs.Snapshot()
	if snap["requests"] != 3 || snap["errors"] != 1 {
		t.Fatalf("snapshot = %v", snap)
	}
	names := cs.Names()
	if len(names) != 2 || names[0] != "errors" {
		t.Fatalf("names = %v", names)
	}
}
