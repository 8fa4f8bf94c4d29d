package enginelink

// Callback surfaces consumed by the client. Each is a single-method
// capability; the core invokes them synchronously from the activity that
// received the data, so implementations should return quickly.

import (
	"encoding/json"
	"time"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/telemetry"
)

// CommandSink receives engine-emitted commands from a dispatch result.
// The label identifies the originating event as "event_<type>_<target>".
type CommandSink interface {
	HandleCommands(label string, commands []json.RawMessage)
}

// CommandSinkFunc adapts a function to CommandSink.
type CommandSinkFunc func(label string, commands []json.RawMessage)

func (f CommandSinkFunc) HandleCommands(label string, commands []json.RawMessage) {
	f(label, commands)
}

// EventSink receives polled engine events in strictly ascending seq order.
type EventSink interface {
	HandleEvent(ev protocol.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ev protocol.Event)

func (f EventSinkFunc) HandleEvent(ev protocol.Event) { f(ev) }

// LogSink receives diagnostics the session does not treat as fatal:
// fingerprint mismatches and transient follow errors.
type LogSink interface {
	Log(level, msg string, fields map[string]any)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(level, msg string, fields map[string]any)

func (f LogSinkFunc) Log(level, msg string, fields map[string]any) { f(level, msg, fields) }

// TelemetryLogSink bridges the SDK log sink onto a telemetry logger.
func TelemetryLogSink(l *telemetry.Logger) LogSink {
	return LogSinkFunc(func(level, msg string, fields map[string]any) {
		switch level {
		case "debug":
			l.Debug(msg, fields)
		case "warn":
			l.Warn(msg, fields)
		case "error":
			l.Error(msg, fields)
		default:
			l.Info(msg, fields)
		}
	})
}

// PreloadBuilder produces the deterministic ready payload for the entry
// script. Implementations must be side-effect free: the same entry key and
// timestamp always yield the same value.
type PreloadBuilder interface {
	Build(entryKey string, at *time.Time) (any, error)
}

// PathResolver maps a normalized script key to a filesystem path. Builders
// that read script sources from disk consume one of these.
type PathResolver func(normalized string) string

// StaticPreload is a PreloadBuilder returning a fixed value, with the entry
// key and optional timestamp attached.
type StaticPreload struct {
	Value any
}

func (p StaticPreload) Build(entryKey string, at *time.Time) (any, error) {
	out := map[string]any{"entry": entryKey}
	if p.Value != nil {
		out["value"] = p.Value
	}
	if at != nil {
		out["ts"] = at.UTC().Format(time.RFC3339)
	}
	return out, nil
}
