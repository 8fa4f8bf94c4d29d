package telemetry

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Structured JSON-lines logger shared by the server and tools.
//
// Design:
// - One JSON object per line, deterministic field ordering (sorted keys).
// - Bounded message/field sizes so a hostile payload cannot flood a line.
// - No global state; callers hold a *Logger and pass it down.

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

const (
	MaxFields     = 64
	MaxKeyLen     = 64
	MaxValLen     = 512
	MaxMessageLen = 1024
	MaxServiceLen = 64
)

// Field is a deterministic key/value field representation.
type Field struct {
	K string `json:"k"`
	V string `json:"v"`
}

// Record is a single log line.
type Record struct {
	Ts      string  `json:"ts"`
	Level   Level   `json:"level"`
	Service string  `json:"service,omitempty"`
	Msg     string  `json:"msg"`
	Fields  []Field `json:"fields,omitempty"`
}

// Options configures the logger.
type Options struct {
	Service string
	Level   Level
}

// Logger is a structured JSON-lines logger.
type Logger struct {
	w   io.Writer
	mu  sync.Mutex
	opt Options
}

// Nop is a safe no-op logger.
var Nop = &Logger{w: io.Discard, opt: Options{Level: LevelError}}

// NewLogger creates a logger writing JSON lines to w. A nil w defaults to
// stdout; an empty level defaults to info.
func NewLogger(w io.Writer, opt Options) *Logger {
	if w == nil {
		w = os.Stdout
	}
	opt.Service = strings.TrimSpace(opt.Service)
	if len(opt.Service) > MaxServiceLen {
		opt.Service = opt.Service[:MaxServiceLen]
	}
	if opt.Level == "" {
		opt.Level = LevelInfo
	}
	return &Logger{w: w, opt: opt}
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }

func rank(x Level) int {
	switch x {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	default:
		return 4
	}
}

func (l *Logger) enabled(level Level) bool {
	return rank(level) >= rank(l.opt.Level)
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if l == nil || !l.enabled(level) {
		return
	}

	rec := Record{
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level,
		Service: l.opt.Service,
		Msg:     truncate(msg, MaxMessageLen),
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			k2 := strings.TrimSpace(k)
			if k2 == "" || len(k2) > MaxKeyLen {
				continue
			}
			rec.Fields = append(rec.Fields, Field{K: k2, V: stringify(fields[k])})
			if len(rec.Fields) >= MaxFields {
				break
			}
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(line, '\n'))
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return truncate(t, MaxValLen)
	case error:
		return truncate(t.Error(), MaxValLen)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "!unencodable"
	}
	return truncate(string(b), MaxValLen)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
