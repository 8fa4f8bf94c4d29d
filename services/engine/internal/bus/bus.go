package bus

// Append-only in-memory event log with bounded retention and cursor-range
// queries. Seq numbers start at 1 and are gap-free for the lifetime of the
// process; pruning removes only a prefix, so for every retained entry e and
// its successor e', e'.seq == e.seq+1 always holds.

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/enginelink/enginelink/pkg/protocol"
	"github.com/enginelink/enginelink/pkg/telemetry"
)

// DefaultMaxEventsKept caps the in-memory log when no explicit cap is given.
const DefaultMaxEventsKept = 10000

// Bus is safe for concurrent use; every read/modify path holds one mutex.
type Bus struct {
	mu     sync.Mutex
	events []protocol.Event
	max    int

	seq atomic.Int64

	journal Journal
	logger  *telemetry.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithJournal attaches a durable write-behind journal. Journal failures are
// logged and never affect emit or poll semantics.
func WithJournal(j Journal) Option {
	return func(b *Bus) { b.journal = j }
}

// WithLogger sets the bus logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a bus retaining at most maxEventsKept entries. A non-positive
// cap selects DefaultMaxEventsKept.
func New(maxEventsKept int, opts ...Option) *Bus {
	if maxEventsKept <= 0 {
		maxEventsKept = DefaultMaxEventsKept
	}
	b := &Bus{max: maxEventsKept, logger: telemetry.Nop}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Emit atomically allocates the next seq, appends the event, and prunes the
// oldest prefix beyond the retention cap. Payload must be JSON-encodable; an
// unencodable payload is recorded as null.
func (b *Bus) Emit(eventType string, payload any) int64 {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("event payload not encodable", map[string]any{"type": eventType, "error": err})
		raw = json.RawMessage("null")
	}

	b.mu.Lock()
	seq := b.seq.Add(1)
	ev := protocol.Event{Seq: seq, Type: eventType, Payload: raw}
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		// drop the oldest prefix; relative order of the rest is untouched
		drop := len(b.events) - b.max
		b.events = append(b.events[:0:0], b.events[drop:]...)
	}
	b.mu.Unlock()

	if b.journal != nil {
		if err := b.journal.Append(ev); err != nil {
			b.logger.Warn("journal append failed", map[string]any{"seq": seq, "error": err})
		}
	}
	return seq
}

// Poll returns every retained event with seq > cursor, in order, and the
// advanced cursor: max(cursor, highest returned seq). A cursor older than
// the earliest retained seq silently skips the pruned range.
func (b *Bus) Poll(cursor int64) (int64, []protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]protocol.Event, 0)
	latest := cursor
	for _, ev := range b.events {
		if ev.Seq > cursor {
			out = append(out, ev)
			if ev.Seq > latest {
				latest = ev.Seq
			}
		}
	}
	return latest, out
}

// LatestSeq returns the seq of the most recent emit, 0 before any emit.
func (b *Bus) LatestSeq() int64 {
	return b.seq.Load()
}

// EarliestSeq returns the seq of the oldest retained event, 0 when empty.
// Together with LatestSeq it makes retention gaps observable on the ops
// surface.
func (b *Bus) EarliestSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return 0
	}
	return b.events[0].Seq
}

// Len returns the number of retained events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
