package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// CounterSet is a small named-counter registry surfaced by the ops stats
// endpoint. Names are fixed at registration and the snapshot is rendered
// with sorted keys so stats output is deterministic.

type CounterSet struct {
	mu       sync.Mutex
	counters map[string]*atomic.Int64
}

func NewCounterSet() *CounterSet {
	return &CounterSet{counters: make(map[string]*atomic.Int64)}
}

// Counter returns the counter registered under name, creating it at zero
// on first use.
func (cs *CounterSet) Counter(name string) *atomic.Int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.counters[name]
	if !ok {
		c = &atomic.Int64{}
		cs.counters[name] = c
	}
	return c
}

// Add increments the named counter by delta.
func (cs *CounterSet) Add(name string, delta int64) {
	cs.Counter(name).Add(delta)
}

// Snapshot returns the current values, keyed by name.
func (cs *CounterSet) Snapshot() map[string]int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make(map[string]int64, len(cs.counters))
	for name, c := range cs.counters {
		out[name] = c.Load()
	}
	return out
}

// Names returns the registered counter names, sorted.
func (cs *CounterSet) Names() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	names := make([]string, 0, len(cs.counters))
	for name := range cs.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
