// Package txmap keeps an in-memory view of the transmitters heard on the
// serial feed and of the records that were dropped.
package txmap

import (
	"sort"
	"sync"
	"time"
)

// Entry describes one transmitter, identified by the topic it publishes to.
type Entry struct {
	Topic     string    `json:"topic"`
	Key       string    `json:"key"`
	Published uint64    `json:"published"`
	LastSeen  time.Time `json:"last_seen"`
}

// Map is safe for concurrent use.
type Map struct {
	mu    sync.RWMutex
	tx    map[string]Entry
	drops map[string]uint64
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		tx:    make(map[string]Entry),
		drops: make(map[string]uint64),
	}
}

// Seen counts one published record for topic.
func (m *Map) Seen(topic, key string, at time.Time) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.tx[topic]
	e.Topic = topic
	if key != "" {
		e.Key = key
	}
	e.Published++
	if at.After(e.LastSeen) {
		e.LastSeen = at
	}
	m.tx[topic] = e
	return e
}

// Dropped counts one dropped record of the given kind.
func (m *Map) Dropped(kind string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[kind]++
	return m.drops[kind]
}

// Restore seeds the map, typically from persisted state at startup. Existing
// entries are replaced.
func (m *Map) Restore(entries []Entry, drops map[string]uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.tx[e.Topic] = e
	}
	for k, v := range drops {
		m.drops[k] = v
	}
}

// Get returns the entry for a published topic, prefix included.
func (m *Map) Get(topic string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.tx[topic]
	m.mu.RUnlock()
	return e, ok
}

// List returns a snapshot of all transmitters sorted by topic.
func (m *Map) List() []Entry {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.tx))
	for _, e := range m.tx {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Topic < entries[j].Topic })
	return entries
}

// Drops returns a copy of the drop counters by kind.
func (m *Map) Drops() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.drops))
	for k, v := range m.drops {
		out[k] = v
	}
	return out
}
