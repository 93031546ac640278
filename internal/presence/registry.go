// Package presence tracks which live connection is in which room under which identity.
package presence

import (
	"sort"
	"sync"
)

// Entry is the live presence record of one connection.
type Entry struct {
	ConnectionID string `json:"-"`
	UserID       string `json:"id"`
	UserName     string `json:"name"`
	Email        string `json:"email,omitempty"`
	Color        string `json:"color,omitempty"`
	RoomID       string `json:"-"`
	sequence     uint64
}

// Registry maps connection identifiers to presence entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	counter uint64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register inserts or overwrites the entry for entry.ConnectionID.
// A user may hold several entries through different connections.
func (r *Registry) Register(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	entry.sequence = r.counter
	r.entries[entry.ConnectionID] = entry
}

// Unregister removes and returns the connection's entry. The boolean is false when nothing was registered.
func (r *Registry) Unregister(connectionID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connectionID]
	if !ok {
		return Entry{}, false
	}
	delete(r.entries, connectionID)
	return entry, true
}

// UnregisterFromRoom removes the connection's entry only when it is registered to roomID.
func (r *Registry) UnregisterFromRoom(connectionID, roomID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[connectionID]
	if !ok || entry.RoomID != roomID {
		return Entry{}, false
	}
	delete(r.entries, connectionID)
	return entry, true
}

func (r *Registry) Lookup(connectionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[connectionID]
	return entry, ok
}

// ListByRoom returns the entries registered to roomID in registration order.
func (r *Registry) ListByRoom(roomID string) []Entry {
	r.mu.RLock()
	result := make([]Entry, 0)
	for _, entry := range r.entries {
		if entry.RoomID == roomID {
			result = append(result, entry)
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].sequence < result[j].sequence
	})
	return result
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
