package realtime

import "sync"

// roomLocks serializes note writes with join snapshots of the same room, so a joiner
// sees each note update either inside its room-state or after it, never before.
type roomLocks struct {
	mu   sync.Mutex
	held map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{held: make(map[string]*roomLock)}
}

// lock blocks until roomID is free and returns the matching unlock.
func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	entry, ok := l.held[roomID]
	if !ok {
		entry = &roomLock{}
		l.held[roomID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, roomID)
		}
		l.mu.Unlock()
	}
}
