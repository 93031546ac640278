package rooms

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("msg-%03d", p.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newSteppingClock(start time.Time, step time.Duration) *steppingClock {
	return &steppingClock{current: start, step: step}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := c.current
	c.current = c.current.Add(c.step)
	return value
}

type scriptedCodes struct {
	codes []RoomCode
	calls int
}

func (g *scriptedCodes) NewCode() (RoomCode, error) {
	if g.calls >= len(g.codes) {
		return g.codes[len(g.codes)-1], nil
	}
	code := g.codes[g.calls]
	g.calls++
	return code, nil
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:studyroom_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&RoomRecord{}, &MemberRecord{}, &MessageRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T, clock func() time.Time) (*Store, *gorm.DB) {
	t.Helper()
	db := openTestDatabase(t)
	if clock == nil {
		clock = newSteppingClock(time.UnixMilli(1700000000000).UTC(), time.Millisecond).Now
	}
	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct room store: %v", err)
	}
	return store, db
}

func mustRoomCode(t *testing.T, value string) RoomCode {
	t.Helper()
	code, err := NewRoomCode(value)
	if err != nil {
		t.Fatalf("unexpected room code error: %v", err)
	}
	return code
}

func mustCreateRoom(t *testing.T, store *Store, code string, owner string) Room {
	t.Helper()
	room, err := store.CreateRoom(testContext(t), mustRoomCode(t, code), UserID(owner), UserName(owner+" name"))
	if err != nil {
		t.Fatalf("failed to create room %s: %v", code, err)
	}
	return room
}
