package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionGuard rejects a second identical action while the first is still in
// flight. It is in-process only and safe for concurrent use.
type ActionGuard struct {
	inflight map[string]guardEntry // action key -> holder
	maxAge   time.Duration
	mu       sync.Mutex
	now      func() time.Time
}

type guardEntry struct {
	id      string
	started time.Time
}

// NewActionGuard creates a guard. Entries older than maxAge are treated as
// abandoned and may be taken over; zero keeps them until released.
func NewActionGuard(maxAge time.Duration) *ActionGuard {
	return &ActionGuard{
		inflight: make(map[string]guardEntry),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Acquire claims key and returns a fresh action id with a release func. ok is
// false when an identical action already holds the key.
func (g *ActionGuard) Acquire(key string) (id string, release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if held, busy := g.inflight[key]; busy {
		if g.maxAge <= 0 || now.Sub(held.started) < g.maxAge {
			return "", func() {}, false
		}
	}

	id = uuid.NewString()
	g.inflight[key] = guardEntry{id: id, started: now}
	return id, func() { g.release(key, id) }, true
}

// release frees key only if id still holds it.
func (g *ActionGuard) release(key, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if held, ok := g.inflight[key]; ok && held.id == id {
		delete(g.inflight, key)
	}
}

// InFlight reports how many actions currently hold a key.
func (g *ActionGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Cleanup drops entries older than maxAge.
func (g *ActionGuard) Cleanup() {
	if g.maxAge <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, held := range g.inflight {
		if now.Sub(held.started) >= g.maxAge {
			delete(g.inflight, key)
		}
	}
}
