package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/spec-kit/auth-session/internal/domain"
)

// Flight is one outstanding remote fetch. Late arrivals block on Done and
// then read Result.
type Flight struct {
	key     string
	done    chan struct{}
	waiters atomic.Int32

	role domain.Role
	ok   bool
}

// Key returns the user id the flight is fetching.
func (f *Flight) Key() string {
	return f.key
}

// Done is closed once the flight completed.
func (f *Flight) Done() <-chan struct{} {
	return f.done
}

// Result is valid after Done is closed. ok is false when the fetch failed.
func (f *Flight) Result() (domain.Role, bool) {
	return f.role, f.ok
}

// Waiters returns how many callers joined the flight.
func (f *Flight) Waiters() int {
	return int(f.waiters.Load())
}

// Gate admits at most one Flight at a time. It behaves as a mutex around
// the remote fetch with a wait-and-recheck protocol for late arrivals.
type Gate struct {
	mu      sync.Mutex
	current *Flight
}

// Acquire starts a flight for key, or returns the outstanding one.
// leader is true when the caller owns the new flight and must Complete it.
func (g *Gate) Acquire(key string) (flight *Flight, leader bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil {
		g.current.waiters.Add(1)
		return g.current, false
	}
	g.current = &Flight{key: key, done: make(chan struct{})}
	return g.current, true
}

// Complete records the outcome, clears the handle and wakes every waiter.
func (g *Gate) Complete(f *Flight, role domain.Role, ok bool) {
	g.mu.Lock()
	if g.current == f {
		g.current = nil
	}
	g.mu.Unlock()

	f.role, f.ok = role, ok
	close(f.done)
}

// InFlight reports whether a fetch is outstanding.
func (g *Gate) InFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}
