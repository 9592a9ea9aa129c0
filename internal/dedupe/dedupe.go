// Package dedupe collapses identical concurrent turn requests into a single
// execution whose result is shared for a short TTL window. Chat clients
// routinely double-submit (retry on slow response, double-tap, reconnect
// replay); without this guard each duplicate would trigger its own backend
// call and its own set of persistence writes.
//
// A [Group] is owned by one service instance, not the process, so tests and
// multi-tenant embedders get isolated caches.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is the window during which an identical request is answered
// from the cache instead of re-executing.
const DefaultTTL = 2 * time.Second

// noSession is the fingerprint sentinel for requests without a session ID.
const noSession = "no-session"

// fingerprintPrefixLen bounds the message contribution to the fingerprint.
// Two long messages sharing their first 50 bytes alias to the same entry;
// combined with history length this is accepted as close enough.
const fingerprintPrefixLen = 50

// Fingerprint identifies a turn request for deduplication.
type Fingerprint string

// Key builds the [Fingerprint] for a request.
func Key(sessionID, message string, historyLen int) Fingerprint {
	if sessionID == "" {
		sessionID = noSession
	}
	prefix := message
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	return Fingerprint(fmt.Sprintf("%s:%s:%d", sessionID, prefix, historyLen))
}

type entry[T any] struct {
	created time.Time
	done    chan struct{}

	// val and err are written once, before done is closed.
	val T
	err error
}

// Group is a TTL-bounded single-flight cache keyed by [Fingerprint].
// The zero value is not usable; construct with [New].
type Group[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Fingerprint]*entry[T]
}

// Option configures a [Group].
type Option[T any] func(*Group[T])

// WithClock overrides the time source, for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(g *Group[T]) { g.now = now }
}

// New creates a Group with the given TTL. A non-positive ttl falls back to
// [DefaultTTL].
func New[T any](ttl time.Duration, opts ...Option[T]) *Group[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Group[T]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Fingerprint]*entry[T]),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do executes fn under key, or joins an execution already live for key.
// Entries older than the TTL are purged lazily before lookup, so a repeat
// after expiry runs fn again. The returned shared flag is true when the
// result came from another caller's execution.
//
// When ctx is cancelled while waiting on a shared entry, Do returns the
// context error; the original execution keeps running for other waiters.
func (g *Group[T]) Do(ctx context.Context, key Fingerprint, fn func() (T, error)) (val T, shared bool, err error) {
	g.mu.Lock()
	g.purgeLocked()

	if e, ok := g.entries[key]; ok {
		g.mu.Unlock()
		select {
		case <-e.done:
			return e.val, true, e.err
		case <-ctx.Done():
			var zero T
			return zero, true, ctx.Err()
		}
	}

	e := &entry[T]{created: g.now(), done: make(chan struct{})}
	g.entries[key] = e
	g.mu.Unlock()

	e.val, e.err = fn()
	close(e.done)
	return e.val, false, e.err
}

// Len reports the number of live entries after a purge. Intended for tests
// and introspection.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked()
	return len(g.entries)
}

func (g *Group[T]) purgeLocked() {
	cutoff := g.now().Add(-g.ttl)
	for k, e := range g.entries {
		if e.created.Before(cutoff) {
			delete(g.entries, k)
		}
	}
}
