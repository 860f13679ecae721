package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/source"
)

// ErrSuperseded is returned by Get when the fetch it started or joined
// completed under a fingerprint that is no longer current. The result was
// discarded; the cache keeps whatever state the new fingerprint already has.
var ErrSuperseded = errors.New("store: fetch superseded by fingerprint change")

// State is the cache entry's position in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateFresh
	StateStale
	StateError
)

// String returns the lowercase state name used in logs and the status API.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time view of the cache for observability.
type Metrics struct {
	State       State
	Age         time.Duration // zero when no snapshot is held
	Collections int
	LastError   error

	// Fetch counters, monotonic since process start.
	FetchesStarted   uint64
	FetchesJoined    uint64
	FetchesDiscarded uint64
	FetchesFailed    uint64
}

// fetch is the in-flight fetch handle. Concurrent callers share one fetch;
// done is closed when snap/err are final.
type fetch struct {
	fp    catalog.Fingerprint
	epoch uint64
	done  chan struct{}

	snap *catalog.Snapshot
	err  error
}

// Store is the TTL-bounded collection cache. It owns at most one snapshot
// and at most one in-flight fetch at any time.
//
// Store is safe for concurrent use. The only suspension point is the remote
// fetch itself; every state transition happens inside a bounded critical
// section.
type Store struct {
	src     source.Source
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time // injectable for deterministic tests

	mu       sync.Mutex
	fp       catalog.Fingerprint
	epoch    uint64
	snap     *catalog.Snapshot
	lastErr  error
	inflight *fetch

	started   uint64
	joined    uint64
	discarded uint64
	failed    uint64
}

// New creates a Store fetching from src, with the given snapshot TTL and
// per-fetch timeout.
func New(src source.Source, ttl, timeout time.Duration) *Store {
	return &Store{
		src:     src,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
	}
}

// TTL returns the configured validity window.
func (s *Store) TTL() time.Duration { return s.ttl }

// SetFingerprint installs the active fingerprint. On a semantic change the
// epoch is bumped, which invalidates the current entry: a fresh snapshot for
// the old fingerprint degrades to stale, and any in-flight fetch started
// under the old epoch will be discarded on completion. Reports whether the
// fingerprint actually changed.
func (s *Store) SetFingerprint(fp catalog.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fp.Equal(fp) {
		s.fp = fp // keep Resolved current even when identity is unchanged
		return false
	}
	s.fp = fp
	s.epoch++
	slog.Debug("store: fingerprint changed, entry invalidated",
		"fingerprint", fp.String(), "epoch", s.epoch)
	return true
}

// Fingerprint returns the active fingerprint.
func (s *Store) Fingerprint() catalog.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fp
}

// Get returns the current snapshot, fetching if needed.
//
// When the entry is fresh and force is false the cached snapshot is returned
// synchronously with no I/O. Otherwise Get starts a fetch — or, if one is
// already in flight, joins it: all concurrent callers observe the identical
// result of the single underlying fetch.
//
// A completed fetch whose start epoch no longer matches the current epoch
// fails with ErrSuperseded: its result is never cached and must never be
// published.
func (s *Store) Get(ctx context.Context, force bool) (*catalog.Snapshot, error) {
	s.mu.Lock()

	// A fresh snapshot is served synchronously even while a forced refresh is
	// in flight; unforced callers never wait behind someone else's force.
	if !force && s.freshLocked() {
		snap := s.snap
		s.mu.Unlock()
		return snap, nil
	}

	// Join only a fetch for the current epoch. An in-flight fetch for a
	// superseded fingerprint is doomed to be discarded; it keeps running
	// (no hard cancellation) but a new fetch for the current identity
	// replaces it as the entry's handle.
	if f := s.inflight; f != nil && f.epoch == s.epoch {
		s.joined++
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
			return f.snap, f.err
		}
	}

	f := &fetch{fp: s.fp, epoch: s.epoch, done: make(chan struct{})}
	s.inflight = f
	s.started++
	s.mu.Unlock()

	s.run(ctx, f)

	return f.snap, f.err
}

// Peek returns the cached snapshot without triggering any I/O.
func (s *Store) Peek() (*catalog.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.snap != nil
}

// State returns the entry's current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// LastError returns the error attached to the entry, if any.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Clear empties the entry: snapshot and error are dropped and the epoch is
// bumped so in-flight results for the cleared identity are discarded. Used
// on explicit sign-out, never by navigation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.lastErr = nil
	s.epoch++
	slog.Info("store: cache cleared", "epoch", s.epoch)
}

// Metrics returns a point-in-time observability view.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Metrics{
		State:            s.stateLocked(),
		Collections:      s.snap.Len(),
		LastError:        s.lastErr,
		FetchesStarted:   s.started,
		FetchesJoined:    s.joined,
		FetchesDiscarded: s.discarded,
		FetchesFailed:    s.failed,
	}
	if s.snap != nil {
		m.Age = s.now().Sub(s.snap.FetchedAt)
	}
	return m
}

// run performs the fetch f owns and applies the completion rules. It is the
// only place the snapshot is written.
func (s *Store) run(ctx context.Context, f *fetch) {
	// The fetch is shared by every joined caller, so it must not die with
	// the caller that happened to start it. Detach cancellation and bound it
	// with the store's own timeout instead.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	collections, err := s.src.Fetch(fctx, f.fp)
	cancel()

	s.mu.Lock()
	if s.inflight == f {
		s.inflight = nil
	}

	if err == nil {
		f.snap = catalog.NewSnapshot(collections, f.fp, s.now())
	} else {
		f.err = err
	}

	switch {
	case f.epoch != s.epoch:
		// The world changed while this fetch was in flight. The result is
		// dropped: waiters see ErrSuperseded, nothing is cached, and the
		// now-current fingerprint keeps whatever state it already had.
		f.snap, f.err = nil, ErrSuperseded
		s.discarded++
		slog.Debug("store: discarding completion for superseded epoch",
			"fetch_epoch", f.epoch, "current_epoch", s.epoch)

	case err != nil:
		s.lastErr = err
		s.failed++
		if s.snap != nil {
			slog.Warn("store: refresh failed, serving retained snapshot",
				"age", s.now().Sub(s.snap.FetchedAt), "err", err)
		} else {
			slog.Warn("store: fetch failed with no retained snapshot", "err", err)
		}

	default:
		s.snap = f.snap
		s.lastErr = nil
		slog.Info("store: snapshot published",
			"collections", len(f.snap.Collections),
			"fingerprint", f.fp.String())
	}
	s.mu.Unlock()

	close(f.done)
}

// freshLocked reports whether the cached snapshot is within TTL for the
// current fingerprint. Unlike stateLocked it ignores any in-flight fetch, so
// Get can serve the cache while a forced refresh runs. Callers must hold mu.
func (s *Store) freshLocked() bool {
	return s.snap != nil &&
		s.lastErr == nil &&
		s.snap.Fingerprint.Equal(s.fp) &&
		s.now().Sub(s.snap.FetchedAt) <= s.ttl
}

// stateLocked derives the entry state. Callers must hold mu.
func (s *Store) stateLocked() State {
	switch {
	case s.inflight != nil && s.inflight.epoch == s.epoch:
		return StateLoading
	case s.snap == nil && s.lastErr != nil:
		return StateError
	case s.snap == nil:
		return StateEmpty
	case !s.snap.Fingerprint.Equal(s.fp):
		// Snapshot belongs to a previous identity: displayable, not fresh.
		return StateStale
	case s.lastErr != nil:
		return StateStale
	case s.now().Sub(s.snap.FetchedAt) > s.ttl:
		return StateStale
	default:
		return StateFresh
	}
}
