package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/identity"
	"github.com/shelfsync/shelfsync/internal/source"
	"github.com/shelfsync/shelfsync/internal/store"
)

// subBufSize is the per-subscriber buffer depth. Delivery is latest-wins:
// a slow subscriber loses intermediate updates, never the newest one.
const subBufSize = 8

// Update is one notification to subscribers: the current snapshot paired
// with the error from the producing fetch, if any. Snapshot may be nil
// before the first successful fetch and after a clear; Cleared marks the
// explicit sign-out / cache-clear signal that view state must honor.
type Update struct {
	Snapshot *catalog.Snapshot
	Err      error
	Cleared  bool
}

// subscriber is one consumer's handle into the multicast stream.
type subscriber struct {
	ch chan Update
}

// Notifier multicasts snapshot updates to any number of subscribers and
// drives refreshes from identity changes. Safe for concurrent use.
type Notifier struct {
	store    *store.Store
	provider identity.Provider
	detector *identity.Detector

	mu   sync.Mutex
	last Update
	subs map[*subscriber]struct{}
}

// New creates a Notifier over st, using provider for identity.
func New(st *store.Store, provider identity.Provider) *Notifier {
	return &Notifier{
		store:    st,
		provider: provider,
		detector: identity.NewDetector(),
		subs:     make(map[*subscriber]struct{}),
	}
}

// Subscribe registers a new consumer. The returned channel synchronously
// carries the last known update (possibly empty) before any future push.
// cancel must be called exactly once to release the subscription.
func (n *Notifier) Subscribe() (<-chan Update, func()) {
	s := &subscriber{ch: make(chan Update, subBufSize)}

	n.mu.Lock()
	s.ch <- n.last // buffered; replay-latest before any live publish
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, s)
			close(s.ch)
			n.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Initialize primes the notifier. If the store already holds a fresh
// snapshot for the current fingerprint it is published synchronously with no
// I/O; otherwise a non-forced refresh runs in the background.
func (n *Notifier) Initialize(ctx context.Context) {
	fp := n.provider.Current()
	n.detector.Observe(fp)
	n.store.SetFingerprint(fp)

	if snap, ok := n.store.Peek(); ok && n.store.State() == store.StateFresh {
		n.publish(Update{Snapshot: snap})
		return
	}

	go func() {
		if _, err := n.Refresh(ctx, false); err != nil {
			slog.Warn("notifier: initial refresh failed", "err", err)
		}
	}()
}

// Refresh forwards to the store and publishes the outcome. force bypasses
// the TTL check; identity-change refreshes always force. All concurrent
// callers of one underlying fetch observe the same snapshot and error.
func (n *Notifier) Refresh(ctx context.Context, force bool) (*catalog.Snapshot, error) {
	snap, err := n.store.Get(ctx, force)

	if errors.Is(err, store.ErrSuperseded) {
		// The identity changed while the fetch was in flight; the store
		// discarded its result and the transition's own refresh owns the
		// stream. Nothing to publish, no error to surface.
		retained, _ := n.store.Peek()
		return retained, nil
	}

	if errors.Is(err, source.ErrPermission) {
		// The scope is no longer authorized. Re-evaluate identity once
		// instead of retrying blind.
		slog.Warn("notifier: permission denied, re-evaluating identity", "err", err)
		if n.onFingerprint(ctx, n.provider.Current()) {
			// The fingerprint really moved and the transition's refresh
			// published the new scope's outcome. The permission failure
			// belonged to the old scope; reporting it now would pair a
			// stale error with current data.
			retained, _ := n.store.Peek()
			return retained, n.store.LastError()
		}
	}

	n.publishResult(snap, err)
	return snap, err
}

// Run consumes the provider's fingerprint stream until ctx is cancelled,
// forcing one refresh per real identity transition.
func (n *Notifier) Run(ctx context.Context) {
	changes := n.provider.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case fp, ok := <-changes:
			if !ok {
				return
			}
			n.onFingerprint(ctx, fp)
		}
	}
}

// SignOut clears the cache and tells every subscriber to drop retained
// view state. This is the only signal that empties already-rendered data.
func (n *Notifier) SignOut() {
	n.store.Clear()
	n.store.SetFingerprint(catalog.Anonymous())
	n.detector.Observe(catalog.Anonymous())
	n.publish(Update{Cleared: true})
}

// Metrics exposes the store's observability view.
func (n *Notifier) Metrics() store.Metrics {
	return n.store.Metrics()
}

// Fingerprint returns the identity the cache is currently scoped to.
func (n *Notifier) Fingerprint() catalog.Fingerprint {
	return n.store.Fingerprint()
}

// Cached returns the retained snapshot without any I/O.
func (n *Notifier) Cached() (*catalog.Snapshot, bool) {
	return n.store.Peek()
}

// onFingerprint applies one observed fingerprint: a real transition installs
// it in the store and forces a refresh; duplicates and resolution noise do
// nothing. Reports whether a transition was handled.
func (n *Notifier) onFingerprint(ctx context.Context, fp catalog.Fingerprint) bool {
	if !n.detector.Observe(fp) {
		return false
	}

	n.store.SetFingerprint(fp)
	slog.Info("notifier: identity changed, forcing refresh", "fingerprint", fp.String())

	snap, err := n.store.Get(ctx, true)
	if errors.Is(err, store.ErrSuperseded) {
		// Yet another transition overtook this one; its refresh publishes.
		return true
	}
	n.publishResult(snap, err)
	return true
}

// publishResult publishes a refresh outcome, preserving retained data on
// failure: subscribers always see the newest snapshot the store holds,
// paired with the error if the producing fetch failed.
func (n *Notifier) publishResult(snap *catalog.Snapshot, err error) {
	if err == nil && snap != nil && !snap.Fingerprint.Equal(n.store.Fingerprint()) {
		// The identity moved between this fetch completing and the publish;
		// a snapshot for the old scope must never reach subscribers after
		// the transition's refresh.
		return
	}
	if err != nil {
		// Serve whatever the store retained alongside the error.
		if retained, ok := n.store.Peek(); ok {
			snap = retained
		} else {
			snap = nil
		}
	}
	n.publish(Update{Snapshot: snap, Err: err})
}

// publish records u as the latest update and fans it out. Publishing the
// identical outcome twice is suppressed so N callers joined onto one fetch
// produce a single notification.
func (n *Notifier) publish(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sameUpdate(n.last, u) {
		return
	}
	n.last = u

	for s := range n.subs {
		select {
		case s.ch <- u:
		default:
			// Subscriber is lagging: evict its oldest queued update so the
			// newest always lands.
			select {
			case <-s.ch:
			default:
			}
			s.ch <- u
		}
	}
}

// sameUpdate reports whether two updates describe the identical outcome.
// Snapshots are immutable, so pointer equality is exact.
func sameUpdate(a, b Update) bool {
	return a.Snapshot == b.Snapshot && a.Err == b.Err && a.Cleared == b.Cleared //nolint:errorlint // identity, not classification
}
