package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/identity"
	"github.com/shelfsync/shelfsync/internal/source"
	"github.com/shelfsync/shelfsync/internal/store"
)

// scopedSource returns the public catalog to anonymous viewers and a larger
// permission-scoped set to signed-in ones. Calls are counted per scope.
type scopedSource struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	errs  map[string]error

	// block, when non-nil, holds every fetch in flight until closed; gates
	// hold only fetches for one scope.
	block chan struct{}
	gates map[string]chan struct{}
}

func newScopedSource() *scopedSource {
	return &scopedSource{
		calls: make(map[string]int),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

func (s *scopedSource) Fetch(ctx context.Context, scope catalog.Fingerprint) ([]catalog.Collection, error) {
	s.mu.Lock()
	s.calls[scope.UserID]++
	err := s.err
	if err == nil {
		err = s.errs[scope.UserID]
	}
	block := s.block
	gate := s.gates[scope.UserID]
	s.mu.Unlock()

	for _, hold := range []chan struct{}{block, gate} {
		if hold == nil {
			continue
		}
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", source.ErrNetwork, ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}

	public := []catalog.Collection{
		{ID: "lpmi", Name: "LPMI", Visibility: catalog.VisibilityPublic, ItemCount: 12},
		{ID: "srd", Name: "SRD", Visibility: catalog.VisibilityPublic, ItemCount: 7},
	}
	if scope.IsAnonymous() {
		return public, nil
	}
	return append(public, catalog.Collection{
		ID: "members", Name: "Members", Visibility: catalog.VisibilityAuthenticated, ItemCount: 3,
	}), nil
}

func (s *scopedSource) callsFor(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[userID]
}

func (s *scopedSource) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *scopedSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *scopedSource) setErrFor(userID string, err error) {
	s.mu.Lock()
	s.errs[userID] = err
	s.mu.Unlock()
}

// gate installs a hold on fetches for one scope; close the returned channel
// to release them.
func (s *scopedSource) gate(userID string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[userID] = ch
	s.mu.Unlock()
	return ch
}

// newEngine builds a store+notifier pair over src with a static anonymous
// provider.
func newEngine(src source.Source) (*Notifier, *store.Store, *identity.Static) {
	st := store.New(src, 180*time.Second, 5*time.Second)
	provider := identity.NewStatic(catalog.Anonymous())
	return New(st, provider), st, provider
}

// recv reads one update with a deadline.
func recv(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(3 * time.Second):
		t.Fatal("no update received before deadline")
		return Update{}
	}
}

// recvSnapshot reads updates until one carries a snapshot.
func recvSnapshot(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-ch:
			if u.Snapshot != nil {
				return u
			}
		case <-deadline:
			t.Fatal("no snapshot update received before deadline")
		}
	}
}

func TestSubscribe_ReplaysLatestSynchronously(t *testing.T) {
	src := newScopedSource()
	n, _, _ := newEngine(src)

	if _, err := n.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	ch, cancel := n.Subscribe()
	defer cancel()

	// The last update must already be buffered — no waiting, no fetch.
	select {
	case u := <-ch:
		if u.Snapshot.Len() != 2 {
			t.Errorf("replayed snapshot: got %d collections, want 2", u.Snapshot.Len())
		}
	default:
		t.Fatal("Subscribe did not replay the latest update synchronously")
	}
	if n := src.totalCalls(); n != 1 {
		t.Errorf("fetch calls: got %d, want 1", n)
	}
}

func TestSubscribe_EmptyReplayBeforeFirstFetch(t *testing.T) {
	src := newScopedSource()
	n, _, _ := newEngine(src)

	ch, cancel := n.Subscribe()
	defer cancel()

	u := recv(t, ch)
	if u.Snapshot != nil || u.Err != nil || u.Cleared {
		t.Errorf("initial replay: got %+v, want empty update", u)
	}
}

func TestInitialize_FreshSnapshotPublishedWithoutIO(t *testing.T) {
	src := newScopedSource()
	n, st, _ := newEngine(src)

	st.SetFingerprint(catalog.Anonymous())
	if _, err := st.Get(context.Background(), false); err != nil {
		t.Fatalf("warm-up Get() error = %v", err)
	}

	ch, cancel := n.Subscribe()
	defer cancel()
	recv(t, ch) // drain the empty replay

	n.Initialize(context.Background())

	u := recvSnapshot(t, ch)
	if u.Snapshot.Len() != 2 {
		t.Errorf("published snapshot: got %d collections, want 2", u.Snapshot.Len())
	}
	if calls := src.totalCalls(); calls != 1 {
		t.Errorf("fetch calls: got %d, want 1 (no I/O on fresh initialize)", calls)
	}
}

func TestInitialize_ColdCacheTriggersBackgroundFetch(t *testing.T) {
	src := newScopedSource()
	n, _, _ := newEngine(src)

	ch, cancel := n.Subscribe()
	defer cancel()

	n.Initialize(context.Background())

	u := recvSnapshot(t, ch)
	if u.Snapshot.Len() != 2 {
		t.Errorf("published snapshot: got %d collections, want 2", u.Snapshot.Len())
	}
}

func TestRefresh_ConcurrentCallersOnePublish(t *testing.T) {
	src := newScopedSource()
	src.block = make(chan struct{})
	n, _, _ := newEngine(src)

	ch, cancel := n.Subscribe()
	defer cancel()
	recv(t, ch) // drain the empty replay

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Refresh(context.Background(), true) //nolint:errcheck
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.block)
	wg.Wait()

	if calls := src.totalCalls(); calls != 1 {
		t.Fatalf("fetch calls: got %d, want 1", calls)
	}

	// Exactly one update lands despite N callers publishing the outcome.
	recvSnapshot(t, ch)
	select {
	case u := <-ch:
		t.Fatalf("unexpected second update: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRun_LoginTransition(t *testing.T) {
	src := newScopedSource()
	n, _, provider := newEngine(src)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go n.Run(ctx)

	n.Initialize(ctx)

	ch, cancel := n.Subscribe()
	defer cancel()
	first := recvSnapshot(t, ch)
	if first.Snapshot.Len() != 2 {
		t.Fatalf("anonymous snapshot: got %d collections, want 2", first.Snapshot.Len())
	}

	// Hold the sign-in fetch in flight and flip the identity.
	src.block = make(chan struct{})
	provider.Set(catalog.Fingerprint{UserID: "u1", Resolved: true})

	waitFor(t, func() bool { return src.callsFor("u1") == 1 })

	// Until the forced refresh resolves, the retained snapshot stands —
	// no flash to empty.
	if snap, ok := n.Cached(); !ok || snap.Len() != 2 {
		t.Fatal("retained snapshot lost during login transition")
	}

	close(src.block)

	u := recvSnapshot(t, ch)
	if u.Snapshot.Len() != 3 {
		t.Errorf("signed-in snapshot: got %d collections, want 3", u.Snapshot.Len())
	}
	if u.Snapshot.Fingerprint.UserID != "u1" {
		t.Errorf("snapshot fingerprint: got %s, want u1", u.Snapshot.Fingerprint)
	}
	if calls := src.callsFor("u1"); calls != 1 {
		t.Errorf("forced refreshes for u1: got %d, want 1", calls)
	}
}

func TestRun_DuplicateFingerprintSignalIgnored(t *testing.T) {
	src := newScopedSource()
	n, _, provider := newEngine(src)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go n.Run(ctx)

	n.Initialize(ctx)
	waitFor(t, func() bool { return src.totalCalls() == 1 })

	// The provider re-emits the identical fingerprint several times.
	for i := 0; i < 3; i++ {
		provider.Set(catalog.Anonymous())
	}

	time.Sleep(100 * time.Millisecond)
	if calls := src.totalCalls(); calls != 1 {
		t.Errorf("fetch calls after duplicate signals: got %d, want 1", calls)
	}
}

func TestRun_RapidToggleLastFingerprintWins(t *testing.T) {
	src := newScopedSource()
	src.block = make(chan struct{})
	n, st, provider := newEngine(src)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go n.Run(ctx)

	n.Initialize(ctx) // background fetch blocks
	waitFor(t, func() bool { return src.totalCalls() == 1 })

	admin := catalog.Fingerprint{UserID: "u1", Admin: true, Resolved: true}
	plain := catalog.Fingerprint{UserID: "u1", Resolved: true}

	provider.Set(plain)
	provider.Set(admin)
	provider.Set(plain)

	waitFor(t, func() bool { return src.totalCalls() >= 2 })
	close(src.block)

	// The settled identity is plain u1. All three queued transitions drain
	// (anonymous + plain + admin + plain = 4 fetches) and the cache must end
	// on the settled fingerprint, with every superseded completion discarded
	// rather than cached.
	waitFor(t, func() bool {
		snap, ok := n.Cached()
		return src.totalCalls() >= 4 && ok && snap.Fingerprint.Equal(plain)
	})
	if fp := st.Fingerprint(); !fp.Equal(plain) {
		t.Errorf("store fingerprint: got %s, want settled u1", fp)
	}
	if m := n.Metrics(); m.FetchesDiscarded == 0 {
		t.Error("FetchesDiscarded: got 0, want at least one superseded completion")
	}
}

func TestRefresh_SupersededCompletionNotPublished(t *testing.T) {
	src := newScopedSource()
	anonGate := src.gate("")
	n, _, provider := newEngine(src)

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go n.Run(ctx)

	ch, cancel := n.Subscribe()
	defer cancel()
	recv(t, ch) // drain the empty replay

	// Initialize starts the anonymous background fetch; the gate holds it
	// in flight.
	n.Initialize(ctx)
	waitFor(t, func() bool { return src.callsFor("") == 1 })

	// The viewer signs in; the signed-in refresh completes first.
	provider.Set(catalog.Fingerprint{UserID: "u1", Resolved: true})
	u := recvSnapshot(t, ch)
	if u.Snapshot.Len() != 3 {
		t.Fatalf("signed-in snapshot: got %d collections, want 3", u.Snapshot.Len())
	}

	// Release the anonymous fetch. Its completion was superseded by the
	// sign-in and must never reach subscribers.
	close(anonGate)
	waitFor(t, func() bool { return n.Metrics().FetchesDiscarded == 1 })

	select {
	case u := <-ch:
		t.Fatalf("superseded completion was published: %d collections, fp=%s",
			u.Snapshot.Len(), u.Snapshot.Fingerprint)
	case <-time.After(100 * time.Millisecond):
	}

	// A new subscriber must replay the signed-in snapshot, not the stale one.
	ch2, cancel2 := n.Subscribe()
	defer cancel2()
	if u := recv(t, ch2); u.Snapshot.Len() != 3 || u.Snapshot.Fingerprint.UserID != "u1" {
		t.Errorf("replayed snapshot: got %d collections fp=%s, want the signed-in 3",
			u.Snapshot.Len(), u.Snapshot.Fingerprint)
	}
}

func TestRefresh_PermissionErrorNotPublishedAfterIdentityRefresh(t *testing.T) {
	src := newScopedSource()
	n, _, provider := newEngine(src)

	n.Initialize(context.Background())
	waitFor(t, func() bool { return src.totalCalls() == 1 })

	ch, cancel := n.Subscribe()
	defer cancel()
	if u := recv(t, ch); u.Snapshot.Len() != 2 {
		t.Fatalf("anonymous snapshot: got %d collections, want 2", u.Snapshot.Len())
	}

	// The backend revokes the anonymous scope; the host shell has already
	// advanced the session to u2.
	src.setErrFor("", fmt.Errorf("%w: scope revoked", source.ErrPermission))
	provider.Set(catalog.Fingerprint{UserID: "u2", Resolved: true})

	snap, err := n.Refresh(context.Background(), true)
	if err != nil {
		t.Fatalf("Refresh() error = %v, want nil after identity re-evaluation", err)
	}
	if snap.Len() != 3 {
		t.Errorf("Refresh() snapshot: got %d collections, want signed-in 3", snap.Len())
	}

	// Exactly one publish: the clean u2 outcome. The permission failure
	// belonged to the superseded scope and must not trail it.
	u := recvSnapshot(t, ch)
	if u.Snapshot.Len() != 3 || u.Err != nil {
		t.Fatalf("published update: got %d collections err=%v, want 3 and nil", u.Snapshot.Len(), u.Err)
	}
	select {
	case u := <-ch:
		t.Fatalf("stale permission outcome published: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}

	// Future subscribers replay the clean outcome too.
	ch2, cancel2 := n.Subscribe()
	defer cancel2()
	if u := recv(t, ch2); u.Err != nil || u.Snapshot.Len() != 3 {
		t.Errorf("replayed update: got %d collections err=%v, want 3 and nil", u.Snapshot.Len(), u.Err)
	}
}

func TestRefresh_FailureServesRetainedData(t *testing.T) {
	src := newScopedSource()
	n, _, _ := newEngine(src)

	if _, err := n.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	src.setErr(fmt.Errorf("%w: connection refused", source.ErrNetwork))

	ch, cancel := n.Subscribe()
	defer cancel()
	recv(t, ch) // replay of the good snapshot

	if _, err := n.Refresh(context.Background(), true); !errors.Is(err, source.ErrNetwork) {
		t.Fatalf("Refresh() error = %v, want network error", err)
	}

	u := recv(t, ch)
	if u.Snapshot.Len() != 2 {
		t.Errorf("update snapshot: got %d collections, want retained 2", u.Snapshot.Len())
	}
	if u.Err == nil {
		t.Error("update error: got nil, want the fetch failure alongside data")
	}
}

func TestRefresh_PermissionErrorReevaluatesIdentity(t *testing.T) {
	src := newScopedSource()
	n, st, provider := newEngine(src)

	n.Initialize(context.Background())
	waitFor(t, func() bool { return src.totalCalls() == 1 })

	// The backend revokes the anonymous scope at the same moment the host
	// shell has already advanced the session.
	provider.Set(catalog.Fingerprint{UserID: "u2", Resolved: true})
	src.setErr(fmt.Errorf("%w: scope revoked", source.ErrPermission))

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The permission failure must trigger one identity re-evaluation,
		// which finds u2 and refreshes under it.
		n.Refresh(context.Background(), true) //nolint:errcheck
	}()

	waitFor(t, func() bool { return src.callsFor("u2") >= 1 })
	src.setErr(nil)
	<-done

	if fp := st.Fingerprint(); fp.UserID != "u2" {
		t.Errorf("store fingerprint: got %s, want u2", fp)
	}
}

func TestSignOut_ClearsAndPublishes(t *testing.T) {
	src := newScopedSource()
	n, st, _ := newEngine(src)

	if _, err := n.Refresh(context.Background(), false); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	ch, cancel := n.Subscribe()
	defer cancel()
	recv(t, ch) // replay

	n.SignOut()

	u := recv(t, ch)
	if !u.Cleared {
		t.Errorf("update: got %+v, want Cleared", u)
	}
	if _, ok := st.Peek(); ok {
		t.Error("store still holds a snapshot after sign-out")
	}
}

func TestSubscribe_CancelReleases(t *testing.T) {
	src := newScopedSource()
	n, _, _ := newEngine(src)

	_, cancel1 := n.Subscribe()
	_, cancel2 := n.Subscribe()
	if got := n.Subscribers(); got != 2 {
		t.Fatalf("Subscribers: got %d, want 2", got)
	}

	cancel1()
	cancel1() // idempotent
	if got := n.Subscribers(); got != 1 {
		t.Errorf("Subscribers after cancel: got %d, want 1", got)
	}
	cancel2()
}

// waitFor polls cond until it is true or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
