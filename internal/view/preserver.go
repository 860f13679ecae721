package view

import (
	"sync"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/notifier"
)

// Preserver retains the last snapshot delivered to one screen so navigation
// never shows an empty state while a background refresh completes.
//
// Attach subscribes to the notifier (idempotently — re-entering a screen
// reuses the live subscription) and starts a consumer goroutine. Enter
// returns the retained update synchronously. Detach releases the
// subscription without touching the retained copy: only a Cleared update
// from the notifier empties it.
type Preserver struct {
	notifier *notifier.Notifier

	mu          sync.Mutex
	last        notifier.Update
	initialized bool
	cancel      func()
	done        chan struct{}

	// onUpdate, when set, is invoked after every retained-copy replacement.
	// Screens hook their re-render here.
	onUpdate func(notifier.Update)
}

// New creates a Preserver for one screen over n.
func New(n *notifier.Notifier) *Preserver {
	return &Preserver{notifier: n}
}

// OnUpdate registers the re-render hook. Must be called before Attach.
func (p *Preserver) OnUpdate(fn func(notifier.Update)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// Attach ensures a live subscription to the notifier. Calling Attach on an
// already-attached Preserver is a no-op, so screen re-entry is free.
func (p *Preserver) Attach() {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}

	ch, cancel := p.notifier.Subscribe()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go p.consume(ch, done)
}

// Detach releases the subscription. The retained snapshot is kept — screen
// lifecycle never empties view state.
func (p *Preserver) Detach() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Enter is the screen's re-entry point: it returns the retained update
// synchronously. initialized reports whether any update has ever arrived —
// false means the screen should show its first-load state.
func (p *Preserver) Enter() (notifier.Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.initialized
}

// Snapshot returns the retained snapshot, if one is held.
func (p *Preserver) Snapshot() (*catalog.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last.Snapshot, p.last.Snapshot != nil
}

// consume replaces the retained copy on every push until the subscription
// channel closes.
func (p *Preserver) consume(ch <-chan notifier.Update, done chan struct{}) {
	defer close(done)
	for u := range ch {
		p.mu.Lock()
		if u.Cleared {
			// The one signal allowed to drop retained view state.
			p.last = notifier.Update{Cleared: true}
			p.initialized = false
		} else {
			p.last = u
			// The empty pre-first-fetch replay does not count as data.
			if u.Snapshot != nil || u.Err != nil {
				p.initialized = true
			}
		}
		fn := p.onUpdate
		p.mu.Unlock()

		if fn != nil {
			fn(u)
		}
	}
}
