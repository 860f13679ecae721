package identity

import (
	"sync"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

// Provider exposes the viewer's current fingerprint and a stream of updates.
//
// Changes() may emit duplicates and may transiently emit an unresolved
// placeholder during startup; consumers de-noise through a Detector.
type Provider interface {
	Current() catalog.Fingerprint
	Changes() <-chan catalog.Fingerprint
}

// changeBufSize is the fingerprint stream buffer depth. Emits are
// latest-wins: when a consumer lags, the oldest queued fingerprint is
// dropped — only the newest identity matters.
const changeBufSize = 8

// Static is a Provider with a programmatically set fingerprint. It backs
// anonymous runs (no session file) and tests that script identity changes.
type Static struct {
	mu      sync.Mutex
	current catalog.Fingerprint
	changes chan catalog.Fingerprint
}

// NewStatic creates a Static provider starting at fp.
func NewStatic(fp catalog.Fingerprint) *Static {
	return &Static{
		current: fp,
		changes: make(chan catalog.Fingerprint, changeBufSize),
	}
}

// Current returns the latest fingerprint.
func (s *Static) Current() catalog.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Changes returns the fingerprint stream.
func (s *Static) Changes() <-chan catalog.Fingerprint {
	return s.changes
}

// Set replaces the fingerprint and emits it on the stream.
func (s *Static) Set(fp catalog.Fingerprint) {
	s.mu.Lock()
	s.current = fp
	s.mu.Unlock()
	emitLatest(s.changes, fp)
}

// emitLatest pushes fp onto ch, evicting the oldest queued value if full.
func emitLatest(ch chan catalog.Fingerprint, fp catalog.Fingerprint) {
	select {
	case ch <- fp:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- fp
	}
}
