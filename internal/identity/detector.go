package identity

import (
	"sync"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

// Detector turns a raw fingerprint stream into invalidation decisions. It is
// the single authority on "did the viewer's scope actually change" — every
// cache invalidation in the engine traces back to an Observe that returned
// true.
//
// Rules:
//   - Fingerprints are compared field-by-field, by value.
//   - Unresolved placeholders are resolution noise, never a transition.
//   - The first resolved fingerprint establishes the baseline without
//     signalling a change (cold start is not an invalidation).
//   - Duplicate signals for the already-active fingerprint are swallowed.
//
// Detector is safe for concurrent use.
type Detector struct {
	mu   sync.Mutex
	last catalog.Fingerprint
	seen bool
}

// NewDetector creates a Detector with no baseline fingerprint.
func NewDetector() *Detector {
	return &Detector{}
}

// Observe feeds one fingerprint into the detector and reports whether it
// represents a real identity transition. The last-seen fingerprint is
// updated to the latest resolved truth regardless of the return value.
func (d *Detector) Observe(fp catalog.Fingerprint) bool {
	if !fp.Resolved {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.seen {
		d.last = fp
		d.seen = true
		return false
	}

	changed := !d.last.Equal(fp)
	d.last = fp
	return changed
}

// Last returns the last resolved fingerprint observed, and whether one has
// been observed at all.
func (d *Detector) Last() (catalog.Fingerprint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.seen
}
