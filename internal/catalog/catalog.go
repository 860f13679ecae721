package catalog

import (
	"fmt"
	"time"
)

// Visibility classifies who may see a collection.
type Visibility string

const (
	// VisibilityPublic collections are visible to everyone, signed in or not.
	VisibilityPublic Visibility = "public"

	// VisibilityAuthenticated collections require a signed-in viewer.
	VisibilityAuthenticated Visibility = "authenticated"

	// VisibilityAdmin collections are visible to admins only.
	VisibilityAdmin Visibility = "admin"
)

// Valid reports whether v is one of the known visibility classes.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityAuthenticated, VisibilityAdmin:
		return true
	}
	return false
}

// Collection is one named collection in the catalog. Immutable once
// constructed — callers copy rather than mutate.
type Collection struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Visibility Visibility `json:"visibility" yaml:"visibility"`
	ItemCount  int        `json:"item_count" yaml:"item_count"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the structural constraints a remote payload must satisfy
// before it may enter the cache.
func (c Collection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("collection: missing id")
	}
	if c.Name == "" {
		return fmt.Errorf("collection %q: missing name", c.ID)
	}
	if !c.Visibility.Valid() {
		return fmt.Errorf("collection %q: unknown visibility %q", c.ID, c.Visibility)
	}
	if c.ItemCount < 0 {
		return fmt.Errorf("collection %q: negative item count %d", c.ID, c.ItemCount)
	}
	return nil
}

// Fingerprint is the viewer's identity and permission scope. Cached data is
// valid only for the fingerprint it was fetched under.
//
// A zero UserID means the viewer is anonymous. Resolved is false while the
// identity provider is still working out who the viewer is — an unresolved
// fingerprint is a startup placeholder, never a real identity transition.
type Fingerprint struct {
	UserID     string `json:"user_id" yaml:"user_id"`
	Admin      bool   `json:"admin" yaml:"admin"`
	SuperAdmin bool   `json:"super_admin" yaml:"super_admin"`
	Resolved   bool   `json:"resolved" yaml:"-"`
}

// Anonymous returns the resolved fingerprint of a signed-out viewer.
func Anonymous() Fingerprint {
	return Fingerprint{Resolved: true}
}

// Equal compares the identity fields by value. Resolved is deliberately
// excluded: resolution noise must not look like a permission change.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.UserID == other.UserID &&
		f.Admin == other.Admin &&
		f.SuperAdmin == other.SuperAdmin
}

// IsAnonymous reports whether the fingerprint carries no user identity.
func (f Fingerprint) IsAnonymous() bool { return f.UserID == "" }

// String renders the fingerprint for logs without leaking more than the ID.
func (f Fingerprint) String() string {
	if !f.Resolved {
		return "unresolved"
	}
	id := f.UserID
	if id == "" {
		id = "anonymous"
	}
	return fmt.Sprintf("%s(admin=%t,super=%t)", id, f.Admin, f.SuperAdmin)
}

// Snapshot is the result of one successful fetch: the ordered collection
// list, the fingerprint it was fetched under, and when it was fetched.
// A Snapshot is immutable; a refresh produces a new one.
type Snapshot struct {
	Collections []Collection
	Fingerprint Fingerprint
	FetchedAt   time.Time
}

// NewSnapshot builds a Snapshot, copying the collection slice so later
// mutation by the caller cannot reach into the cache.
func NewSnapshot(collections []Collection, fp Fingerprint, fetchedAt time.Time) *Snapshot {
	cp := make([]Collection, len(collections))
	copy(cp, collections)
	return &Snapshot{
		Collections: cp,
		Fingerprint: fp,
		FetchedAt:   fetchedAt,
	}
}

// Age returns how old the snapshot is at the given instant.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Len returns the number of collections in the snapshot; nil-safe.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Collections)
}
