package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

// Error kinds for fetch failures. Implementations wrap one of these so
// callers can classify with errors.Is without knowing the transport.
var (
	// ErrNetwork covers transient transport failures, including timeouts.
	// The cache serves retained data alongside it and does not auto-retry.
	ErrNetwork = errors.New("network error")

	// ErrPermission means the scope is no longer authorized for the request.
	// The engine reacts by re-evaluating identity, never by blind retry.
	ErrPermission = errors.New("permission denied")

	// ErrMalformed means the payload failed validation. The result is
	// discarded whole — never partially cached or merged.
	ErrMalformed = errors.New("malformed payload")
)

// Source fetches the collection list visible to the given permission scope.
// The returned slice is ordered as the backend orders it and is owned by the
// caller.
type Source interface {
	Fetch(ctx context.Context, scope catalog.Fingerprint) ([]catalog.Collection, error)
}

// isNetwork reports whether err is a network-class failure (timeouts included).
func isNetwork(err error) bool { return errors.Is(err, ErrNetwork) }

// validateAll checks every record in a fetched payload. One bad record fails
// the whole fetch as malformed.
func validateAll(collections []catalog.Collection) error {
	for i, c := range collections {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrMalformed, i, err)
		}
	}
	return nil
}
