package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

// FileSource reads the catalog from a local YAML file. It exists for offline
// bootstrap: a Fallback can consult it when the network source is down so a
// cold start still renders something.
//
// The file holds a plain list:
//
//	- id: lpmi
//	  name: LPMI
//	  visibility: public
//	  item_count: 42
type FileSource struct {
	path string
}

// NewFile creates a FileSource reading from path.
func NewFile(path string) *FileSource {
	return &FileSource{path: path}
}

// Fetch reads and parses the local catalog, then filters it to the scope.
// A missing file is a network-class failure so Fallback chains keep their
// semantics; a file that parses but fails validation is malformed.
func (s *FileSource) Fetch(_ context.Context, scope catalog.Fingerprint) ([]catalog.Collection, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read local catalog %q: %v", ErrNetwork, s.path, err)
	}

	var collections []catalog.Collection
	if err := yaml.Unmarshal(data, &collections); err != nil {
		return nil, fmt.Errorf("%w: parse local catalog %q: %v", ErrMalformed, s.path, err)
	}
	if err := validateAll(collections); err != nil {
		return nil, err
	}

	return filterScope(collections, scope), nil
}

// filterScope drops records the scope may not see. The remote backend does
// this server-side; the local file has no server, so it is applied here.
func filterScope(collections []catalog.Collection, scope catalog.Fingerprint) []catalog.Collection {
	out := make([]catalog.Collection, 0, len(collections))
	for _, c := range collections {
		switch c.Visibility {
		case catalog.VisibilityPublic:
			out = append(out, c)
		case catalog.VisibilityAuthenticated:
			if !scope.IsAnonymous() {
				out = append(out, c)
			}
		case catalog.VisibilityAdmin:
			if scope.Admin || scope.SuperAdmin {
				out = append(out, c)
			}
		}
	}
	return out
}

// Fallback is a Source that tries primary first and consults secondary only
// when primary fails with a network-class error. Permission and malformed
// failures pass through untouched — falling back on those would hide a real
// problem behind stale local data.
type Fallback struct {
	primary   Source
	secondary Source
}

// NewFallback chains two sources, primary first.
func NewFallback(primary, secondary Source) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// Fetch implements Source.
func (f *Fallback) Fetch(ctx context.Context, scope catalog.Fingerprint) ([]catalog.Collection, error) {
	collections, err := f.primary.Fetch(ctx, scope)
	if err == nil {
		return collections, nil
	}
	if !isNetwork(err) {
		return nil, err
	}

	slog.Warn("source: primary fetch failed, consulting fallback", "err", err)
	collections, ferr := f.secondary.Fetch(ctx, scope)
	if ferr != nil {
		// Report the primary failure; the fallback was best-effort.
		return nil, err
	}
	return collections, nil
}
