package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/shelfsync/shelfsync/internal/catalog"
)

// sessionFile is the on-disk shape of the watched session file.
type sessionFile struct {
	UserID     string `yaml:"user_id"`
	Admin      bool   `yaml:"admin"`
	SuperAdmin bool   `yaml:"super_admin"`
}

// FileProvider resolves the viewer's fingerprint from a session YAML file
// and watches it for changes. The host shell (login flow, token refresher)
// owns the file; this provider only reads it.
//
// Until the first successful read the fingerprint is the unresolved
// placeholder. An unreadable or unparsable file after that keeps the
// previous fingerprint active. A deleted file means signed out (anonymous).
type FileProvider struct {
	path string

	mu      sync.Mutex
	current catalog.Fingerprint
	changes chan catalog.Fingerprint
}

// NewFileProvider creates a FileProvider for path. The fingerprint stays
// unresolved until Run performs the initial load.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{
		path:    path,
		changes: make(chan catalog.Fingerprint, changeBufSize),
	}
}

// Current returns the latest known fingerprint.
func (p *FileProvider) Current() catalog.Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Changes returns the fingerprint stream.
func (p *FileProvider) Changes() <-chan catalog.Fingerprint {
	return p.changes
}

// Run loads the session file once, then watches it until ctx is cancelled.
// Every successful reload emits the resulting fingerprint on Changes();
// duplicate emits are fine — the Detector downstream de-noises them.
//
// The watch is on the parent directory, not the file: session files come and
// go (sign-out removes the file, sign-in recreates it) and a watch on the
// path itself dies with the inode.
func (p *FileProvider) Run(ctx context.Context) error {
	p.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("identity: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("identity: watch %q: %w", dir, err)
	}

	slog.Info("identity: watching session file", "path", p.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			// Reload on write or create. Editors and token refreshers often
			// replace the file via rename (atomic save), which arrives on the
			// directory watch as a Create for the target name; Remove or a
			// rename-away means the viewer signed out.
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				p.reload()
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				p.set(catalog.Anonymous())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("identity: watcher error", "err", err)
		}
	}
}

// reload reads and parses the session file, emitting the new fingerprint.
// On failure the previous fingerprint remains active and nothing is emitted,
// except that a missing file resolves to anonymous.
func (p *FileProvider) reload() {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.set(catalog.Anonymous())
			return
		}
		slog.Error("identity: session read failed, keeping previous fingerprint",
			"path", p.path, "err", err)
		return
	}

	var sess sessionFile
	if err := yaml.Unmarshal(data, &sess); err != nil {
		slog.Error("identity: session parse failed, keeping previous fingerprint",
			"path", p.path, "err", err)
		return
	}

	p.set(catalog.Fingerprint{
		UserID:     sess.UserID,
		Admin:      sess.Admin,
		SuperAdmin: sess.SuperAdmin,
		Resolved:   true,
	})
}

// set stores fp as current and emits it on the stream.
func (p *FileProvider) set(fp catalog.Fingerprint) {
	p.mu.Lock()
	changed := !p.current.Equal(fp) || !p.current.Resolved
	p.current = fp
	p.mu.Unlock()

	if changed {
		slog.Info("identity: fingerprint updated", "fingerprint", fp.String())
	}
	emitLatest(p.changes, fp)
}
