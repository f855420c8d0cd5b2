// Package credential persists per-session authentication material.
// Each session owns one directory under the store's root; the directory is
// created lazily on first load and removed when the session's credentials
// become invalid (explicit logout or disconnect).
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const dirPerm = 0o700

// ErrInvalidID rejects session ids that could resolve outside the store's
// root directory.
var ErrInvalidID = errors.New("invalid session id")

// Handle references one session's credential directory. It is exclusively
// owned by the session for its lifetime; the protocol adapter writes rotated
// key material through it as the underlying library reports updates.
type Handle struct {
	SessionID string

	fs  afero.Fs
	dir string
}

// Dir returns the credential directory path.
func (h *Handle) Dir() string {
	return h.dir
}

// Put writes one named credential file, replacing any previous content.
func (h *Handle) Put(name string, data []byte) error {
	if err := afero.WriteFile(h.fs, filepath.Join(h.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("writing credential %s for %s: %w", name, h.SessionID, err)
	}
	return nil
}

// Get reads one named credential file.
func (h *Handle) Get(name string) ([]byte, error) {
	data, err := afero.ReadFile(h.fs, filepath.Join(h.dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading credential %s for %s: %w", name, h.SessionID, err)
	}
	return data, nil
}

// Has reports whether a named credential file exists.
func (h *Handle) Has(name string) bool {
	ok, err := afero.Exists(h.fs, filepath.Join(h.dir, name))
	return err == nil && ok
}

// Store manages credential directories under a root data directory,
// one subdirectory per session id.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a Store backed by the OS filesystem.
func NewStore(root string) *Store {
	return NewStoreWithFs(afero.NewOsFs(), root)
}

// NewStoreWithFs creates a Store over an arbitrary filesystem.
// Tests use afero.NewMemMapFs.
func NewStoreWithFs(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Load returns the session's credential handle, creating an empty
// directory in place when none exists. A missing directory is not an error.
func (s *Store) Load(id string) (*Handle, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dir := s.dirFor(id)
	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("creating credential dir for %s: %w", id, err)
	}
	return &Handle{SessionID: id, fs: s.fs, dir: dir}, nil
}

// Delete recursively removes the session's credential directory.
// Deleting an absent directory is a no-op.
func (s *Store) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	err := s.fs.RemoveAll(s.dirFor(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential dir for %s: %w", id, err)
	}
	return nil
}

// HasExisting reports whether the session has a non-empty credential
// directory, i.e. material from a previous pairing that can be reused.
func (s *Store) HasExisting(id string) bool {
	if !validID(id) {
		return false
	}
	entries, err := afero.ReadDir(s.fs, s.dirFor(id))
	if err != nil {
		return false
	}
	return len(entries) > 0
}

func (s *Store) dirFor(id string) string {
	return filepath.Join(s.root, id)
}

// validID constrains an id to a single path element under the root.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
