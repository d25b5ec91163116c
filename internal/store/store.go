package store

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dem31/ouinet/internal/util/logger"
	"github.com/dem31/ouinet/pkg/signedhttp"
)

// ErrNotFound is returned by Open when no entry exists for a key.
var ErrNotFound = fmt.Errorf("store: entry not found")

// Store is a directory of injected responses on disk, laid out per
// spec.md §3.
type Store struct {
	root string
	log  *slog.Logger
}

// New returns a Store rooted at dir, which must already exist.
func New(dir string) *Store {
	return &Store{root: dir, log: logger.Logger("store")}
}

// Create begins a new entry for key, persisting head immediately
// (without trailer fields) so the entry is visible to readers as soon
// as the first block starts arriving. Any previous entry at key is
// overwritten once the new head lands.
func (s *Store) Create(key string, head signedhttp.Head) (*Writer, error) {
	dir := entryDir(s.root, key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: creating entry dir: %w", err)
	}

	if err := atomicWriteFile(filepath.Join(dir, headFile), encodeHead(head)); err != nil {
		return nil, err
	}

	body, err := os.OpenFile(filepath.Join(dir, bodyFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: creating body file: %w", err)
	}
	sigs, err := os.OpenFile(filepath.Join(dir, sigsFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("store: creating sigs file: %w", err)
	}

	s.log.Debug("entry created", "key", key, "dir", dir)
	return &Writer{dir: dir, body: body, sigs: sigs, log: s.log}, nil
}

// Open returns the existing entry for key, or ErrNotFound if none
// exists.
func (s *Store) Open(key string) (*Entry, error) {
	dir := entryDir(s.root, key)
	if _, err := os.Stat(filepath.Join(dir, headFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("store: statting %s: %w", key, err)
	}
	return &Entry{dir: dir}, nil
}

// ForEach visits every entry under the store in arbitrary order. fn
// returns false to have the entry deleted, e.g. as the action half of
// an external eviction policy; this store does not schedule eviction
// itself.
func (s *Store) ForEach(fn func(*Entry) (keep bool)) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != headFile {
			return nil
		}
		dir := filepath.Dir(path)
		if !fn(&Entry{dir: dir}) {
			s.log.Debug("entry evicted", "dir", dir)
			return os.RemoveAll(dir)
		}
		return nil
	})
}
