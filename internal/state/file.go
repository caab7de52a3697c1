package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	atomicio "github.com/sawpanic/hevygrow/internal/io"
)

const writeLockTimeout = 5 * time.Second

// FileStore keeps each document as a JSON file under one directory.
// Writes are atomic and serialized across processes by a lock file.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir ("data" when empty)
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "data"
	}
	return &FileStore{dir: dir}
}

func (f *FileStore) path(doc string) string {
	return filepath.Join(f.dir, doc+".json")
}

func (f *FileStore) LoadWhitelist(ctx context.Context) (Set, error) {
	return f.loadSet(docWhitelist), nil
}

func (f *FileStore) LoadUnfollowed(ctx context.Context) (Set, error) {
	return f.loadSet(docUnfollowed), nil
}

func (f *FileStore) SaveUnfollowed(ctx context.Context, s Set) error {
	return f.write(ctx, docUnfollowed, s.Sorted())
}

func (f *FileStore) LoadFollowCache(ctx context.Context) (FollowCache, error) {
	cache := FollowCache{}
	if !f.read(docFollowCache, &cache) || cache == nil {
		return FollowCache{}, nil
	}
	return cache, nil
}

func (f *FileStore) SaveFollowCache(ctx context.Context, c FollowCache) error {
	if c == nil {
		c = FollowCache{}
	}
	return f.write(ctx, docFollowCache, c)
}

func (f *FileStore) loadSet(doc string) Set {
	var names []string
	if !f.read(doc, &names) {
		return Set{}
	}
	return NewSet(names...)
}

// read decodes a document, reporting false when it is missing or corrupt
func (f *FileStore) read(doc string, v any) bool {
	path := f.path(doc)
	err := atomicio.ReadJSON(path, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("state file not found, starting empty")
	default:
		log.Warn().Err(err).Str("path", path).Msg("state file unreadable, starting empty")
	}
	return false
}

func (f *FileStore) write(ctx context.Context, doc string, v any) error {
	lock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if err := atomicio.WriteJSONAtomic(f.path(doc), v); err != nil {
		return fmt.Errorf("save %s: %w", doc, err)
	}
	return nil
}

func (f *FileStore) lock(ctx context.Context) (*flock.Flock, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	lock := flock.New(filepath.Join(f.dir, ".state.lock"))
	ctx, cancel := context.WithTimeout(ctx, writeLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring state lock: %w", err)
	}
	if !locked {
		return nil, errors.New("timeout waiting for state lock")
	}
	return lock, nil
}
