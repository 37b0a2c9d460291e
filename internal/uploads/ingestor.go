package uploads

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/media"
)

// Ingestor buffers chunked file uploads inside the managed media directory.
// Chunks accumulate in a "<filename>.tmp" buffer next to the final media
// files; finalizing the buffer is the caller's job, done by creating an
// asset whose uri points at the returned path.
type Ingestor interface {
	// WriteChunk writes a chunk into the upload buffer for filename and
	// returns the buffer's absolute path. A negative offset replaces the
	// whole buffer, anything else is written in place at that offset.
	WriteChunk(filename string, offset int64, chunk io.Reader) (string, error)
}

type ingestor struct {
	dir   *media.Dir
	fs    adapter.FileSystem
	locks keyedMutex
}

// NewIngestor creates an Ingestor writing into the given media directory
func NewIngestor(dir *media.Dir, fs adapter.FileSystem) Ingestor {
	return &ingestor{
		dir:   dir,
		fs:    fs,
		locks: keyedMutex{held: make(map[string]struct{})},
	}
}

// WriteChunk writes a chunk into the upload buffer for filename.
// Concurrent chunks for the same filename collide instead of interleaving,
// the second writer gets a conflict and is expected to retry.
func (i *ingestor) WriteChunk(filename string, offset int64, chunk io.Reader) (string, error) {
	base := filepath.Base(filepath.Clean(filename))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return "", domain.Validationf("invalid upload filename %q", filename)
	}

	if !i.locks.TryLock(base) {
		return "", domain.Conflictf("upload of %q already in progress", base)
	}
	defer i.locks.Unlock(base)

	path := i.dir.OwnedPath(base) + domain.UPLOAD_TMP_SUFFIX

	if offset < 0 {
		return path, i.replace(path, chunk)
	}
	return path, i.writeAt(path, offset, chunk)
}

// replace truncates the buffer and writes the whole payload
func (i *ingestor) replace(path string, chunk io.Reader) error {
	f, err := i.fs.Create(path)
	if err != nil {
		return domain.Storagef("creating upload buffer %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, chunk); err != nil {
		return domain.Storagef("writing upload buffer %s: %v", path, err)
	}
	return nil
}

// writeAt writes the payload in place at the given offset, growing the
// buffer when the offset is past its current end
func (i *ingestor) writeAt(path string, offset int64, chunk io.Reader) error {
	f, err := i.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return domain.Storagef("opening upload buffer %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return domain.Storagef("seeking upload buffer %s to %d: %v", path, offset, err)
	}
	if _, err := io.Copy(f, chunk); err != nil {
		return domain.Storagef("writing upload buffer %s: %v", path, err)
	}
	return nil
}

// keyedMutex hands out at most one lock per key
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (k *keyedMutex) TryLock(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, taken := k.held[key]; taken {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}
