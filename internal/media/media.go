package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
)

// Dir manages the directory that owns all locally stored asset media.
// Files inside it are named after the asset id that owns them; everything
// else on the filesystem is treated as foreign and never deleted.
type Dir struct {
	root string
	fs   adapter.FileSystem
}

// NewDir resolves and creates the managed media directory
func NewDir(root string, fs adapter.FileSystem) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("media directory not configured")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving media directory %s: %w", root, err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory %s: %w", abs, err)
	}

	return &Dir{root: abs, fs: fs}, nil
}

// Root returns the absolute path of the managed directory
func (d *Dir) Root() string {
	return d.root
}

// OwnedPath returns the canonical media path for an asset id
func (d *Dir) OwnedPath(assetID string) string {
	return filepath.Join(d.root, assetID)
}

// Owns reports whether uri points at a file inside the managed directory
func (d *Dir) Owns(uri string) bool {
	if !filepath.IsAbs(uri) {
		return false
	}
	rel, err := filepath.Rel(d.root, filepath.Clean(uri))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Claim moves a local file into the managed directory under the asset id
// and returns the new path. Cross-device moves fall back to copy and remove.
func (d *Dir) Claim(srcPath, assetID string) (string, error) {
	dst := d.OwnedPath(assetID)

	if err := d.fs.Rename(srcPath, dst); err != nil {
		if copyErr := d.copyFile(srcPath, dst); copyErr != nil {
			return "", domain.Storagef("moving %s into media directory: %v", srcPath, err)
		}
		_ = d.fs.Remove(srcPath)
	}

	return dst, nil
}

// RemoveOwned deletes the file behind uri when the managed directory owns it.
// Foreign paths and already absent files are not errors.
func (d *Dir) RemoveOwned(uri string) error {
	if !d.Owns(uri) {
		return nil
	}
	if err := d.fs.Remove(uri); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Storagef("removing %s: %v", uri, err)
	}
	return nil
}

func (d *Dir) copyFile(src, dst string) error {
	in, err := d.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := d.fs.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = d.fs.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
