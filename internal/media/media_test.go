package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	dir, err := NewDir(filepath.Join(t.TempDir(), "assets"), adapter.NewFileSystem())
	require.NoError(t, err)
	return dir
}

func TestNewDirCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "assets")
	dir, err := NewDir(root, adapter.NewFileSystem())
	require.NoError(t, err)

	info, err := os.Stat(dir.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewDirRequiresRoot(t *testing.T) {
	_, err := NewDir("", adapter.NewFileSystem())
	require.Error(t, err)
}

func TestOwns(t *testing.T) {
	dir := newTestDir(t)
	assetID := domain.NewAssetID()

	tests := []struct {
		name string
		uri  string
		want bool
	}{
		{"owned file", dir.OwnedPath(assetID), true},
		{"upload buffer", dir.OwnedPath("wall.jpg") + domain.UPLOAD_TMP_SUFFIX, true},
		{"the root itself", dir.Root(), false},
		{"parent directory", filepath.Dir(dir.Root()), false},
		{"sibling path", filepath.Join(filepath.Dir(dir.Root()), "other", "file"), false},
		{"traversal out of the root", filepath.Join(dir.Root(), "..", "escape"), false},
		{"relative path", "assets/" + assetID, false},
		{"remote url", "https://example.com/video.mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dir.Owns(tt.uri))
		})
	}
}

func TestClaim(t *testing.T) {
	dir := newTestDir(t)
	assetID := domain.NewAssetID()

	src := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	got, err := dir.Claim(src, assetID)
	require.NoError(t, err)
	assert.Equal(t, dir.OwnedPath(assetID), got)

	content, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestClaimMissingSource(t *testing.T) {
	dir := newTestDir(t)

	_, err := dir.Claim(filepath.Join(t.TempDir(), "missing.bin"), domain.NewAssetID())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestRemoveOwned(t *testing.T) {
	dir := newTestDir(t)
	assetID := domain.NewAssetID()

	t.Run("removes owned files", func(t *testing.T) {
		path := dir.OwnedPath(assetID)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

		require.NoError(t, dir.RemoveOwned(path))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("absent owned file is not an error", func(t *testing.T) {
		assert.NoError(t, dir.RemoveOwned(dir.OwnedPath(domain.NewAssetID())))
	})

	t.Run("foreign paths are left alone", func(t *testing.T) {
		foreign := filepath.Join(t.TempDir(), "keep.bin")
		require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

		require.NoError(t, dir.RemoveOwned(foreign))
		_, err := os.Stat(foreign)
		assert.NoError(t, err)
	})
}
