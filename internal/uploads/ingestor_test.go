package uploads

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/media"
)

func newTestIngestor(t *testing.T) (Ingestor, *media.Dir) {
	t.Helper()
	fs := adapter.NewFileSystem()
	dir, err := media.NewDir(filepath.Join(t.TempDir(), "assets"), fs)
	require.NoError(t, err)
	return NewIngestor(dir, fs), dir
}

func TestWriteChunkWholeFile(t *testing.T) {
	ing, dir := newTestIngestor(t)

	path, err := ing.WriteChunk("wall.jpg", -1, strings.NewReader("whole payload"))
	require.NoError(t, err)
	assert.Equal(t, dir.OwnedPath("wall.jpg")+domain.UPLOAD_TMP_SUFFIX, path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "whole payload", string(content))

	t.Run("a later whole-file write replaces the buffer", func(t *testing.T) {
		_, err := ing.WriteChunk("wall.jpg", -1, strings.NewReader("v2"))
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(content))
	})
}

func TestWriteChunkAtOffsets(t *testing.T) {
	ing, _ := newTestIngestor(t)

	path, err := ing.WriteChunk("movie.mp4", 0, strings.NewReader("01234"))
	require.NoError(t, err)

	_, err = ing.WriteChunk("movie.mp4", 5, strings.NewReader("56789"))
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(content))

	t.Run("rewrites in place", func(t *testing.T) {
		_, err := ing.WriteChunk("movie.mp4", 2, strings.NewReader("XX"))
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "01XX456789", string(content))
	})

	t.Run("offset past the end grows the buffer", func(t *testing.T) {
		_, err := ing.WriteChunk("sparse.bin", 3, strings.NewReader("abc"))
		require.NoError(t, err)

		ingTyped := ing.(*ingestor)
		content, err := os.ReadFile(ingTyped.dir.OwnedPath("sparse.bin") + domain.UPLOAD_TMP_SUFFIX)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 'a', 'b', 'c'}, content)
	})
}

func TestWriteChunkStripsDirectories(t *testing.T) {
	ing, dir := newTestIngestor(t)

	path, err := ing.WriteChunk("../../etc/passwd", -1, strings.NewReader("nope"))
	require.NoError(t, err)
	assert.Equal(t, dir.OwnedPath("passwd")+domain.UPLOAD_TMP_SUFFIX, path)
}

func TestWriteChunkRejectsEmptyFilename(t *testing.T) {
	ing, _ := newTestIngestor(t)

	for _, filename := range []string{"", ".", "..", "/"} {
		_, err := ing.WriteChunk(filename, -1, strings.NewReader("x"))
		assert.ErrorIs(t, err, domain.ErrValidation, "filename %q", filename)
	}
}

func TestWriteChunkConflict(t *testing.T) {
	ing, _ := newTestIngestor(t)
	inner := ing.(*ingestor)

	// Hold the lock the way a concurrent chunk would
	require.True(t, inner.locks.TryLock("busy.bin"))

	_, err := ing.WriteChunk("busy.bin", -1, strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrConflict)

	inner.locks.Unlock("busy.bin")

	_, err = ing.WriteChunk("busy.bin", -1, strings.NewReader("x"))
	assert.NoError(t, err)
}

func TestWriteChunkParallelDistinctFiles(t *testing.T) {
	ing, _ := newTestIngestor(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for n := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[n] = ing.WriteChunk(
				"file-"+string(rune('a'+n))+".bin", -1, strings.NewReader("data"))
		}()
	}
	wg.Wait()

	for n, err := range errs {
		assert.NoError(t, err, "file %d", n)
	}
}
