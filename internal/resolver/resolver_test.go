package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/downloader"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/media"
	"github.com/dgaz9/screenly/internal/media/ffprobe"
	"github.com/dgaz9/screenly/internal/store"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// mp4Bytes carries a minimal ftyp box so content sniffing sees video/mp4
var mp4Bytes = append(
	[]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
		0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'},
	make([]byte, 64)...,
)

// recordingStore captures resolution outcomes
type recordingStore struct {
	store.Store

	mu        sync.Mutex
	completed []store.ResolutionUpdate
	failed    map[string]string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{failed: make(map[string]string)}
}

func (r *recordingStore) CompleteResolution(ctx context.Context, update store.ResolutionUpdate) (*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, update)
	return &domain.Asset{
		AssetID:  update.AssetID,
		Name:     update.Name,
		URI:      update.URI,
		Mimetype: update.Mimetype,
		Duration: update.Duration,
		Metadata: update.Metadata,
	}, nil
}

func (r *recordingStore) FailResolution(ctx context.Context, assetID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[assetID] = reason
	return nil
}

func (r *recordingStore) failureReason(assetID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[assetID]
}

func (r *recordingStore) completedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

// stubProber returns a canned inspection result
type stubProber struct {
	result ffprobe.Result
	err    error
}

func (s *stubProber) Probe(ctx context.Context, source string) (ffprobe.Result, error) {
	return s.result, s.err
}

func (s *stubProber) Duration(ctx context.Context, source string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return int64(s.result.DurationSeconds()), nil
}

func videoProbe() ffprobe.Result {
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "video", Width: 1920, Height: 1080}},
		Format:  ffprobe.Format{Duration: "95.7", Size: "88"},
	}
}

func newTestService(t *testing.T, st store.Store, prober ffprobe.Prober) (*Service, *media.Dir) {
	t.Helper()

	fs := adapter.NewFileSystem()
	dir, err := media.NewDir(filepath.Join(t.TempDir(), "assets"), fs)
	require.NoError(t, err)

	dl := downloader.NewDownloader(adapter.NewHTTPClient(5*time.Second), fs, 0)

	svc := NewService(Config{Workers: 1, QueueSize: 4, JobTimeout: 10 * time.Second},
		st, dl, dir, prober, adapter.NewClock())
	return svc, dir
}

func serveBytes(t *testing.T, payload []byte, headers map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunResolvesVideo(t *testing.T) {
	st := newRecordingStore()
	svc, dir := newTestService(t, st, &stubProber{result: videoProbe()})

	srv := serveBytes(t, mp4Bytes, map[string]string{
		"Content-Disposition": `attachment; filename="launch.mp4"`,
	})

	assetID := domain.NewAssetID()
	require.NoError(t, svc.run(context.Background(), assetID, srv.URL+"/launch"))

	require.Equal(t, 1, st.completedCount())
	update := st.completed[0]
	assert.Equal(t, assetID, update.AssetID)
	assert.Equal(t, "launch.mp4", update.Name)
	assert.Equal(t, dir.OwnedPath(assetID), update.URI)
	assert.Equal(t, domain.MimetypeVideo, update.Mimetype)
	assert.Equal(t, int64(95), update.Duration)
	assert.Equal(t, srv.URL+"/launch", update.Metadata.SourceURI)
	assert.Equal(t, "video/mp4", update.Metadata.ContentType)
	assert.Equal(t, 1920, update.Metadata.VideoWidth)
	assert.Equal(t, 1080, update.Metadata.VideoHeight)
	require.NotNil(t, update.Metadata.ResolvedAt)

	// the media file landed in the managed directory
	content, err := os.ReadFile(update.URI)
	require.NoError(t, err)
	assert.Equal(t, mp4Bytes, content)
}

func TestRunRejectsNonVideoContent(t *testing.T) {
	st := newRecordingStore()
	svc, dir := newTestService(t, st, &stubProber{result: videoProbe()})

	srv := serveBytes(t, []byte("<html><body>not a video</body></html>"), nil)

	assetID := domain.NewAssetID()
	err := svc.run(context.Background(), assetID, srv.URL+"/page")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a video")

	// the rejected download is cleaned up
	_, statErr := os.Stat(dir.OwnedPath(assetID))
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, 0, st.completedCount())
}

func TestRunPropagatesProbeFailure(t *testing.T) {
	st := newRecordingStore()
	svc, dir := newTestService(t, st, &stubProber{err: errors.New("ffprobe exploded")})

	srv := serveBytes(t, mp4Bytes, nil)

	assetID := domain.NewAssetID()
	err := svc.run(context.Background(), assetID, srv.URL+"/clip")
	require.Error(t, err)

	_, statErr := os.Stat(dir.OwnedPath(assetID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRejectsZeroDuration(t *testing.T) {
	st := newRecordingStore()
	svc, _ := newTestService(t, st, &stubProber{result: ffprobe.Result{}})

	srv := serveBytes(t, mp4Bytes, nil)

	err := svc.run(context.Background(), domain.NewAssetID(), srv.URL+"/clip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration")
}

func TestResolveParksAssetOnFailure(t *testing.T) {
	st := newRecordingStore()
	svc, _ := newTestService(t, st, &stubProber{result: videoProbe()})

	srv := serveBytes(t, []byte("junk"), nil)

	assetID := domain.NewAssetID()
	svc.resolve(assetID, srv.URL+"/junk")

	reason := st.failureReason(assetID)
	require.NotEmpty(t, reason)
	assert.Contains(t, reason, "not a video")
}

func TestEnqueueRunsThroughPool(t *testing.T) {
	st := newRecordingStore()
	svc, _ := newTestService(t, st, &stubProber{result: videoProbe()})

	srv := serveBytes(t, mp4Bytes, nil)

	svc.Enqueue(domain.NewAssetID(), srv.URL+"/pooled")
	svc.StopAndWait()

	assert.Equal(t, 1, st.completedCount())
}

func TestDownloadFailureParksAsset(t *testing.T) {
	st := newRecordingStore()
	svc, _ := newTestService(t, st, &stubProber{result: videoProbe()})

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	assetID := domain.NewAssetID()
	svc.resolve(assetID, srv.URL+"/gone.mp4")

	assert.NotEmpty(t, st.failureReason(assetID))
}
