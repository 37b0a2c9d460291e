package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/downloader"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/media"
	"github.com/dgaz9/screenly/internal/media/ffprobe"
	"github.com/dgaz9/screenly/internal/store"
)

const (
	DEFAULT_WORKER_POOL_SIZE  = 2
	DEFAULT_WORKER_QUEUE_SIZE = 64
)

// Queue accepts remote-video assets for background resolution
type Queue interface {
	// Enqueue schedules the asset's source url for download and probing.
	// The asset must already exist with is_processing set.
	Enqueue(assetID string, sourceURL string)
}

// Config holds resolution worker configuration
type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Service resolves remote_video placeholders in the background: it
// downloads the source into the managed media directory, verifies the
// bytes are a video, probes the duration, and publishes the result onto
// the asset. A failure at any step parks the asset disabled with the
// reason recorded in its metadata.
type Service struct {
	config Config
	store  store.Store
	dl     downloader.Downloader
	dir    *media.Dir
	prober ffprobe.Prober
	clock  adapter.Clock
	pool   pond.Pool
}

// NewService creates the resolution service and starts its worker pool
func NewService(
	cfg Config,
	st store.Store,
	dl downloader.Downloader,
	dir *media.Dir,
	prober ffprobe.Prober,
	clock adapter.Clock,
) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = DEFAULT_WORKER_POOL_SIZE
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DEFAULT_WORKER_QUEUE_SIZE
	}

	return &Service{
		config: cfg,
		store:  st,
		dl:     dl,
		dir:    dir,
		prober: prober,
		clock:  clock,
		pool: pond.NewPool(
			cfg.Workers,
			pond.WithQueueSize(cfg.QueueSize),
		),
	}
}

// Enqueue schedules the asset's source url for download and probing
func (s *Service) Enqueue(assetID string, sourceURL string) {
	s.pool.Submit(func() {
		s.resolve(assetID, sourceURL)
	})
}

// StopAndWait finishes queued resolutions and stops the workers
func (s *Service) StopAndWait() {
	logger.Info("Stopping resolver worker pool",
		zap.Uint64("submitted", s.pool.SubmittedTasks()),
		zap.Uint64("waiting", s.pool.WaitingTasks()))

	s.pool.StopAndWait()

	logger.Info("Resolver worker pool stopped",
		zap.Uint64("completed", s.pool.CompletedTasks()))
}

func (s *Service) resolve(assetID string, sourceURL string) {
	ctx := context.Background()
	if s.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
		defer cancel()
	}

	logger.InfoCtx(ctx, "Resolving remote video",
		zap.String("asset_id", assetID),
		zap.String("url", sourceURL))

	if err := s.run(ctx, assetID, sourceURL); err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("asset_id", assetID),
			zap.String("url", sourceURL))

		// The failure write uses a fresh context, the job's may have expired
		failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if failErr := s.store.FailResolution(failCtx, assetID, err.Error()); failErr != nil {
			logger.ErrorCtx(failCtx, failErr,
				zap.String("asset_id", assetID))
		}
	}
}

func (s *Service) run(ctx context.Context, assetID string, sourceURL string) error {
	result, err := s.dl.Download(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("downloading source: %w", err)
	}
	defer func() { _ = result.Close() }()

	dst := s.dir.OwnedPath(assetID)
	if err := result.AsFile(dst); err != nil {
		return fmt.Errorf("saving download: %w", err)
	}

	mtype, err := mimetype.DetectFile(dst)
	if err != nil {
		s.cleanup(dst)
		return fmt.Errorf("sniffing downloaded content: %w", err)
	}
	if !strings.HasPrefix(mtype.String(), "video/") {
		s.cleanup(dst)
		return fmt.Errorf("source resolved to %s, not a video", mtype.String())
	}

	probe, err := s.prober.Probe(ctx, dst)
	if err != nil {
		s.cleanup(dst)
		return fmt.Errorf("probing downloaded video: %w", err)
	}
	seconds := probe.DurationSeconds()
	if seconds <= 0 {
		s.cleanup(dst)
		return fmt.Errorf("downloaded video reports no duration")
	}
	width, height := probe.VideoDimensions()

	resolvedAt := s.clock.Now().UTC()
	updated, err := s.store.CompleteResolution(ctx, store.ResolutionUpdate{
		AssetID:  assetID,
		Name:     result.Filename(),
		URI:      dst,
		Mimetype: domain.MimetypeVideo,
		Duration: int64(seconds),
		Metadata: domain.AssetMetadata{
			SourceURI:   sourceURL,
			ContentType: mtype.String(),
			SizeBytes:   probe.SizeBytes(),
			VideoWidth:  width,
			VideoHeight: height,
			ResolvedAt:  &resolvedAt,
		},
	})
	if err != nil {
		s.cleanup(dst)
		return fmt.Errorf("publishing resolution: %w", err)
	}

	logger.InfoCtx(ctx, "Remote video resolved",
		zap.String("asset_id", assetID),
		zap.String("uri", updated.URI),
		zap.Int64("duration", updated.Duration))

	return nil
}

// cleanup removes a half-resolved media file, the asset keeps pointing at
// its source url so a later retry can start over
func (s *Service) cleanup(path string) {
	if err := s.dir.RemoveOwned(path); err != nil {
		logger.Warn("Failed to remove abandoned media file",
			zap.String("path", path),
			zap.Error(err))
	}
}
