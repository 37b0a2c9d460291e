package executor

import (
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/api/shared/dto"
	"github.com/dgaz9/screenly/internal/archive"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/media"
	"github.com/dgaz9/screenly/internal/media/ffprobe"
	"github.com/dgaz9/screenly/internal/messaging"
	"github.com/dgaz9/screenly/internal/resolver"
	"github.com/dgaz9/screenly/internal/store"
	"github.com/dgaz9/screenly/internal/types"
	"github.com/dgaz9/screenly/internal/uploads"
	"github.com/dgaz9/screenly/internal/uri"
)

// Executor is the interface for the catalog API executor. It owns the
// business rules behind every endpoint: validation, media claiming,
// duration probing, and the renderer nudge after catalog changes.
type Executor interface {
	// ListAssets returns the full catalog in playlist order
	ListAssets(ctx context.Context) ([]domain.Asset, error)

	// GetAsset retrieves a single asset
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)

	// CreateAsset validates and stores a new asset, claiming local media
	// and scheduling remote-video resolution as needed
	CreateAsset(ctx context.Context, req dto.AssetRequest) (*domain.Asset, error)

	// UpdateAsset replaces an asset's mutable fields under create's validation rules
	UpdateAsset(ctx context.Context, assetID string, req dto.AssetRequest) (*domain.Asset, error)

	// DeleteAsset removes an asset and best-effort reclaims its owned media file
	DeleteAsset(ctx context.Context, assetID string) error

	// ReorderAssets rewrites the playlist order from the given id sequence
	ReorderAssets(ctx context.Context, orderedIDs []string) error

	// SaveUploadChunk appends one chunk to an in-progress upload buffer
	SaveUploadChunk(filename string, offset int64, chunk io.Reader) (string, error)

	// CreateBackup archives the whole catalog and returns the archive filename
	CreateBackup(ctx context.Context) (string, error)

	// BackupFilePath resolves a backup filename to its absolute path for download
	BackupFilePath(filename string) (string, error)

	// Recover replaces the catalog with an uploaded archive's content
	Recover(ctx context.Context, archivePath string) error

	// Control relays one playback command to the rendering process
	Control(ctx context.Context, rawCommand string) error
}

type executor struct {
	store     store.Store
	dir       *media.Dir
	checker   uri.Checker
	prober    ffprobe.Prober
	ingestor  uploads.Ingestor
	archiver  archive.Archiver
	queue     resolver.Queue
	publisher messaging.Publisher
	clock     adapter.Clock
	fs        adapter.FileSystem
}

// NewExecutor composes the catalog business logic
func NewExecutor(
	st store.Store,
	dir *media.Dir,
	checker uri.Checker,
	prober ffprobe.Prober,
	ingestor uploads.Ingestor,
	archiver archive.Archiver,
	queue resolver.Queue,
	publisher messaging.Publisher,
	clock adapter.Clock,
	fs adapter.FileSystem,
) Executor {
	return &executor{
		store:     st,
		dir:       dir,
		checker:   checker,
		prober:    prober,
		ingestor:  ingestor,
		archiver:  archiver,
		queue:     queue,
		publisher: publisher,
		clock:     clock,
		fs:        fs,
	}
}

func (e *executor) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return e.store.ListAssets(ctx)
}

func (e *executor) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	return e.store.GetAsset(ctx, assetID)
}

func (e *executor) CreateAsset(ctx context.Context, req dto.AssetRequest) (*domain.Asset, error) {
	assetID := strings.TrimSpace(req.AssetID)
	if assetID == "" {
		assetID = domain.NewAssetID()
	} else if !domain.ValidAssetID(assetID) {
		return nil, domain.Validationf("malformed asset_id %q", assetID)
	}

	asset, err := e.buildAsset(ctx, assetID, req)
	if err != nil {
		return nil, err
	}

	created, err := e.store.CreateAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	if created.IsProcessing {
		e.queue.Enqueue(created.AssetID, created.Metadata.SourceURI)
	}
	e.notifyRenderer(ctx)

	logger.InfoCtx(ctx, "Asset created",
		zap.String("asset_id", created.AssetID),
		zap.String("mimetype", string(created.Mimetype)),
		zap.Bool("is_processing", created.IsProcessing),
	)
	return created, nil
}

func (e *executor) UpdateAsset(ctx context.Context, assetID string, req dto.AssetRequest) (*domain.Asset, error) {
	existing, err := e.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if id := strings.TrimSpace(req.AssetID); id != "" && id != assetID {
		return nil, domain.Validationf("asset_id is immutable")
	}

	asset, err := e.buildAsset(ctx, assetID, req)
	if err != nil {
		return nil, err
	}

	// Server-maintained metadata survives updates unless the asset
	// re-enters resolution with a new source
	if !asset.IsProcessing {
		asset.Metadata = existing.Metadata
	}

	updated, err := e.store.UpdateAsset(ctx, asset)
	if err != nil {
		return nil, err
	}

	if updated.IsProcessing &&
		(!existing.IsProcessing || existing.Metadata.SourceURI != updated.Metadata.SourceURI) {
		e.queue.Enqueue(updated.AssetID, updated.Metadata.SourceURI)
	}
	e.notifyRenderer(ctx)

	logger.InfoCtx(ctx, "Asset updated", zap.String("asset_id", updated.AssetID))
	return updated, nil
}

func (e *executor) DeleteAsset(ctx context.Context, assetID string) error {
	deleted, err := e.store.DeleteAsset(ctx, assetID)
	if err != nil {
		return err
	}

	// Best-effort: an absent or stubborn file must not fail the delete
	if err := e.dir.RemoveOwned(deleted.URI); err != nil {
		logger.WarnCtx(ctx, "Failed to reclaim media file",
			zap.String("asset_id", assetID),
			zap.String("uri", deleted.URI),
			zap.Error(err))
	}
	e.notifyRenderer(ctx)

	logger.InfoCtx(ctx, "Asset deleted", zap.String("asset_id", assetID))
	return nil
}

func (e *executor) ReorderAssets(ctx context.Context, orderedIDs []string) error {
	if err := e.store.SaveOrdering(ctx, orderedIDs); err != nil {
		return err
	}
	e.notifyRenderer(ctx)
	return nil
}

func (e *executor) SaveUploadChunk(filename string, offset int64, chunk io.Reader) (string, error) {
	return e.ingestor.WriteChunk(filename, offset, chunk)
}

func (e *executor) CreateBackup(ctx context.Context) (string, error) {
	return e.archiver.CreateBackup(ctx)
}

func (e *executor) BackupFilePath(filename string) (string, error) {
	return e.archiver.ArchivePath(filename)
}

func (e *executor) Recover(ctx context.Context, archivePath string) error {
	if err := e.archiver.Recover(ctx, archivePath); err != nil {
		return err
	}
	e.notifyRenderer(ctx)
	return nil
}

func (e *executor) Control(ctx context.Context, rawCommand string) error {
	command, err := domain.ParseControlCommand(rawCommand)
	if err != nil {
		return err
	}
	return e.publisher.Send(ctx, command)
}

// buildAsset turns a validated request into a storable record: source
// checks, local-media claiming, window parsing, and the duration policy.
func (e *executor) buildAsset(ctx context.Context, assetID string, req dto.AssetRequest) (*domain.Asset, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.Validationf("name is required")
	}
	rawURI := strings.TrimSpace(req.URI)
	if rawURI == "" {
		return nil, domain.Validationf("uri is required")
	}
	mt := domain.Mimetype(strings.TrimSpace(req.Mimetype))
	if !domain.IsValidMimetype(mt) {
		return nil, domain.Validationf("unsupported mimetype %q", req.Mimetype)
	}

	assetURI, err := e.checkSource(ctx, assetID, rawURI, bool(req.SkipAssetCheck))
	if err != nil {
		return nil, err
	}

	asset := &domain.Asset{
		AssetID:   assetID,
		Name:      name,
		URI:       assetURI,
		Mimetype:  mt,
		IsEnabled: types.SafeBool(req.IsEnabled.Value(), true),
		NoCache:   types.SafeBool(req.NoCache.Value(), false),
	}

	if err := parseWindow(req, asset); err != nil {
		return nil, err
	}
	if err := e.resolveDuration(ctx, req.Duration, asset); err != nil {
		return nil, err
	}

	if mt == domain.MimetypeRemoteVideo {
		if !domain.IsRemoteURI(assetURI) {
			return nil, domain.Validationf("remote_video assets require a remote uri")
		}
		asset.IsProcessing = true
		asset.Metadata.SourceURI = assetURI
	}

	return asset, nil
}

// checkSource verifies the media source exists and moves loose local files
// into the managed directory under the asset id
func (e *executor) checkSource(ctx context.Context, assetID, rawURI string, skipCheck bool) (string, error) {
	if domain.IsRemoteURI(rawURI) {
		if skipCheck {
			return rawURI, nil
		}
		if err := e.checker.Check(ctx, rawURI); err != nil {
			return "", err
		}
		return rawURI, nil
	}

	info, err := e.fs.Stat(rawURI)
	if err != nil {
		return "", domain.Validationf("local uri %q does not exist", rawURI)
	}
	if info.IsDir() {
		return "", domain.Validationf("local uri %q is a directory", rawURI)
	}

	// Canonical owned paths stay put; everything else (upload buffers
	// included) is claimed under the asset id
	if rawURI == e.dir.OwnedPath(assetID) {
		return rawURI, nil
	}
	claimed, err := e.dir.Claim(rawURI, assetID)
	if err != nil {
		return "", err
	}
	return claimed, nil
}

// parseWindow applies the optional scheduling window. Each bound is
// independent; a lone bound leaves the other side of the window open.
func parseWindow(req dto.AssetRequest, asset *domain.Asset) error {
	if !types.StringNilOrEmpty(req.StartDate) {
		start, err := domain.ParseTimestamp(*req.StartDate)
		if err != nil {
			return err
		}
		asset.StartDate = &start
	}
	if !types.StringNilOrEmpty(req.EndDate) {
		end, err := domain.ParseTimestamp(*req.EndDate)
		if err != nil {
			return err
		}
		asset.EndDate = &end
	}
	return nil
}

// resolveDuration applies the duration policy: video probes its own media
// when the caller could not supply a positive number of seconds; static
// assets must say how long they play, and garbage is never coerced.
func (e *executor) resolveDuration(ctx context.Context, raw dto.Duration, asset *domain.Asset) error {
	switch asset.Mimetype {
	case domain.MimetypeVideo:
		if raw.IsKnown() {
			seconds, err := raw.Seconds()
			if err != nil {
				return domain.Validationf("unparseable duration %q", string(raw))
			}
			if seconds > 0 {
				asset.Duration = seconds
				return nil
			}
		}
		probed, err := e.prober.Duration(ctx, asset.URI)
		if err != nil {
			return domain.Validationf("probing video duration: %v", err)
		}
		asset.Duration = probed

	case domain.MimetypeRemoteVideo:
		// The resolution worker probes the real duration; a caller-supplied
		// positive value stands in until then
		if raw.IsKnown() {
			if seconds, err := raw.Seconds(); err == nil && seconds > 0 {
				asset.Duration = seconds
			}
		}

	default: // image, webpage
		if !raw.IsSet() || !raw.IsKnown() {
			return domain.Validationf("duration is required for %s assets", asset.Mimetype)
		}
		seconds, err := raw.Seconds()
		if err != nil {
			return domain.Validationf("unparseable duration %q", string(raw))
		}
		if seconds < 0 {
			return domain.Validationf("duration must not be negative")
		}
		asset.Duration = seconds
	}
	return nil
}

// notifyRenderer nudges the rendering process after a catalog change so it
// can react without polling. Delivery is best-effort.
func (e *executor) notifyRenderer(ctx context.Context) {
	if err := e.publisher.Send(ctx, domain.CommandReload); err != nil {
		logger.WarnCtx(ctx, "Failed to notify renderer", zap.Error(err))
	}
}
