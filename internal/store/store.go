package store

import (
	"context"
	"time"

	"github.com/dgaz9/screenly/internal/domain"
)

// ResolutionUpdate carries the fields a finished remote-video resolution
// writes back onto its placeholder asset.
type ResolutionUpdate struct {
	AssetID  string
	Name     string // empty keeps the current name
	URI      string
	Mimetype domain.Mimetype
	Duration int64
	Metadata domain.AssetMetadata
}

// Store defines the interface for catalog persistence
type Store interface {
	// ListAssets returns every asset ordered by play_order
	ListAssets(ctx context.Context) ([]domain.Asset, error)
	// GetAsset retrieves a single asset by its identifier
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)
	// CreateAsset inserts a new asset and appends it to the playlist ordering
	CreateAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)
	// UpdateAsset replaces an existing asset's mutable fields, leaving play_order untouched
	UpdateAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error)
	// DeleteAsset removes an asset and returns the deleted record
	DeleteAsset(ctx context.Context, assetID string) (*domain.Asset, error)
	// SaveOrdering rewrites the playlist order from the given id sequence.
	// Unknown ids are ignored, omitted assets keep their relative order after the listed ones.
	SaveOrdering(ctx context.Context, orderedIDs []string) error
	// CompleteResolution publishes a finished resolution onto its asset and clears is_processing
	CompleteResolution(ctx context.Context, update ResolutionUpdate) (*domain.Asset, error)
	// FailResolution clears is_processing, disables the asset, and records the failure reason
	FailResolution(ctx context.Context, assetID string, reason string) error
	// ListStaleProcessing returns assets stuck in processing since before the cutoff
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]domain.Asset, error)
	// ReplaceCatalog atomically swaps the whole asset table for the given snapshot
	ReplaceCatalog(ctx context.Context, assets []domain.Asset) error
}
