package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/store/schema"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a new GORM-backed store instance
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// Open opens a database connection for the given driver.
// SQLite is the default; "postgres" selects the Postgres dialector.
func Open(driver string, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// AutoMigrate creates or updates the catalog tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&schema.Asset{})
}

// ConfigureConnectionPool configures the connection pool settings for a GORM database connection.
// It accesses the underlying *sql.DB and sets the pool configuration.
// If any of the pool settings are 0 or empty, reasonable defaults are used:
//   - MaxOpenConns: 20 (if 0)
//   - MaxIdleConns: 5 (if 0)
//   - ConnMaxLifetime: 5 minutes (if 0)
//   - ConnMaxIdleTime: 10 minutes (if 0)
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings into safe values.
//
// Defaults (when zero):
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	// Set defaults if not provided
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}

	// Ensure MaxIdleConns doesn't exceed MaxOpenConns
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// ListAssets returns every asset ordered by play_order
func (s *gormStore) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	var records []schema.Asset
	if err := s.db.WithContext(ctx).
		Order("play_order ASC, created_at ASC").
		Find(&records).Error; err != nil {
		return nil, domain.Storagef("listing assets: %v", err)
	}

	return toDomainList(records)
}

// GetAsset retrieves a single asset by its identifier
func (s *gormStore) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	var record schema.Asset
	if err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundf("asset %s", assetID)
		}
		return nil, domain.Storagef("getting asset %s: %v", assetID, err)
	}

	return toDomain(record)
}

// CreateAsset inserts a new asset and appends it to the playlist ordering.
// The play_order is assigned inside the transaction so concurrent creates
// cannot hand out the same slot.
func (s *gormStore) CreateAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	record, err := toRecord(asset)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&schema.Asset{}).
			Where("asset_id = ?", record.AssetID).
			Count(&count).Error; err != nil {
			return domain.Storagef("checking asset %s: %v", record.AssetID, err)
		}
		if count > 0 {
			return domain.Conflictf("asset %s already exists", record.AssetID)
		}

		var maxOrder sql.NullInt64
		if err := tx.Model(&schema.Asset{}).
			Select("MAX(play_order)").
			Scan(&maxOrder).Error; err != nil {
			return domain.Storagef("reading playlist tail: %v", err)
		}
		record.PlayOrder = 0
		if maxOrder.Valid {
			record.PlayOrder = maxOrder.Int64 + 1
		}

		if err := tx.Create(&record).Error; err != nil {
			return domain.Storagef("creating asset %s: %v", record.AssetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toDomain(record)
}

// UpdateAsset replaces an existing asset's mutable fields.
// The play_order and created_at stay as they are, updates never reshuffle the playlist.
func (s *gormStore) UpdateAsset(ctx context.Context, asset *domain.Asset) (*domain.Asset, error) {
	metadata, err := marshalMetadata(asset.Metadata)
	if err != nil {
		return nil, err
	}

	var record schema.Asset
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", asset.AssetID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("asset %s", asset.AssetID)
			}
			return domain.Storagef("getting asset %s: %v", asset.AssetID, err)
		}

		record.Name = asset.Name
		record.URI = asset.URI
		record.Mimetype = string(asset.Mimetype)
		record.Duration = asset.Duration
		record.StartDate = asset.StartDate
		record.EndDate = asset.EndDate
		record.IsEnabled = asset.IsEnabled
		record.IsProcessing = asset.IsProcessing
		record.NoCache = asset.NoCache
		record.Metadata = metadata

		if err := tx.Save(&record).Error; err != nil {
			return domain.Storagef("updating asset %s: %v", asset.AssetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toDomain(record)
}

// DeleteAsset removes an asset and returns the deleted record so callers
// can clean up any media the record pointed at.
func (s *gormStore) DeleteAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	var record schema.Asset
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", assetID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("asset %s", assetID)
			}
			return domain.Storagef("getting asset %s: %v", assetID, err)
		}

		if err := tx.Where("asset_id = ?", assetID).Delete(&schema.Asset{}).Error; err != nil {
			return domain.Storagef("deleting asset %s: %v", assetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toDomain(record)
}

// SaveOrdering rewrites the playlist order from the given id sequence.
// Listed ids take positions 0..n-1 in the order given, ids the catalog does
// not know are skipped, and every remaining asset is appended after the
// listed ones keeping its previous relative order. The whole rewrite runs in
// one transaction so readers never observe a half-applied ordering.
func (s *gormStore) SaveOrdering(ctx context.Context, orderedIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []schema.Asset
		if err := tx.Order("play_order ASC, created_at ASC").Find(&records).Error; err != nil {
			return domain.Storagef("listing assets: %v", err)
		}

		known := make(map[string]bool, len(records))
		for _, record := range records {
			known[record.AssetID] = true
		}

		ranks := make(map[string]int64, len(records))
		next := int64(0)
		for _, id := range orderedIDs {
			id = strings.TrimSpace(id)
			if id == "" || !known[id] {
				continue
			}
			if _, placed := ranks[id]; placed {
				// A repeated id keeps its first position
				continue
			}
			ranks[id] = next
			next++
		}
		for _, record := range records {
			if _, placed := ranks[record.AssetID]; placed {
				continue
			}
			ranks[record.AssetID] = next
			next++
		}

		for _, record := range records {
			rank := ranks[record.AssetID]
			if record.PlayOrder == rank {
				continue
			}
			if err := tx.Model(&schema.Asset{}).
				Where("asset_id = ?", record.AssetID).
				Update("play_order", rank).Error; err != nil {
				return domain.Storagef("reordering asset %s: %v", record.AssetID, err)
			}
		}
		return nil
	})
}

// CompleteResolution publishes a finished resolution onto its asset.
// The enabled flag is left alone so an operator pause taken during
// resolution survives the completion.
func (s *gormStore) CompleteResolution(ctx context.Context, update ResolutionUpdate) (*domain.Asset, error) {
	metadata, err := marshalMetadata(update.Metadata)
	if err != nil {
		return nil, err
	}

	var record schema.Asset
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_id = ?", update.AssetID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("asset %s", update.AssetID)
			}
			return domain.Storagef("getting asset %s: %v", update.AssetID, err)
		}

		if update.Name != "" {
			record.Name = update.Name
		}
		record.URI = update.URI
		record.Mimetype = string(update.Mimetype)
		record.Duration = update.Duration
		record.IsProcessing = false
		record.Metadata = metadata

		if err := tx.Save(&record).Error; err != nil {
			return domain.Storagef("completing resolution for asset %s: %v", update.AssetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return toDomain(record)
}

// FailResolution clears is_processing, disables the asset so the renderer
// never schedules a placeholder, and records the failure reason.
func (s *gormStore) FailResolution(ctx context.Context, assetID string, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record schema.Asset
		if err := tx.Where("asset_id = ?", assetID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("asset %s", assetID)
			}
			return domain.Storagef("getting asset %s: %v", assetID, err)
		}

		metadata, err := unmarshalMetadata(record.Metadata)
		if err != nil {
			return err
		}
		metadata.FailureReason = reason
		raw, err := marshalMetadata(metadata)
		if err != nil {
			return err
		}

		record.IsProcessing = false
		record.IsEnabled = false
		record.Metadata = raw

		if err := tx.Save(&record).Error; err != nil {
			return domain.Storagef("failing resolution for asset %s: %v", assetID, err)
		}
		return nil
	})
}

// ListStaleProcessing returns assets that have been stuck in processing
// since before the cutoff, oldest first.
func (s *gormStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]domain.Asset, error) {
	var records []schema.Asset
	if err := s.db.WithContext(ctx).
		Where("is_processing = ? AND updated_at < ?", true, cutoff).
		Order("updated_at ASC").
		Find(&records).Error; err != nil {
		return nil, domain.Storagef("listing stale processing assets: %v", err)
	}

	return toDomainList(records)
}

// ReplaceCatalog atomically swaps the whole asset table for the given
// snapshot. Timestamps and play_order come from the snapshot untouched.
func (s *gormStore) ReplaceCatalog(ctx context.Context, assets []domain.Asset) error {
	records := make([]schema.Asset, 0, len(assets))
	for i := range assets {
		record, err := toRecord(&assets[i])
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM assets").Error; err != nil {
			return domain.Storagef("clearing catalog: %v", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, 100).Error; err != nil {
			return domain.Storagef("restoring catalog: %v", err)
		}
		return nil
	})
}

// =============================================================================
// Mapping between domain assets and table records
// =============================================================================

func marshalMetadata(metadata domain.AssetMetadata) (datatypes.JSON, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, domain.Storagef("marshaling asset metadata: %v", err)
	}
	return datatypes.JSON(raw), nil
}

func unmarshalMetadata(raw datatypes.JSON) (domain.AssetMetadata, error) {
	var metadata domain.AssetMetadata
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return metadata, domain.Storagef("unmarshaling asset metadata: %v", err)
	}
	return metadata, nil
}

func toRecord(asset *domain.Asset) (schema.Asset, error) {
	metadata, err := marshalMetadata(asset.Metadata)
	if err != nil {
		return schema.Asset{}, err
	}

	return schema.Asset{
		AssetID:      asset.AssetID,
		Name:         asset.Name,
		URI:          asset.URI,
		Mimetype:     string(asset.Mimetype),
		Duration:     asset.Duration,
		StartDate:    asset.StartDate,
		EndDate:      asset.EndDate,
		IsEnabled:    asset.IsEnabled,
		IsProcessing: asset.IsProcessing,
		NoCache:      asset.NoCache,
		PlayOrder:    asset.PlayOrder,
		Metadata:     metadata,
		CreatedAt:    asset.CreatedAt,
		UpdatedAt:    asset.UpdatedAt,
	}, nil
}

func toDomain(record schema.Asset) (*domain.Asset, error) {
	metadata, err := unmarshalMetadata(record.Metadata)
	if err != nil {
		return nil, err
	}

	return &domain.Asset{
		AssetID:      record.AssetID,
		Name:         record.Name,
		URI:          record.URI,
		Mimetype:     domain.Mimetype(record.Mimetype),
		Duration:     record.Duration,
		StartDate:    record.StartDate,
		EndDate:      record.EndDate,
		IsEnabled:    record.IsEnabled,
		IsProcessing: record.IsProcessing,
		NoCache:      record.NoCache,
		PlayOrder:    record.PlayOrder,
		Metadata:     metadata,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

func toDomainList(records []schema.Asset) ([]domain.Asset, error) {
	assets := make([]domain.Asset, 0, len(records))
	for _, record := range records {
		asset, err := toDomain(record)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, nil
}
