package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Asset represents the assets table - a single playlist entry owned by the catalog
type Asset struct {
	// AssetID is the caller-visible identifier, 32 lowercase hex characters
	AssetID string `gorm:"column:asset_id;primaryKey;type:text"`

	// Name is the operator-facing label
	Name string `gorm:"column:name;not null;type:text"`
	// URI is either an absolute local path under the media directory or a remote URL
	URI string `gorm:"column:uri;not null;type:text"`
	// Mimetype is the coarse asset class (image, video, webpage, remote_video)
	Mimetype string `gorm:"column:mimetype;not null;type:text"`

	// Duration is the playback time in seconds
	Duration int64 `gorm:"column:duration;not null;default:0"`

	// StartDate and EndDate bound the scheduling window, stored without zone
	StartDate *time.Time `gorm:"column:start_date"`
	EndDate   *time.Time `gorm:"column:end_date"`

	// IsEnabled is the operator's play/pause switch
	IsEnabled bool `gorm:"column:is_enabled;not null;default:true"`
	// IsProcessing marks assets whose media is still being resolved
	IsProcessing bool `gorm:"column:is_processing;not null;default:false;index:idx_assets_is_processing"`
	// NoCache asks the renderer to bypass its cache for this asset
	NoCache bool `gorm:"column:nocache;not null;default:false"`

	// PlayOrder is the asset's position in the playlist
	PlayOrder int64 `gorm:"column:play_order;not null;default:0;index:idx_assets_play_order"`

	// Metadata holds server-maintained details (source URL, probe results, failure reasons)
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb"`

	// Timestamps
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index:idx_assets_updated_at"`
}

// TableName returns the table name for the Asset model
func (Asset) TableName() string {
	return "assets"
}
