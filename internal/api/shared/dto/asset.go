package dto

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgaz9/screenly/internal/domain"
)

// Bool tolerates the asset schema's historic boolean encodings: JSON
// booleans, the numerals 0/1, and their quoted forms.
type Bool bool

// UnmarshalJSON implements json.Unmarshaler
func (b *Bool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(bytes.Trim(data, `"`))) {
	case "true", "1":
		*b = true
	case "false", "0", "":
		*b = false
	default:
		return fmt.Errorf("cannot parse %s as a boolean", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (b Bool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

// Value returns a plain bool pointer, or nil when the field was absent
func (b *Bool) Value() *bool {
	if b == nil {
		return nil
	}
	v := bool(*b)
	return &v
}

// Duration carries the wire duration exactly as sent: the schema
// historically used strings ("10", "N/A") but numbers are accepted too.
// Interpretation is the catalog's job, not the decoder's.
type Duration string

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*d = ""
		return nil
	}
	*d = Duration(strings.Trim(trimmed, `"`))
	return nil
}

// IsSet reports whether the caller sent any duration at all
func (d Duration) IsSet() bool {
	return strings.TrimSpace(string(d)) != ""
}

// IsKnown reports whether the value is something other than the
// "could not determine" sentinel
func (d Duration) IsKnown() bool {
	return d.IsSet() && !strings.EqualFold(strings.TrimSpace(string(d)), domain.DURATION_UNKNOWN)
}

// Seconds parses the duration as whole seconds
func (d Duration) Seconds() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(d)), 10, 64)
}

// AssetRequest is the create/update payload for an asset record
type AssetRequest struct {
	AssetID   string   `json:"asset_id"`
	Name      string   `json:"name"`
	URI       string   `json:"uri"`
	Mimetype  string   `json:"mimetype"`
	Duration  Duration `json:"duration"`
	StartDate *string  `json:"start_date"`
	EndDate   *string  `json:"end_date"`
	IsEnabled *Bool    `json:"is_enabled"`
	NoCache   *Bool    `json:"nocache"`

	// SkipAssetCheck suppresses the source liveness/existence probe,
	// matching the console's "skip asset check" toggle
	SkipAssetCheck Bool `json:"skip_asset_check"`

	// IsProcessing is accepted for payload compatibility but never
	// honored: resolution state is owned by the server, which sets it
	// when a remote video is queued and clears it when the job settles.
	IsProcessing *Bool `json:"is_processing"`
}

// AssetResponse is the wire form of a stored asset
type AssetResponse struct {
	AssetID      string  `json:"asset_id"`
	Name         string  `json:"name"`
	URI          string  `json:"uri"`
	Mimetype     string  `json:"mimetype"`
	Duration     int64   `json:"duration"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
	IsEnabled    bool    `json:"is_enabled"`
	IsProcessing bool    `json:"is_processing"`
	NoCache      bool    `json:"nocache"`
	IsActive     bool    `json:"is_active"`
	PlayOrder    int64   `json:"play_order"`
}

// NewAssetResponse renders an asset, deriving is_active at the given instant
func NewAssetResponse(asset *domain.Asset, now time.Time) AssetResponse {
	return AssetResponse{
		AssetID:      asset.AssetID,
		Name:         asset.Name,
		URI:          asset.URI,
		Mimetype:     string(asset.Mimetype),
		Duration:     asset.Duration,
		StartDate:    formatDate(asset.StartDate),
		EndDate:      formatDate(asset.EndDate),
		IsEnabled:    asset.IsEnabled,
		IsProcessing: asset.IsProcessing,
		NoCache:      asset.NoCache,
		IsActive:     asset.IsActiveAt(now),
		PlayOrder:    asset.PlayOrder,
	}
}

// NewAssetListResponse renders assets in their stored playlist order
func NewAssetListResponse(assets []domain.Asset, now time.Time) []AssetResponse {
	out := make([]AssetResponse, 0, len(assets))
	for i := range assets {
		out = append(out, NewAssetResponse(&assets[i], now))
	}
	return out
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := domain.FormatTimestamp(*t)
	return &s
}
