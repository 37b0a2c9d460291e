package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mimetype classifies what kind of content an asset points at
type Mimetype string

const (
	MimetypeImage       Mimetype = "image"
	MimetypeVideo       Mimetype = "video"
	MimetypeWebpage     Mimetype = "webpage"
	MimetypeRemoteVideo Mimetype = "remote_video"
)

// IsValidMimetype checks if a mimetype is one of the supported kinds
func IsValidMimetype(m Mimetype) bool {
	return m == MimetypeImage ||
		m == MimetypeVideo ||
		m == MimetypeWebpage ||
		m == MimetypeRemoteVideo
}

// ControlCommand is a single playback instruction relayed to the rendering process
type ControlCommand string

const (
	CommandNext     ControlCommand = "next"
	CommandPrevious ControlCommand = "previous"
	CommandReload   ControlCommand = "reload"
)

// AssetCommand builds the "jump to asset" command for the given id
func AssetCommand(assetID string) ControlCommand {
	return ControlCommand(ASSET_COMMAND_PREFIX + assetID)
}

// ParseControlCommand validates a raw command string from the wire
func ParseControlCommand(raw string) (ControlCommand, error) {
	switch ControlCommand(raw) {
	case CommandNext, CommandPrevious, CommandReload:
		return ControlCommand(raw), nil
	}
	if id, ok := strings.CutPrefix(raw, ASSET_COMMAND_PREFIX); ok && id != "" {
		return ControlCommand(raw), nil
	}
	return "", Validationf("unknown control command %q", raw)
}

// String returns the wire representation of the command
func (c ControlCommand) String() string {
	return string(c)
}

// AssetMetadata is server-maintained bookkeeping attached to an asset record.
// It is never settable by clients.
type AssetMetadata struct {
	SourceURI     string     `json:"source_uri,omitempty"`
	ContentType   string     `json:"content_type,omitempty"`
	SizeBytes     int64      `json:"size_bytes,omitempty"`
	VideoWidth    int        `json:"video_width,omitempty"`
	VideoHeight   int        `json:"video_height,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Asset is a single schedulable, displayable content item
type Asset struct {
	AssetID      string
	Name         string
	URI          string
	Mimetype     Mimetype
	Duration     int64
	StartDate    *time.Time
	EndDate      *time.Time
	IsEnabled    bool
	IsProcessing bool
	NoCache      bool
	PlayOrder    int64
	Metadata     AssetMetadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActiveAt derives the asset's eligibility to play at the given instant:
// enabled, and the instant falls within [start_date, end_date] inclusive.
// Each bound applies on its own; a missing bound leaves that side open.
func (a *Asset) IsActiveAt(now time.Time) bool {
	if !a.IsEnabled {
		return false
	}
	if a.StartDate != nil && now.Before(*a.StartDate) {
		return false
	}
	if a.EndDate != nil && now.After(*a.EndDate) {
		return false
	}
	return true
}

// NewAssetID generates a fresh 128-bit hex-encoded asset identifier
func NewAssetID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidAssetID checks the 32-char lowercase hex form produced by NewAssetID
func ValidAssetID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// IsRemoteURI reports whether a uri points outside the local filesystem.
// The original transport treats anything not starting with "/" as remote.
func IsRemoteURI(uri string) bool {
	return !strings.HasPrefix(uri, "/")
}

// ResolutionState labels the phase of a remote-video asset's lifecycle
type ResolutionState string

const (
	ResolutionCreated   ResolutionState = "created"
	ResolutionResolving ResolutionState = "resolving"
	ResolutionReady     ResolutionState = "ready"
	ResolutionFailed    ResolutionState = "failed"
)

// String implements fmt.Stringer
func (s ResolutionState) String() string {
	return string(s)
}
