package domain

const (
	// Wire sentinel a caller sends when it could not determine a video duration
	DURATION_UNKNOWN = "N/A"

	// Prefix of the "jump to asset" control command
	ASSET_COMMAND_PREFIX = "asset&"

	// Suffix of in-progress upload buffers in the managed media directory
	UPLOAD_TMP_SUFFIX = ".tmp"
)
