package rest

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/api/shared/dto"
	"github.com/dgaz9/screenly/internal/api/shared/executor"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// ListAssets returns the catalog in playlist order
	// GET /api/v1/assets
	ListAssets(c *gin.Context)

	// GetAsset retrieves a single asset
	// GET /api/v1/assets/:asset_id
	GetAsset(c *gin.Context)

	// CreateAsset creates a new asset
	// POST /api/v1/assets
	CreateAsset(c *gin.Context)

	// UpdateAsset replaces an asset's mutable fields
	// PUT /api/v1/assets/:asset_id
	UpdateAsset(c *gin.Context)

	// DeleteAsset removes an asset and its owned media file
	// DELETE /api/v1/assets/:asset_id
	DeleteAsset(c *gin.Context)

	// ReorderAssets rewrites the playlist order (form field "ids", comma-delimited)
	// POST /api/v1/assets/order
	ReorderAssets(c *gin.Context)

	// UploadFileAsset accepts one chunk of a media upload (multipart
	// "file_upload", optional Content-Range)
	// POST /api/v1/file_asset
	UploadFileAsset(c *gin.Context)

	// CreateBackup archives the whole catalog
	// POST /api/v1/backup
	CreateBackup(c *gin.Context)

	// GetBackup streams a previously produced archive
	// GET /api/v1/backup/:filename
	GetBackup(c *gin.Context)

	// Recover replaces the catalog with an uploaded archive (multipart "backup_upload")
	// POST /api/v1/recover
	Recover(c *gin.Context)

	// Control relays a playback command to the rendering process
	// GET /api/v1/assets/control/:command
	Control(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /healthz
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	executor executor.Executor
	clock    adapter.Clock
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(exec executor.Executor, clock adapter.Clock) Handler {
	return &handler{
		executor: exec,
		clock:    clock,
	}
}

// ListAssets returns the catalog in playlist order
func (h *handler) ListAssets(c *gin.Context) {
	assets, err := h.executor.ListAssets(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAssetListResponse(assets, h.clock.Now()))
}

// GetAsset retrieves a single asset
func (h *handler) GetAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	if assetID == "" {
		respondBadRequest(c, "asset_id is required")
		return
	}

	asset, err := h.executor.GetAsset(c.Request.Context(), assetID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAssetResponse(asset, h.clock.Now()))
}

// CreateAsset creates a new asset
func (h *handler) CreateAsset(c *gin.Context) {
	req, err := bindAssetRequest(c)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	asset, err := h.executor.CreateAsset(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewAssetResponse(asset, h.clock.Now()))
}

// UpdateAsset replaces an asset's mutable fields
func (h *handler) UpdateAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	if assetID == "" {
		respondBadRequest(c, "asset_id is required")
		return
	}

	req, err := bindAssetRequest(c)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	asset, err := h.executor.UpdateAsset(c.Request.Context(), assetID, req)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAssetResponse(asset, h.clock.Now()))
}

// DeleteAsset removes an asset and its owned media file
func (h *handler) DeleteAsset(c *gin.Context) {
	assetID := c.Param("asset_id")
	if assetID == "" {
		respondBadRequest(c, "asset_id is required")
		return
	}

	if err := h.executor.DeleteAsset(c.Request.Context(), assetID); err != nil {
		respondDomainError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ReorderAssets rewrites the playlist order
func (h *handler) ReorderAssets(c *gin.Context) {
	ids := splitOrderedIDs(c.PostForm("ids"))
	if len(ids) == 0 {
		respondBadRequest(c, "ids is required")
		return
	}

	if err := h.executor.ReorderAssets(c.Request.Context(), ids); err != nil {
		respondDomainError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UploadFileAsset accepts one chunk of a media upload
func (h *handler) UploadFileAsset(c *gin.Context) {
	fileHeader, err := c.FormFile("file_upload")
	if err != nil {
		respondBadRequest(c, "file_upload is required", err.Error())
		return
	}

	offset, err := parseContentRange(c.GetHeader("Content-Range"))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondDomainError(c, domain.Storagef("reading upload: %v", err))
		return
	}
	defer func() { _ = src.Close() }()

	path, err := h.executor.SaveUploadChunk(fileHeader.Filename, offset, src)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, path)
}

// CreateBackup archives the whole catalog
func (h *handler) CreateBackup(c *gin.Context) {
	filename, err := h.executor.CreateBackup(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, filename)
}

// GetBackup streams a previously produced archive
func (h *handler) GetBackup(c *gin.Context) {
	filename := c.Param("filename")

	path, err := h.executor.BackupFilePath(filename)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.FileAttachment(path, filepath.Base(path))
}

// Recover replaces the catalog with an uploaded archive. The declared
// content type is checked before the upload is even staged.
func (h *handler) Recover(c *gin.Context) {
	fileHeader, err := c.FormFile("backup_upload")
	if err != nil {
		respondBadRequest(c, "backup_upload is required", err.Error())
		return
	}

	declared := fileHeader.Header.Get("Content-Type")
	if !isTarArchiveContentType(declared) {
		respondDomainError(c, domain.ArchiveFormatf("declared content type %q is not a tar archive", declared))
		return
	}

	staged := filepath.Join(os.TempDir(), "screenly-recover-"+ulid.Make().String())
	if err := c.SaveUploadedFile(fileHeader, staged); err != nil {
		respondDomainError(c, domain.Storagef("staging uploaded archive: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(staged); err != nil {
			logger.Warn("Failed to remove staged archive", zap.String("path", staged), zap.Error(err))
		}
	}()

	if err := h.executor.Recover(c.Request.Context(), staged); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Recovery complete"})
}

// Control relays a playback command to the rendering process
func (h *handler) Control(c *gin.Context) {
	if err := h.executor.Control(c.Request.Context(), c.Param("command")); err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Command sent"})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "screenlyd",
	})
}

// isTarArchiveContentType accepts the tar and gzipped-tar types browsers
// and curl declare for backup archives
func isTarArchiveContentType(contentType string) bool {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch mt {
	case "application/x-tar", "application/tar",
		"application/gzip", "application/x-gzip",
		"application/tar+gzip", "application/x-compressed-tar":
		return true
	}
	return strings.Contains(mt, "tar")
}
