package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/dgaz9/screenly/internal/api/middleware"
)

// SetupRoutes configures all REST API routes. The asset resource is served
// under both /api/v1 and /api/v1.1 with identical behavior, matching the
// versions historic clients call.
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/healthz", handler.HealthCheck)

	auth := middleware.Auth(authCfg)

	for _, version := range []string{"/api/v1", "/api/v1.1"} {
		group := router.Group(version)

		// Reads are open
		group.GET("/assets", handler.ListAssets)
		group.GET("/assets/:asset_id", handler.GetAsset)

		// Catalog mutations require credentials when auth is configured
		group.POST("/assets", auth, handler.CreateAsset)
		group.PUT("/assets/:asset_id", auth, handler.UpdateAsset)
		group.DELETE("/assets/:asset_id", auth, handler.DeleteAsset)
		group.POST("/assets/order", auth, handler.ReorderAssets)

		// Playback control is a read-side operator action
		group.GET("/assets/control/:command", handler.Control)
	}

	// Upload, backup, and recovery live on v1 only
	v1 := router.Group("/api/v1")
	v1.POST("/file_asset", auth, handler.UploadFileAsset)
	v1.POST("/backup", auth, handler.CreateBackup)
	v1.GET("/backup/:filename", auth, handler.GetBackup)
	v1.POST("/recover", auth, handler.Recover)
}
