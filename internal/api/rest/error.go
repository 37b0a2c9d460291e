package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apierrors "github.com/dgaz9/screenly/internal/api/shared/errors"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
)

// errorResponse represents a standardized error response
type errorResponse struct {
	Error *apierrors.APIError `json:"error"`
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, statusCode int, apiErr *apierrors.APIError) {
	c.JSON(statusCode, errorResponse{Error: apiErr})
}

// respondBadRequest sends a 400 Bad Request response
func respondBadRequest(c *gin.Context, message string, details ...string) {
	respondWithError(c, http.StatusBadRequest, apierrors.NewBadRequestError(message, details...))
}

// respondDomainError maps a domain error onto the wire taxonomy. Anything
// outside the taxonomy is a server fault and gets logged here, once, at
// the request boundary.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		respondWithError(c, http.StatusBadRequest, apierrors.NewValidationError(err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(c, http.StatusNotFound, apierrors.NewNotFoundError("Asset not found", err.Error()))
	case errors.Is(err, domain.ErrConflict):
		respondWithError(c, http.StatusConflict, apierrors.NewConflictError("Conflicting operation in progress", err.Error()))
	case errors.Is(err, domain.ErrArchiveFormat):
		respondWithError(c, http.StatusUnsupportedMediaType, apierrors.NewUnsupportedMediaError("Unsupported archive format", err.Error()))
	case errors.Is(err, domain.ErrStorage):
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.Request.URL.Path))
		respondWithError(c, http.StatusInternalServerError, apierrors.NewStorageError("Storage failure"))
	default:
		logger.ErrorCtx(c.Request.Context(), err, zap.String("path", c.Request.URL.Path))
		respondWithError(c, http.StatusInternalServerError, apierrors.NewInternalError("Internal server error"))
	}
}
