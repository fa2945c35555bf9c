package artifact

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/tianyehedashu/next-pcb-sub005/internal/shared/errors"
)

// Handler handles HTTP requests for design file storage.
type Handler struct {
	store *Store
}

// NewHandler creates a new artifact handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers artifact routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	artifacts := r.Group("/artifacts")
	{
		artifacts.POST("/upload-url", h.CreateUploadURL)
		artifacts.GET("/download-url", h.CreateDownloadURL)
	}
}

// UploadURLRequest asks for a presigned upload slot.
type UploadURLRequest struct {
	Filename string `json:"filename" binding:"required"`
	Size     int64  `json:"size" binding:"omitempty,min=1"`
}

// CreateUploadURL allocates an object key and presigns its upload.
//
//	@Summary		Create design upload URL
//	@Tags			Artifact
//	@Accept			json
//	@Produce		json
//	@Param			request	body		UploadURLRequest	true	"File to upload"
//	@Success		200		{object}	PresignedURL
//	@Failure		400		{object}	apperrors.ErrorResponse
//	@Router			/artifacts/upload-url [post]
func (h *Handler) CreateUploadURL(c *gin.Context) {
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest(err.Error())
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	url, err := h.store.PresignUpload(c.Request.Context(), NewKey(req.Filename), req.Size)
	if err != nil {
		appErr := apperrors.Internal("failed to presign upload", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, url)
}

// CreateDownloadURL presigns retrieval of a stored design file.
//
//	@Summary		Create design download URL
//	@Tags			Artifact
//	@Produce		json
//	@Security		BearerAuth
//	@Param			key	query		string	true	"Object key"
//	@Success		200	{object}	PresignedURL
//	@Failure		400	{object}	apperrors.ErrorResponse
//	@Router			/artifacts/download-url [get]
func (h *Handler) CreateDownloadURL(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		appErr := apperrors.BadRequest("key query parameter is required")
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	url, err := h.store.PresignDownload(c.Request.Context(), key)
	if err != nil {
		appErr := apperrors.Internal("failed to presign download", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, url)
}
