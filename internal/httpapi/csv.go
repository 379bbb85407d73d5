package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/models"
)

// maxCSVUploadBytes bounds an upload before it ever reaches the blob
// store; the CSV Session Pool's own PerFileSourceBytes cap is enforced
// later, at materialization time, against whatever was actually stored.
const maxCSVUploadBytes = 100 * 1024 * 1024

// UploadCSV accepts a multipart file upload, stores its bytes in the
// blob store, and records the resulting FileMetadata row.
func (h *handlers) UploadCSV(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		apperrors.AbortWithError(c, apperrors.New(apperrors.CodeInternal, "missing multipart file field \"file\""))
		return
	}
	if fileHeader.Size > maxCSVUploadBytes {
		apperrors.AbortWithError(c, apperrors.TooLarge("uploaded file exceeds the maximum upload size"))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxCSVUploadBytes+1))
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	if int64(len(data)) > maxCSVUploadBytes {
		apperrors.AbortWithError(c, apperrors.TooLarge("uploaded file exceeds the maximum upload size"))
		return
	}

	blobKey, err := h.gw.Blobstore.UploadCSV(c.Request.Context(), data)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}

	meta, err := h.gw.Files.Create(c.Request.Context(), userID(c), fileHeader.Filename, int64(len(data)), blobKey)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusCreated, meta)
}

// ListCSV lists every uploaded CSV owned by the caller.
func (h *handlers) ListCSV(c *gin.Context) {
	files, err := h.gw.Files.ListByOwner(c.Request.Context(), userID(c))
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// GetCSV fetches one FileMetadata owned by the caller.
func (h *handlers) GetCSV(c *gin.Context) {
	meta, ok := h.ownedFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteCSV removes a FileMetadata row and releases its CSV Session, if
// materialized, so the pool's footprint accounting stays accurate.
func (h *handlers) DeleteCSV(c *gin.Context) {
	meta, ok := h.ownedFile(c)
	if !ok {
		return
	}
	if err := h.gw.Files.Delete(c.Request.Context(), meta.FileID); err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return
	}
	h.gw.CSVPool.Release(meta.FileID)
	c.Status(http.StatusNoContent)
}

// ownedFile resolves :file_id and checks ownership, writing the
// appropriate error response and returning ok=false on any failure.
func (h *handlers) ownedFile(c *gin.Context) (*models.FileMetadata, bool) {
	return h.ownedFileByID(c, c.Param("file_id"))
}

func (h *handlers) ownedFileByID(c *gin.Context, fileID string) (*models.FileMetadata, bool) {
	meta, err := h.gw.Files.Get(c.Request.Context(), fileID)
	if err != nil {
		apperrors.AbortWithError(c, apperrors.Internal(err))
		return nil, false
	}
	if meta == nil || meta.OwnerUserID != userID(c) {
		apperrors.AbortWithError(c, apperrors.NotFound("file"))
		return nil, false
	}
	return meta, true
}
