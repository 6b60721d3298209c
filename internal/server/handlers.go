package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/blob"
	"github.com/dinghy-sh/dinghy/internal/gate"
	"github.com/dinghy-sh/dinghy/internal/meta"
	"github.com/dinghy-sh/dinghy/internal/metrics"
)

const fallbackFiletype = "application/octet-stream"

// handleUpload accepts a multipart "file" part plus an optional "preview"
// JPEG thumbnail (only honored for video uploads), stores the bytes, records
// the metadata row, and returns the generated key.
func (s *Server) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, "File not found in form data")
		return
	}

	key := uuid.NewString()
	filename := fileHeader.Filename
	if filename == "" {
		filename = "unknown"
	}
	filetype := fileHeader.Header.Get("Content-Type")
	if filetype == "" {
		filetype = sniffFiletype(fileHeader)
	}

	src, err := fileHeader.Open()
	if err != nil {
		c.String(http.StatusBadRequest, "Error processing upload: %v", err)
		return
	}
	defer src.Close()

	if _, err := s.blobs.Put(key, src); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("blob").Inc()
		s.log.Error("blob write failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	hasPreview := false
	if previewHeader, perr := c.FormFile("preview"); perr == nil && strings.HasPrefix(filetype, "video/") {
		preview, perr := previewHeader.Open()
		if perr == nil {
			defer preview.Close()
			if _, perr = s.blobs.Put(blob.PreviewKey(key), preview); perr == nil {
				hasPreview = true
			} else {
				s.log.Warn("preview write failed, continuing without preview",
					zap.String("key", key), zap.Error(perr))
			}
		}
	}

	record := meta.Upload{ID: key, Filename: filename, Filetype: filetype, HasPreview: hasPreview}
	if err := s.uploads.Insert(c.Request.Context(), record); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("meta").Inc()
		s.log.Error("metadata insert failed", zap.String("key", key), zap.Error(err))
		_ = s.blobs.Delete(key)
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	metrics.UploadsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{
		"key":      key,
		"filename": filename,
		"filetype": filetype,
	})
}

// sniffFiletype detects the content type from the part's bytes when the
// client did not send one.
func sniffFiletype(fileHeader *multipart.FileHeader) string {
	f, err := fileHeader.Open()
	if err != nil {
		return fallbackFiletype
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return fallbackFiletype
	}
	return mt.String()
}

func (s *Server) handleDelete(c *gin.Context) {
	key := c.Param("key")
	ctx := c.Request.Context()

	if err := s.uploads.Delete(ctx, key); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("meta").Inc()
		s.log.Error("metadata delete failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	if err := s.blobs.Delete(key); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("blob").Inc()
		s.log.Error("blob delete failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	// Clear the access counter so a future re-use of the key starts fresh.
	if err := s.counters.Delete(ctx, key); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("counter").Inc()
		s.log.Warn("counter reset failed", zap.String("key", key), zap.Error(err))
	}

	c.String(http.StatusOK, "File deleted successfully")
}

// handleDownload is the metered route: it consumes one unit of the file's
// access budget before streaming bytes.
func (s *Server) handleDownload(c *gin.Context) {
	key := c.Param("key")
	ctx := c.Request.Context()

	record, err := s.uploads.Get(ctx, key)
	if err != nil {
		s.renderMetaError(c, key, err)
		return
	}

	if err := s.gate.CheckAndRecord(ctx, key, s.accessLimit); err != nil {
		if errors.Is(err, gate.ErrLimitReached) {
			metrics.AccessDeniedTotal.Inc()
			c.String(http.StatusForbidden, "File access limit reached")
			return
		}
		metrics.StorageErrorsTotal.WithLabelValues("counter").Inc()
		s.log.Error("access gate backend failure", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	rc, size, err := s.blobs.Get(key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.String(http.StatusNotFound, "File not found in storage")
			return
		}
		metrics.StorageErrorsTotal.WithLabelValues("blob").Inc()
		s.log.Error("blob read failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	defer rc.Close()

	metrics.DownloadsTotal.Inc()
	c.DataFromReader(http.StatusOK, size, record.Filetype, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", record.Filename),
	})
}

func (s *Server) handlePreview(c *gin.Context) {
	key := c.Param("key")

	record, err := s.uploads.Get(c.Request.Context(), key)
	if err != nil {
		s.renderMetaError(c, key, err)
		return
	}
	if !record.HasPreview {
		c.String(http.StatusNotFound, "No preview available for this file")
		return
	}

	rc, size, err := s.blobs.Get(blob.PreviewKey(key))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.String(http.StatusNotFound, "Preview not found in storage")
			return
		}
		metrics.StorageErrorsTotal.WithLabelValues("blob").Inc()
		s.log.Error("preview read failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, size, "image/jpeg", rc, nil)
}

func (s *Server) renderMetaError(c *gin.Context, key string, err error) {
	if errors.Is(err, meta.ErrNotFound) {
		c.String(http.StatusNotFound, "File record not found")
		return
	}
	metrics.StorageErrorsTotal.WithLabelValues("meta").Inc()
	s.log.Error("metadata read failed", zap.String("key", key), zap.Error(err))
	c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
}
