package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/metrics"
)

// listEntry is one row of the file list page.
type listEntry struct {
	Key        string
	Filename   string
	UploadedAt string
	HasPreview bool
}

func (s *Server) handleList(c *gin.Context) {
	uploads, err := s.uploads.List(c.Request.Context())
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("meta").Inc()
		s.log.Error("metadata list failed", zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	entries := make([]listEntry, 0, len(uploads))
	for _, u := range uploads {
		entries = append(entries, listEntry{
			Key:        u.ID,
			Filename:   u.Filename,
			UploadedAt: u.UploadedAt.Format(time.RFC3339),
			// Thumbnails only exist for videos that shipped a preview part.
			HasPreview: u.HasPreview && strings.HasPrefix(u.Filetype, "video/"),
		})
	}

	c.HTML(http.StatusOK, "list.html", gin.H{"Files": entries})
}

func (s *Server) handleUploadForm(c *gin.Context) {
	c.HTML(http.StatusOK, "upload_form.html", nil)
}

// viewData feeds the inline view page, including the Open Graph tags that
// make shared links unfurl in chat clients.
type viewData struct {
	Key         string
	Filename    string
	Filetype    string
	UploadedAt  string
	Count       int64
	Limit       int64
	MediaKind   string // image, video, audio, other
	PageURL     string
	DownloadURL string
	OGMedia     string // og property name for the media tag, empty for none
}

// handleView renders the file's landing page. Viewing the page shows the
// current access count but does not consume budget; only /download does.
func (s *Server) handleView(c *gin.Context) {
	key := c.Param("key")
	ctx := c.Request.Context()

	record, err := s.uploads.Get(ctx, key)
	if err != nil {
		s.renderMetaError(c, key, err)
		return
	}

	count, err := s.gate.Count(ctx, key)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("counter").Inc()
		s.log.Error("counter read failed", zap.String("key", key), zap.Error(err))
		c.String(http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	base := requestBaseURL(c)
	data := viewData{
		Key:         key,
		Filename:    record.Filename,
		Filetype:    record.Filetype,
		UploadedAt:  record.UploadedAt.Format(time.RFC3339),
		Count:       count,
		Limit:       s.accessLimit,
		MediaKind:   mediaKind(record.Filetype),
		PageURL:     base + "/file/" + key,
		DownloadURL: base + "/download/" + key,
	}
	switch data.MediaKind {
	case "image":
		data.OGMedia = "og:image"
	case "video":
		data.OGMedia = "og:video"
	}

	c.HTML(http.StatusOK, "view.html", data)
}

// handleFull renders the chrome-free full-screen player. Defined for video
// only.
func (s *Server) handleFull(c *gin.Context) {
	key := c.Param("key")

	record, err := s.uploads.Get(c.Request.Context(), key)
	if err != nil {
		s.renderMetaError(c, key, err)
		return
	}
	if !strings.HasPrefix(record.Filetype, "video/") {
		c.String(http.StatusBadRequest, "Full mode is only available for video files")
		return
	}

	c.HTML(http.StatusOK, "full.html", gin.H{
		"Key":      key,
		"Filename": record.Filename,
		"Filetype": record.Filetype,
	})
}

func mediaKind(filetype string) string {
	switch {
	case strings.HasPrefix(filetype, "image/"):
		return "image"
	case strings.HasPrefix(filetype, "video/"):
		return "video"
	case strings.HasPrefix(filetype, "audio/"):
		return "audio"
	default:
		return "other"
	}
}

func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
