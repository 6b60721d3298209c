// Package server wires the HTTP boundary: routing, the rate-limit and auth
// middleware chain, the content handlers, and the HTML pages. Every inbound
// request passes the rate limiter first; the mutating and listing routes
// additionally pass the credential gate; the download route consults the
// access gate before any bytes leave the blob store.
package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/authgate"
	"github.com/dinghy-sh/dinghy/internal/blob"
	"github.com/dinghy-sh/dinghy/internal/counter"
	"github.com/dinghy-sh/dinghy/internal/gate"
	"github.com/dinghy-sh/dinghy/internal/meta"
	"github.com/dinghy-sh/dinghy/internal/metrics"
	"github.com/dinghy-sh/dinghy/internal/rate"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Options carries the server's collaborators. All are required except Debug.
// Construction is wiring only; no I/O happens until the server handles a
// request.
type Options struct {
	Log         *zap.Logger
	Limiter     *rate.Limiter
	Auth        *authgate.Gate
	Gate        *gate.Gate
	Counters    *counter.Store
	Blobs       *blob.Store
	Uploads     *meta.Store
	AccessLimit int64
	Debug       bool
}

// Server is the HTTP boundary of the service.
type Server struct {
	log         *zap.Logger
	limiter     *rate.Limiter
	auth        *authgate.Gate
	gate        *gate.Gate
	counters    *counter.Store
	blobs       *blob.Store
	uploads     *meta.Store
	accessLimit int64
	engine      *gin.Engine
}

// New builds the router with the full middleware chain and all routes
// registered.
func New(opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		log:         opts.Log,
		limiter:     opts.Limiter,
		auth:        opts.Auth,
		gate:        opts.Gate,
		counters:    opts.Counters,
		blobs:       opts.Blobs,
		uploads:     opts.Uploads,
		accessLimit: opts.AccessLimit,
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(opts.Log, time.RFC3339, true),
		ginzap.RecoveryWithZap(opts.Log, true),
	)
	engine.SetHTMLTemplate(template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")))

	engine.Use(s.observe(), s.rateLimit())

	// Protected routes: listing, uploading, deleting.
	protected := engine.Group("/", s.requireAuth())
	protected.GET("/", s.handleList)
	protected.GET("/list", s.handleList)
	protected.GET("/upload-form", s.handleUploadForm)
	protected.POST("/upload", s.handleUpload)
	protected.POST("/delete/:key", s.handleDelete)

	// Content routes: open, but metered by the access gate where they
	// consume budget.
	engine.GET("/file/:key", s.handleView)
	engine.GET("/full/:key", s.handleFull)
	engine.GET("/download/:key", s.handleDownload)
	engine.GET("/preview/:key", s.handlePreview)

	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine = engine
	return s
}

// Handler exposes the router for net/http servers and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
