package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dinghy-sh/dinghy/internal/authgate"
	"github.com/dinghy-sh/dinghy/internal/blob"
	"github.com/dinghy-sh/dinghy/internal/counter"
	"github.com/dinghy-sh/dinghy/internal/gate"
	"github.com/dinghy-sh/dinghy/internal/meta"
	"github.com/dinghy-sh/dinghy/internal/rate"
)

const (
	testUser = "skipper"
	testPass = "hoist-the-sails"
)

type testEnv struct {
	handler http.Handler
	mr      *miniredis.Miniredis
	uploads *meta.Store
}

type envConfig struct {
	rateThreshold int64
	accessLimit   int64
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()

	if cfg.rateThreshold == 0 {
		cfg.rateThreshold = 10000
	}
	if cfg.accessLimit == 0 {
		cfg.accessLimit = 100
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	counters := counter.NewStore(rdb, "fc")
	blobs, err := blob.NewStore(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	uploads, err := meta.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = uploads.Close() })

	authCfg := authgate.DefaultConfig()
	authCfg.Username = testUser
	authCfg.Password = testPass

	srv := New(Options{
		Log:         zap.NewNop(),
		Limiter:     rate.New(rdb, rate.Config{Threshold: cfg.rateThreshold}),
		Auth:        authgate.New(rdb, authCfg),
		Gate:        gate.New(counters),
		Counters:    counters,
		Blobs:       blobs,
		Uploads:     uploads,
		AccessLimit: cfg.accessLimit,
	})

	return &testEnv{handler: srv.Handler(), mr: mr, uploads: uploads}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// multipartUpload builds a request body with a "file" part (and optional
// "preview" part) carrying explicit content types.
func multipartUpload(t *testing.T, filename, filetype, content string, preview []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if filetype != "" {
		h.Set("Content-Type", filetype)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)

	if preview != nil {
		ph := textproto.MIMEHeader{}
		ph.Set("Content-Disposition", `form-data; name="preview"; filename="preview.jpg"`)
		ph.Set("Content-Type", "image/jpeg")
		pw, err := w.CreatePart(ph)
		require.NoError(t, err)
		_, err = pw.Write(preview)
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (e *testEnv) uploadFile(t *testing.T, filename, filetype, content string, preview []byte) string {
	t.Helper()

	body, contentType := multipartUpload(t, filename, filetype, content, preview)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", basicAuth(testUser, testPass))

	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Key      string `json:"key"`
		Filename string `json:"filename"`
		Filetype string `json:"filetype"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Key)
	assert.Equal(t, filename, resp.Filename)
	assert.Equal(t, filetype, resp.Filetype)
	return resp.Key
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	key := env.uploadFile(t, "notes.txt", "text/plain", "ahoy there", nil)

	req := httptest.NewRequest(http.MethodGet, "/download/"+key, nil)
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ahoy there", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="notes.txt"`)
}

func TestDownloadUnknownKey(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/download/no-such-key", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadAccessLimit(t *testing.T) {
	env := newTestEnv(t, envConfig{accessLimit: 3})

	key := env.uploadFile(t, "img.png", "image/png", "png-bytes", nil)

	for i := 0; i < 3; i++ {
		w := env.do(httptest.NewRequest(http.MethodGet, "/download/"+key, nil))
		require.Equal(t, http.StatusOK, w.Code, "download %d", i+1)
	}

	// The budget is exhausted; further downloads are denied and stay denied.
	for i := 0; i < 2; i++ {
		w := env.do(httptest.NewRequest(http.MethodGet, "/download/"+key, nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "access limit reached")
	}
}

func TestViewPageShowsCountWithoutConsumingBudget(t *testing.T) {
	env := newTestEnv(t, envConfig{accessLimit: 5})

	key := env.uploadFile(t, "img.png", "image/png", "png-bytes", nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/download/"+key, nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Any number of views leaves the count at 1.
	for i := 0; i < 3; i++ {
		w = env.do(httptest.NewRequest(http.MethodGet, "/file/"+key, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "1 / 5")
	}

	assert.Contains(t, w.Body.String(), "img.png")
	assert.Contains(t, w.Body.String(), `og:image`)
}

func TestFullModeVideoOnly(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	videoKey := env.uploadFile(t, "clip.mp4", "video/mp4", "mp4-bytes", nil)
	textKey := env.uploadFile(t, "notes.txt", "text/plain", "text", nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/full/"+videoKey, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<video")

	w = env.do(httptest.NewRequest(http.MethodGet, "/full/"+textKey, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewLifecycle(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	plainKey := env.uploadFile(t, "clip.mp4", "video/mp4", "mp4-bytes", nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/preview/"+plainKey, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	previewKey := env.uploadFile(t, "clip2.mp4", "video/mp4", "mp4-bytes", []byte("jpeg-bytes"))
	w = env.do(httptest.NewRequest(http.MethodGet, "/preview/"+previewKey, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "public, max-age=86400", w.Header().Get("Cache-Control"))
}

func TestPreviewIgnoredForNonVideo(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	key := env.uploadFile(t, "img.png", "image/png", "png", []byte("jpeg-bytes"))
	w := env.do(httptest.NewRequest(http.MethodGet, "/preview/"+key, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListShowsUploads(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	key := env.uploadFile(t, "notes.txt", "text/plain", "text", nil)

	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	req.Header.Set("Authorization", basicAuth(testUser, testPass))
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "notes.txt")
	assert.Contains(t, w.Body.String(), "/file/"+key)
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestEnv(t, envConfig{accessLimit: 5})

	key := env.uploadFile(t, "notes.txt", "text/plain", "text", nil)

	// Consume some budget first so we can observe the counter reset.
	w := env.do(httptest.NewRequest(http.MethodGet, "/download/"+key, nil))
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/delete/"+key, nil)
	req.Header.Set("Authorization", basicAuth(testUser, testPass))
	w = env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/download/"+key, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The counter was cleared along with the file.
	assert.False(t, env.mr.Exists("fc:"+key))
}

func TestUploadRequiresFilePart(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", basicAuth(testUser, testPass))

	w := env.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	body, contentType := multipartUpload(t, "page.html", "", "<!DOCTYPE html><html></html>", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", basicAuth(testUser, testPass))

	w := env.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Filetype string `json:"filetype"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.Filetype, "text/html"), resp.Filetype)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, envConfig{})

	// Generate at least one sample so the counter renders.
	env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "dinghy_requests_total")
}
