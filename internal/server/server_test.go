package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluecat/internal/config"
	"bluecat/internal/protocol"
	"bluecat/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *queue.Queue) {
	t.Helper()
	q := queue.New(nil)
	cfg := config.Default().Server
	cfg.SpoolDir = filepath.Join(t.TempDir(), "spool")
	cfg.MaxUpload = 1 << 20

	s, err := New(q, cfg)
	require.NoError(t, err)
	return s, q
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.SetGray(x, 0, color.Gray{})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPrintSpoolsAndQueues(t *testing.T) {
	s, q := newTestServer(t)

	rec := serve(s, multipartRequest(t, "/print", "image", pngBytes(t, 100, 20)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	id := decodeJSON(t, rec)["id"]
	jobs := q.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.PrintJob, jobs[0].Kind)
	assert.Equal(t, jobs[0].ID.String(), id)
	assert.Equal(t, s.cfg.SpoolDir, filepath.Dir(jobs[0].Path))
	assert.Equal(t, ".png", filepath.Ext(jobs[0].Path))
	assert.FileExists(t, jobs[0].Path)
}

func TestPrintRejectsBadUploads(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		code int
	}{
		{
			name: "not an image",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/print", "image", []byte("hello"))
			},
			code: http.StatusBadRequest,
		},
		{
			name: "wrong field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/print", "file", pngBytes(t, 10, 10))
			},
			code: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/print", "image", make([]byte, 2<<20))
			},
			code: http.StatusRequestEntityTooLarge,
		},
		{
			name: "too tall to print",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/print", "image", pngBytes(t, 1, 30000))
			},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, q := newTestServer(t)
			rec := serve(s, tt.req(t))
			assert.Equal(t, tt.code, rec.Code)
			assert.Zero(t, q.Len())

			entries, err := os.ReadDir(s.cfg.SpoolDir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestPrintAfterClose(t *testing.T) {
	s, q := newTestServer(t)
	q.Close()

	rec := serve(s, multipartRequest(t, "/print", "image", pngBytes(t, 10, 10)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	entries, err := os.ReadDir(s.cfg.SpoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestText(t *testing.T) {
	s, q := newTestServer(t)

	rec := serve(s, formRequest("/text", url.Values{"text": {"  "}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, formRequest("/text", url.Values{"text": {"hello"}}))
	require.Equal(t, http.StatusAccepted, rec.Code)

	jobs := q.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.TextJob, jobs[0].Kind)
	assert.Equal(t, "hello", jobs[0].Text)
}

func TestFeedAndStatus(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := serve(s, httptest.NewRequest(http.MethodPost, "/feed", nil))
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeJSON(t, rec)["queued"])

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decodeJSON(t, rec)["jobs"].([]any)
	require.Len(t, jobs, 2)
	assert.Equal(t, "feed", jobs[0].(map[string]any)["kind"])
}

func TestPreview(t *testing.T) {
	s, q := newTestServer(t)

	rec := serve(s, multipartRequest(t, "/preview", "image", pngBytes(t, 200, 20)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, protocol.PrinterWidth, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
	assert.Zero(t, q.Len(), "preview must not queue anything")

	rec = serve(s, formRequest("/preview", url.Values{"text": {"hi"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, multipartRequest(t, "/preview", "image", pngBytes(t, 1, 30000)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
