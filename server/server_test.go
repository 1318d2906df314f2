package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/image-service/auth"
	"github.com/chaos-io/image-service/config"
	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/imaging/rembg"
	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
	"github.com/chaos-io/image-service/repo"
	"github.com/chaos-io/image-service/storage"
	"github.com/chaos-io/image-service/util"
)

type testServer struct {
	handler http.Handler
	runner  *job.Runner
	token   string
	remote  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		Service: config.ServiceConfig{Name: "image-service", Version: "1.0.0"},
		Storage: config.StorageConfig{Backend: config.StorageLocal, URL: "/storage"},
		Upload: config.UploadConfig{
			MaxFileSize:       1024 * 1024,
			AllowedExtensions: []string{"jpg", "jpeg", "png", "webp"},
			MaxFiles:          2,
		},
		CORS: config.CORSConfig{Origins: "http://localhost:3000"},
	}

	root := t.TempDir()
	store := storage.NewLocal(root, cfg.Storage.URL)
	require.NoError(t, store.Init())

	images, err := repo.New("file:" + root + "/images.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = images.Close() })

	huge := pngBytes(t)
	binary.BigEndian.PutUint32(huge[16:20], 100000)
	binary.BigEndian.PutUint32(huge[20:24], 100000)
	binary.BigEndian.PutUint32(huge[29:33], crc32.ChecksumIEEE(huge[12:29]))
	mux := http.NewServeMux()
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(huge)
	})
	remote := httptest.NewServer(mux)
	t.Cleanup(remote.Close)

	metrics := NewMetrics()
	proc := processor.New(processor.Options{
		Storage: store,
		Remover: rembg.NewPassthrough(),
		Fetcher: util.NewDownloader(0, 0),
		Images:  images,
		Workers: 2,
		Observe: metrics.ObserveOperation,
	})

	jobs, err := job.NewStore()
	require.NoError(t, err)
	runner := job.NewRunner(jobs, proc, 2, 5)

	verifier := auth.NewVerifier("test-secret", "HS256")
	token, err := verifier.Sign(auth.User{ID: "u1"}, jwt.RegisteredClaims{})
	require.NoError(t, err)

	srv := New(Deps{
		Config:     cfg,
		Verifier:   verifier,
		Storage:    store,
		Images:     images,
		Processor:  proc,
		Batcher:    runner,
		Jobs:       jobs,
		Metrics:    metrics,
		StaticRoot: root,
	})
	return &testServer{handler: srv.Handler(), runner: runner, token: token, remote: remote}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 180, 255
	}
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return data
}

type part struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (ts *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ts.do(t, method, path, bytes.NewBuffer(data), "application/json", true)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (ts *testServer) upload(t *testing.T) ImageUploadResponse {
	t.Helper()
	body, ct := multipartBody(t, part{field: "file", name: "car.png", data: pngBytes(t)})
	w := ts.do(t, http.MethodPost, "/images/upload", body, ct, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[ImageUploadResponse](t, w)
}

func TestPublicRoutes(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/", nil, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"service":"image-service","version":"1.0.0","status":"healthy"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/process/info", nil, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	info := decode[processor.Info](t, w)
	assert.Equal(t, "keroxio-image", info.Service)
	assert.Equal(t, "passthrough", info.Backend)

	w = ts.do(t, http.MethodGet, "/metrics", nil, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "image_service_http_requests_total")
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		header string
		echo   bool
	}{
		{"沿用客户端 id", "abc", true},
		{"允许横线和下划线", "req_01-AB", true},
		{"刚好 64 位", strings.Repeat("a", 64), true},
		{"没有 header", "", false},
		{"超过 64 位", strings.Repeat("a", 65), false},
		{"包含空格", "a b", false},
		{"包含换行", "abc\nforged=1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			ts.handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if tt.echo {
				assert.Equal(t, tt.header, got)
				return
			}
			assert.Len(t, got, 27)
			assert.NotEqual(t, tt.header, got)
		})
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/images/upload", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/images/", "/images/x", "/process/status/x"} {
		w := ts.do(t, http.MethodGet, path, nil, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
		assert.JSONEq(t, `{"detail":"Not authenticated"}`, w.Body.String())
	}
}

func TestImageLifecycle(t *testing.T) {
	ts := newTestServer(t)
	up := ts.upload(t)

	assert.NotEmpty(t, up.ID)
	assert.Equal(t, "car.png", up.Filename)
	assert.Equal(t, "image/png", up.ContentType)
	assert.Equal(t, "/storage/uploads/u1/"+up.ID+".png", up.URL)

	// 静态文件
	w := ts.do(t, http.MethodGet, up.URL, nil, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngBytes(t), w.Body.Bytes())

	w = ts.do(t, http.MethodGet, "/images/?page=1&limit=10", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ImageListResponse](t, w)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Images, 1)
	assert.Equal(t, up.ID, list.Images[0].ID)
	assert.Equal(t, 10, list.Limit)

	w = ts.do(t, http.MethodGet, "/images/"+up.ID, nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[ImageInfo](t, w)
	assert.False(t, info.Processed)
	assert.Nil(t, info.ProcessedURL)

	w = ts.do(t, http.MethodDelete, "/images/"+up.ID, nil, "", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Image deleted successfully"}`, w.Body.String())

	w = ts.do(t, http.MethodGet, "/images/"+up.ID, nil, "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodDelete, "/images/"+up.ID, nil, "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, up.URL, nil, "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListImages_InvalidQuery(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{"page=0", "limit=0", "limit=101", "page=abc"} {
		w := ts.do(t, http.MethodGet, "/images/?"+q, nil, "", true)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w := ts.do(t, http.MethodGet, "/images/", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"images":[],"total":0,"page":1,"limit":20}`, w.Body.String())
}

func TestUpload_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		part   part
		detail string
	}{
		{name: "bad extension", part: part{field: "file", name: "car.gif", data: pngBytes(t)}, detail: "Invalid file type. Allowed: jpg, jpeg, png, webp"},
		{name: "bad content", part: part{field: "file", name: "car.png", data: []byte("not an image")}, detail: "Invalid image content. File does not match a valid image format."},
		{name: "too large", part: part{field: "file", name: "car.png", data: make([]byte, 1024*1024+1)}, detail: "File too large. Max size: 1MB"},
		{name: "missing file", part: part{field: "other", name: "car.png", data: pngBytes(t)}, detail: "File is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.part)
			w := ts.do(t, http.MethodPost, "/images/upload", body, ct, true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.detail, decode[map[string]string](t, w)["detail"])
		})
	}
}

func TestUploadMultiple(t *testing.T) {
	ts := newTestServer(t)

	body, ct := multipartBody(t,
		part{field: "files", name: "a.png", data: pngBytes(t)},
		part{field: "files", name: "b.txt", data: []byte("nope")},
	)
	w := ts.do(t, http.MethodPost, "/images/upload-multiple", body, ct, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	results := decode[[]ImageUploadResponse](t, w)
	require.Len(t, results, 1)
	assert.Equal(t, "a.png", results[0].Filename)

	body, ct = multipartBody(t,
		part{field: "files", name: "a.png", data: pngBytes(t)},
		part{field: "files", name: "b.png", data: pngBytes(t)},
		part{field: "files", name: "c.png", data: pngBytes(t)},
	)
	w = ts.do(t, http.MethodPost, "/images/upload-multiple", body, ct, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Maximum 2 images per request")
}

func TestRemoveBackground(t *testing.T) {
	ts := newTestServer(t)
	up := ts.upload(t)

	w := ts.doJSON(t, http.MethodPost, "/process/remove-background", map[string]string{"image_url": up.URL})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ProcessResponse](t, w)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, up.URL, resp.OriginalURL)
	require.NotNil(t, resp.ProcessedURL)
	assert.True(t, strings.HasPrefix(*resp.ProcessedURL, "/storage/processed/"))
	assert.True(t, strings.HasSuffix(*resp.ProcessedURL, ".png"))

	w = ts.do(t, http.MethodGet, "/images/"+up.ID, nil, "", true)
	info := decode[ImageInfo](t, w)
	assert.True(t, info.Processed)
	require.NotNil(t, info.ProcessedURL)
	assert.Equal(t, *resp.ProcessedURL, *info.ProcessedURL)

	w = ts.do(t, http.MethodGet, "/metrics", nil, "", false)
	assert.Contains(t, w.Body.String(), `image_service_operations_total{op="remove_background",status="success"} 1`)
}

func TestProcess_Errors(t *testing.T) {
	ts := newTestServer(t)
	up := ts.upload(t)

	tests := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantDetail string
	}{
		{name: "missing image_url", path: "/process/remove-background", body: map[string]string{}, wantStatus: http.StatusBadRequest, wantDetail: "image_url is required"},
		{name: "bad color", path: "/process/remove-background", body: map[string]string{"image_url": up.URL, "background_type": "solid", "background_color": "red"}, wantStatus: http.StatusBadRequest, wantDetail: "Background removal failed: "},
		{name: "unknown background", path: "/process/remove-background", body: map[string]string{"image_url": up.URL, "background_type": "plaid"}, wantStatus: http.StatusBadRequest, wantDetail: "Background removal failed: "},
		{name: "download failure", path: "/process/enhance", body: map[string]string{"image_url": ts.remote.URL + "/missing.png"}, wantStatus: http.StatusBadGateway, wantDetail: "Enhancement failed: "},
		{name: "oversized image", path: "/process/enhance", body: map[string]string{"image_url": ts.remote.URL + "/huge.png"}, wantStatus: http.StatusBadRequest, wantDetail: "exceeds"},
		{name: "stored image missing", path: "/process/virtual-showroom", body: map[string]string{"image_url": "/storage/uploads/u1/gone.png"}, wantStatus: http.StatusNotFound, wantDetail: "Virtual showroom failed: "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.doJSON(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]string](t, w)["detail"], tc.wantDetail)
		})
	}
}

func TestEnhanceAndShowroom(t *testing.T) {
	ts := newTestServer(t)
	up := ts.upload(t)

	w := ts.doJSON(t, http.MethodPost, "/process/enhance", map[string]interface{}{"image_url": up.URL, "hdr": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ProcessResponse](t, w)
	require.NotNil(t, resp.ProcessedURL)
	assert.True(t, strings.HasSuffix(*resp.ProcessedURL, ".jpg"))
	assert.NotNil(t, resp.ProcessingTime)

	w = ts.doJSON(t, http.MethodPost, "/process/virtual-showroom", map[string]string{"image_url": up.URL, "background_type": "garage"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode[ProcessResponse](t, w)
	require.NotNil(t, resp.ProcessedURL)
	assert.True(t, strings.HasSuffix(*resp.ProcessedURL, ".jpg"))
}

func TestBatch(t *testing.T) {
	ts := newTestServer(t)
	up := ts.upload(t)
	missing := ts.remote.URL + "/missing.png"

	w := ts.doJSON(t, http.MethodPost, "/process/batch", map[string]interface{}{
		"image_urls": []string{up.URL, missing},
		"operations": []string{"remove_background", "showroom"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ProcessResponse](t, w)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, up.URL, resp.OriginalURL)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Processing 2 images", *resp.Message)

	ts.runner.Wait()

	w = ts.do(t, http.MethodGet, "/process/status/"+resp.ID, nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[ProcessStatus](t, w)
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.Results, 2)
	assert.Equal(t, "completed", st.Results[0].Status)
	assert.True(t, strings.HasSuffix(st.Results[0].ProcessedURL, ".jpg"))
	assert.Equal(t, "failed", st.Results[1].Status)
	assert.NotEmpty(t, st.Results[1].Error)

	w = ts.do(t, http.MethodGet, "/process/status/unknown", nil, "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.doJSON(t, http.MethodPost, "/process/batch", map[string]interface{}{"image_urls": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: processor.ErrInvalidRequest, want: http.StatusBadRequest},
		{err: imaging.ErrInvalidColor, want: http.StatusBadRequest},
		{err: badRequest("x"), want: http.StatusBadRequest},
		{err: repo.ErrNotFound, want: http.StatusNotFound},
		{err: job.ErrNotFound, want: http.StatusNotFound},
		{err: processor.ErrFetch, want: http.StatusBadGateway},
		{err: imaging.ErrNoForeground, want: http.StatusInternalServerError},
		{err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
