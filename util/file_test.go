package util

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloader_Download(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		status  int
		maxSize int64
		wantErr error
		failed  bool
	}{
		{name: "success", body: []byte("image bytes"), status: http.StatusOK, maxSize: 1024},
		{name: "no limit", body: bytes.Repeat([]byte("a"), 4096), status: http.StatusOK},
		{name: "not found", body: []byte("nope"), status: http.StatusNotFound, maxSize: 1024, failed: true},
		{name: "too large", body: bytes.Repeat([]byte("a"), 2048), status: http.StatusOK, maxSize: 1024, wantErr: ErrTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write(tc.body)
			}))
			defer srv.Close()

			got, err := NewDownloader(time.Second, tc.maxSize).Download(context.Background(), srv.URL)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
			case tc.failed:
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tc.body, got)
			}
		})
	}
}

func TestDownloader_DownloadRejectsScheme(t *testing.T) {
	_, err := NewDownloader(time.Second, 0).Download(context.Background(), "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrUnsupportedURL)
}
