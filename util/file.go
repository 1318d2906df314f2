package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrTooLarge       = errors.New("file exceeds size limit")
	ErrUnsupportedURL = errors.New("only http and https urls can be downloaded")
)

// Downloader 按 URL 下载文件，限制大小和超时
type Downloader struct {
	client  *http.Client
	maxSize int64
}

func NewDownloader(timeout time.Duration, maxSize int64) *Downloader {
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		maxSize: maxSize,
	}
}

// Download 下载文件内容
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, ErrUnsupportedURL
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download %s: unexpected status code %d", url, resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if d.maxSize > 0 {
		if resp.ContentLength > d.maxSize {
			return nil, ErrTooLarge
		}
		body = io.LimitReader(resp.Body, d.maxSize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if d.maxSize > 0 && int64(len(data)) > d.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}
