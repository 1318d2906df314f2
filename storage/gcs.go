package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// GCS 使用 Google Cloud Storage bucket 存储对象
type GCS struct {
	client    *gstorage.Client
	bucket    string
	publicURL string
}

// NewGCS 使用 application default credentials 连接
// publicURL 不为空时替换返回 URL 里的 https://storage.googleapis.com/<bucket>，用于 CDN 或自定义域名
func NewGCS(ctx context.Context, bucket, publicURL string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is empty")
	}
	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	log.Info().Str("bucket", bucket).Msg("using gcs storage")
	return newGCS(client, bucket, publicURL), nil
}

func newGCS(client *gstorage.Client, bucket, publicURL string) *GCS {
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCS{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	return g.URL(key), nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (g *GCS) URL(key string) string {
	return g.publicURL + "/" + key
}

func (g *GCS) KeyFromURL(url string) (string, bool) {
	return keyFromPrefix(g.publicURL, url)
}

func (g *GCS) Close() error {
	return g.client.Close()
}
