// Package storage 保存上传的原图和处理结果，支持本地磁盘和云存储 bucket
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

const (
	UploadsDir   = "uploads"
	ProcessedDir = "processed"
)

type Storage interface {
	// Put 按 key 写入，返回公开访问的 URL
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get key 不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 幂等
	Delete(ctx context.Context, key string) error
	URL(key string) string
	// KeyFromURL 把 URL 生成的地址还原成 key
	KeyFromURL(url string) (string, bool)
}

func UploadKey(userID, id, ext string) string {
	return path.Join(UploadsDir, userID, id+"."+ext)
}

func ProcessedKey(name string) string {
	return path.Join(ProcessedDir, name)
}

// ValidateKey 拒绝绝对路径和跳出存储根目录的 key
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// keyFromPrefix 去掉 base + "/" 前缀后校验剩余部分
func keyFromPrefix(base, url string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(url, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}
