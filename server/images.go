package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/repo"
	"github.com/chaos-io/image-service/storage"
)

func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "File is required")
		return
	}

	resp, err := s.saveUpload(c.Request.Context(), currentUser(c).ID, fh)
	if err != nil {
		var br badRequest
		if errors.As(err, &br) {
			abort(c, http.StatusBadRequest, br.Error())
			return
		}
		abortOp(c, "Upload", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleUploadMultiple 不合法的文件直接跳过
func (s *Server) handleUploadMultiple(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		abort(c, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		abort(c, http.StatusBadRequest, "Files are required")
		return
	}
	if len(files) > s.cfg.Upload.MaxFiles {
		abort(c, http.StatusBadRequest, fmt.Sprintf("Maximum %d images per request", s.cfg.Upload.MaxFiles))
		return
	}

	ctx := c.Request.Context()
	userID := currentUser(c).ID
	results := make([]ImageUploadResponse, 0, len(files))
	for _, fh := range files {
		resp, err := s.saveUpload(ctx, userID, fh)
		if err != nil {
			var br badRequest
			if errors.As(err, &br) {
				log.Ctx(ctx).Debug().Str("filename", fh.Filename).Str("reason", br.Error()).Msg("skip upload")
				continue
			}
			abortOp(c, "Upload", err)
			return
		}
		results = append(results, resp)
	}
	c.JSON(http.StatusOK, results)
}

// saveUpload 校验扩展名、大小和文件头，存储后记录元数据
func (s *Server) saveUpload(ctx context.Context, userID string, fh *multipart.FileHeader) (ImageUploadResponse, error) {
	if fh.Filename == "" {
		return ImageUploadResponse{}, badRequest("Filename is required")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	allowed := s.cfg.Upload.AllowedExtensions
	if !slices.Contains(allowed, ext) {
		return ImageUploadResponse{}, badRequest("Invalid file type. Allowed: " + strings.Join(allowed, ", "))
	}

	maxSize := s.cfg.Upload.MaxFileSize
	tooLarge := badRequest(fmt.Sprintf("File too large. Max size: %dMB", maxSize/(1024*1024)))
	if fh.Size > maxSize {
		return ImageUploadResponse{}, tooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return ImageUploadResponse{}, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return ImageUploadResponse{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return ImageUploadResponse{}, tooLarge
	}

	format, err := imaging.DetectFormat(data)
	if err != nil {
		return ImageUploadResponse{}, badRequest("Invalid image content. File does not match a valid image format.")
	}

	id := ksuid.New().String()
	key := storage.UploadKey(userID, id, format.Ext())
	url, err := s.store.Put(ctx, key, data, format.MIME())
	if err != nil {
		return ImageUploadResponse{}, fmt.Errorf("store upload: %w", err)
	}

	img := &repo.Image{
		ID:          id,
		UserID:      userID,
		Key:         key,
		URL:         url,
		Filename:    fh.Filename,
		Size:        int64(len(data)),
		ContentType: format.MIME(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.images.Create(ctx, img); err != nil {
		_ = s.store.Delete(ctx, key)
		return ImageUploadResponse{}, err
	}

	log.Ctx(ctx).Info().Str("image_id", id).Str("user_id", userID).Int64("size", img.Size).Msg("image uploaded")
	return ImageUploadResponse{
		ID:          id,
		URL:         url,
		Filename:    fh.Filename,
		Size:        img.Size,
		ContentType: img.ContentType,
		CreatedAt:   img.CreatedAt,
	}, nil
}

func (s *Server) handleListImages(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, http.StatusBadRequest, "page must be >= 1 and limit between 1 and 100")
		return
	}

	images, total, err := s.images.List(c.Request.Context(), currentUser(c).ID, q.Page, q.Limit)
	if err != nil {
		abortOp(c, "List images", err)
		return
	}

	infos := make([]ImageInfo, 0, len(images))
	for _, img := range images {
		infos = append(infos, newImageInfo(img))
	}
	c.JSON(http.StatusOK, ImageListResponse{Images: infos, Total: total, Page: q.Page, Limit: q.Limit})
}

func (s *Server) handleGetImage(c *gin.Context) {
	img, err := s.images.Get(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if errors.Is(err, repo.ErrNotFound) {
		abort(c, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		abortOp(c, "Get image", err)
		return
	}
	c.JSON(http.StatusOK, newImageInfo(img))
}

func (s *Server) handleDeleteImage(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUser(c).ID

	img, err := s.images.Get(ctx, userID, c.Param("id"))
	if errors.Is(err, repo.ErrNotFound) {
		abort(c, http.StatusNotFound, "Image not found")
		return
	}
	if err != nil {
		abortOp(c, "Delete", err)
		return
	}

	if err := s.store.Delete(ctx, img.Key); err != nil {
		abortOp(c, "Delete", err)
		return
	}
	if err := s.images.Delete(ctx, userID, img.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		abortOp(c, "Delete", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Image deleted successfully"})
}
