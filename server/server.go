// Package server 提供图片服务的 HTTP 接口
package server

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/image-service/auth"
	"github.com/chaos-io/image-service/config"
	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
	"github.com/chaos-io/image-service/repo"
	"github.com/chaos-io/image-service/storage"
)

// ImageRepo 图片元数据，由 repo.Repo 实现
type ImageRepo interface {
	Create(ctx context.Context, img *repo.Image) error
	Get(ctx context.Context, userID, id string) (repo.Image, error)
	List(ctx context.Context, userID string, page, limit int) ([]repo.Image, int64, error)
	Delete(ctx context.Context, userID, id string) error
}

// Processor 由 processor.Processor 实现
type Processor interface {
	RemoveBackground(ctx context.Context, userID string, req processor.RemoveRequest) (processor.Result, error)
	Enhance(ctx context.Context, userID string, req processor.EnhanceRequest) (processor.Result, error)
	VirtualShowroom(ctx context.Context, userID, imageURL, showroomType string) (processor.Result, error)
	Info() processor.Info
}

type Batcher interface {
	Submit(ctx context.Context, userID string, urls, ops []string) (job.Job, error)
}

type JobStore interface {
	Get(userID, id string) (job.Job, error)
}

type Deps struct {
	Config    config.Config
	Verifier  *auth.Verifier
	Storage   storage.Storage
	Images    ImageRepo
	Processor Processor
	Batcher   Batcher
	Jobs      JobStore
	Metrics   *Metrics

	// StaticRoot 本地存储目录，非空时通过 /storage 提供静态文件
	StaticRoot string
}

type Server struct {
	cfg       config.Config
	verifier  *auth.Verifier
	store     storage.Storage
	images    ImageRepo
	processor Processor
	batcher   Batcher
	jobs      JobStore
	metrics   *Metrics
	engine    *gin.Engine
}

func New(d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}
	s := &Server{
		cfg:       d.Config,
		verifier:  d.Verifier,
		store:     d.Storage,
		images:    d.Images,
		processor: d.Processor,
		batcher:   d.Batcher,
		jobs:      d.Jobs,
		metrics:   d.Metrics,
		engine:    gin.New(),
	}
	_ = s.engine.SetTrustedProxies(nil)
	s.engine.MaxMultipartMemory = d.Config.Upload.MaxFileSize
	s.addMiddleware()
	s.addRoutes(d.StaticRoot)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) addMiddleware() {
	s.engine.Use(requestID(), accessLog(), s.metrics.Middleware(), recovery())
	if origins := s.cfg.CORSOrigins(); len(origins) > 0 {
		s.engine.Use(corsMiddleware(origins))
	}
}

func (s *Server) addRoutes(staticRoot string) {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	// 只公开 uploads 和 processed，数据库文件可能也在同一目录
	if staticRoot != "" && strings.HasPrefix(s.cfg.Storage.URL, "/") {
		base := strings.TrimRight(s.cfg.Storage.URL, "/")
		for _, dir := range []string{storage.UploadsDir, storage.ProcessedDir} {
			s.engine.Static(base+"/"+dir, filepath.Join(staticRoot, dir))
		}
	}

	authed := auth.RequireUser(s.verifier)

	images := s.engine.Group("/images", authed)
	images.POST("/upload", s.handleUpload)
	images.POST("/upload-multiple", s.handleUploadMultiple)
	images.GET("/", s.handleListImages)
	images.GET("/:id", s.handleGetImage)
	images.DELETE("/:id", s.handleDeleteImage)

	process := s.engine.Group("/process")
	process.GET("/info", s.handleInfo)
	process.Use(authed)
	process.POST("/enhance", s.handleEnhance)
	process.POST("/remove-background", s.handleRemoveBackground)
	process.POST("/virtual-showroom", s.handleVirtualShowroom)
	process.POST("/batch", s.handleBatch)
	process.GET("/status/:job_id", s.handleStatus)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": s.cfg.Service.Name,
		"version": s.cfg.Service.Version,
		"status":  "healthy",
	})
}

func currentUser(c *gin.Context) auth.User {
	u, _ := auth.UserFrom(c)
	return u
}
