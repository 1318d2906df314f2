package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
)

func (s *Server) handleEnhance(c *gin.Context) {
	var req EnhancementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "image_url is required")
		return
	}

	opts := imaging.EnhanceOptions{
		AutoColor: boolOr(req.AutoColor, true),
		Contrast:  boolOr(req.Contrast, true),
		Denoise:   boolOr(req.Denoise, true),
		Sharpen:   boolOr(req.Sharpen, true),
		HDR:       boolOr(req.HDR, false),
	}
	res, err := s.processor.Enhance(c.Request.Context(), currentUser(c).ID, processor.EnhanceRequest{ImageURL: req.ImageURL, Options: opts})
	if err != nil {
		abortOp(c, "Enhancement", err)
		return
	}
	c.JSON(http.StatusOK, newProcessResponse(req.ImageURL, res))
}

func (s *Server) handleRemoveBackground(c *gin.Context) {
	var req BackgroundRemovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "image_url is required")
		return
	}

	res, err := s.processor.RemoveBackground(c.Request.Context(), currentUser(c).ID, processor.RemoveRequest{
		ImageURL:        req.ImageURL,
		BackgroundType:  req.BackgroundType,
		BackgroundColor: req.BackgroundColor,
		BackgroundURL:   req.BackgroundURL,
	})
	if err != nil {
		abortOp(c, "Background removal", err)
		return
	}
	c.JSON(http.StatusOK, newProcessResponse(req.ImageURL, res))
}

// handleVirtualShowroom background_type 表示展厅类型
func (s *Server) handleVirtualShowroom(c *gin.Context) {
	var req BackgroundRemovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "image_url is required")
		return
	}

	res, err := s.processor.VirtualShowroom(c.Request.Context(), currentUser(c).ID, req.ImageURL, req.BackgroundType)
	if err != nil {
		abortOp(c, "Virtual showroom", err)
		return
	}
	c.JSON(http.StatusOK, newProcessResponse(req.ImageURL, res))
}

func (s *Server) handleBatch(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "image_urls is required")
		return
	}

	j, err := s.batcher.Submit(c.Request.Context(), currentUser(c).ID, req.ImageURLs, req.Operations)
	if err != nil {
		abortOp(c, "Batch processing", err)
		return
	}

	msg := fmt.Sprintf("Processing %d images", len(req.ImageURLs))
	c.JSON(http.StatusOK, ProcessResponse{
		ID:          j.ID,
		Status:      j.Status,
		OriginalURL: req.ImageURLs[0],
		Message:     &msg,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	j, err := s.jobs.Get(currentUser(c).ID, c.Param("job_id"))
	if errors.Is(err, job.ErrNotFound) {
		abort(c, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		abortOp(c, "Status", err)
		return
	}
	c.JSON(http.StatusOK, newProcessStatus(j))
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.processor.Info())
}
