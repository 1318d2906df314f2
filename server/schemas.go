package server

import (
	"time"

	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
	"github.com/chaos-io/image-service/repo"
)

type ImageUploadResponse struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type ImageInfo struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Processed    bool       `json:"processed"`
	ProcessedURL *string    `json:"processed_url"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

type ImageListResponse struct {
	Images []ImageInfo `json:"images"`
	Total  int64       `json:"total"`
	Page   int         `json:"page"`
	Limit  int         `json:"limit"`
}

type EnhancementRequest struct {
	ImageURL  string `json:"image_url" binding:"required"`
	AutoColor *bool  `json:"auto_color"`
	Denoise   *bool  `json:"denoise"`
	Sharpen   *bool  `json:"sharpen"`
	HDR       *bool  `json:"hdr"`
	Contrast  *bool  `json:"contrast"`
}

type BackgroundRemovalRequest struct {
	ImageURL        string `json:"image_url" binding:"required"`
	BackgroundType  string `json:"background_type"`
	BackgroundColor string `json:"background_color"`
	BackgroundURL   string `json:"background_url"`
}

type ProcessRequest struct {
	ImageURLs  []string `json:"image_urls" binding:"required"`
	Operations []string `json:"operations"`
}

type ProcessResponse struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	OriginalURL    string   `json:"original_url"`
	ProcessedURL   *string  `json:"processed_url"`
	ProcessingTime *float64 `json:"processing_time"`
	Message        *string  `json:"message"`
}

type ProcessStatus struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Progress  int              `json:"progress"`
	Total     int              `json:"total"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Results   []job.ItemResult `json:"results"`
}

type listQuery struct {
	Page  int `form:"page,default=1" binding:"min=1"`
	Limit int `form:"limit,default=20" binding:"min=1,max=100"`
}

func newImageInfo(img repo.Image) ImageInfo {
	info := ImageInfo{
		ID:        img.ID,
		URL:       img.URL,
		Processed: img.Processed,
		CreatedAt: img.CreatedAt,
	}
	if img.ProcessedURL != "" {
		info.ProcessedURL = &img.ProcessedURL
	}
	if !img.UpdatedAt.IsZero() {
		info.UpdatedAt = &img.UpdatedAt
	}
	return info
}

func newProcessResponse(originalURL string, res processor.Result) ProcessResponse {
	return ProcessResponse{
		ID:             res.ID,
		Status:         res.Status,
		OriginalURL:    originalURL,
		ProcessedURL:   &res.URL,
		ProcessingTime: &res.ProcessingTime,
	}
}

func newProcessStatus(j job.Job) ProcessStatus {
	results := j.Results
	if results == nil {
		results = []job.ItemResult{}
	}
	return ProcessStatus{
		ID:        j.ID,
		Status:    j.Status,
		Progress:  j.Progress(),
		Total:     j.Total,
		Completed: j.Completed,
		Failed:    j.Failed,
		Results:   results,
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
