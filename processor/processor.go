// Package processor 实现抠图、增强和虚拟展厅等图片处理流程
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/semaphore"

	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/imaging/rembg"
	"github.com/chaos-io/image-service/storage"
	"github.com/chaos-io/image-service/util"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrFetch          = errors.New("failed to fetch image")
)

const (
	OpEnhance          = "enhance"
	OpRemoveBackground = "remove_background"
	OpShowroom         = "showroom"

	BackgroundTransparent = "transparent"
	BackgroundSolid       = "solid"
	BackgroundCustom      = "custom"

	DefaultShowroom = "indoor"

	StatusCompleted = "completed"

	defaultJPEGQuality = 92
)

var operations = []string{OpEnhance, OpRemoveBackground, OpShowroom}

// Fetcher 下载不在本地存储里的图片
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Marker 把用户上传的原图标记为已处理
type Marker interface {
	MarkProcessed(ctx context.Context, userID, url, processedURL string) error
}

type Options struct {
	Storage storage.Storage
	Remover rembg.Remover
	Fetcher Fetcher

	// Images 可以为空
	Images Marker

	Workers     int
	MaxSide     int
	JPEGQuality int
	// MaxPixels 解码前的像素上限，<= 0 使用 imaging.DefaultMaxPixels
	MaxPixels int64

	// Observe 每次处理结束时回调，status 为 success 或 error
	Observe func(op, status string)
}

type Processor struct {
	store       storage.Storage
	remover     rembg.Remover
	fetcher     Fetcher
	images      Marker
	sem         *semaphore.Weighted
	maxSide     int
	maxPixels   int64
	jpegQuality int
	observe     func(op, status string)
}

func New(opts Options) *Processor {
	workers := max(opts.Workers, 1)
	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQuality
	}
	observe := opts.Observe
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Processor{
		store:       opts.Storage,
		remover:     opts.Remover,
		fetcher:     opts.Fetcher,
		images:      opts.Images,
		sem:         semaphore.NewWeighted(int64(workers)),
		maxSide:     opts.MaxSide,
		maxPixels:   opts.MaxPixels,
		jpegQuality: quality,
		observe:     observe,
	}
}

type RemoveRequest struct {
	ImageURL        string
	BackgroundType  string
	BackgroundColor string
	BackgroundURL   string
}

type EnhanceRequest struct {
	ImageURL string
	Options  imaging.EnhanceOptions
}

type Result struct {
	ID             string
	URL            string
	ProcessingTime float64
	Model          string
	Status         string
}

type Info struct {
	Service  string   `json:"service"`
	Backend  string   `json:"backend"`
	Features []string `json:"features"`
}

// stage 对解码后的图片做处理，返回结果和输出格式
type stage func(ctx context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error)

// ValidOperation 判断是否是批处理支持的操作
func ValidOperation(op string) bool {
	for _, o := range operations {
		if o == op {
			return true
		}
	}
	return false
}

func Operations() []string {
	return append([]string(nil), operations...)
}

func (p *Processor) Info() Info {
	return Info{
		Service: "keroxio-image",
		Backend: p.remover.Name(),
		Features: []string{
			"background_removal",
			"virtual_showroom",
			"image_enhancement",
			"batch_processing",
		},
	}
}

// RemoveBackground 抠图后按背景类型输出：透明为 PNG，其余合成后为 JPEG
func (p *Processor) RemoveBackground(ctx context.Context, userID string, req RemoveRequest) (Result, error) {
	return p.removeBackground(ctx, OpRemoveBackground, userID, req)
}

// VirtualShowroom 抠图后合成到展厅背景色上
func (p *Processor) VirtualShowroom(ctx context.Context, userID, imageURL, showroomType string) (Result, error) {
	if strings.TrimSpace(showroomType) == "" {
		showroomType = DefaultShowroom
	}
	req := RemoveRequest{
		ImageURL:        imageURL,
		BackgroundType:  BackgroundSolid,
		BackgroundColor: imaging.ShowroomColor(strings.ToLower(showroomType)),
	}
	return p.removeBackground(ctx, OpShowroom, userID, req)
}

func (p *Processor) Enhance(ctx context.Context, userID string, req EnhanceRequest) (Result, error) {
	return p.run(ctx, OpEnhance, userID, req.ImageURL, "", func(_ context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error) {
		defer util.Trace("enhance")()
		return imaging.Enhance(img, req.Options), imaging.FormatJPEG, nil
	})
}

// Apply 执行批处理中的单个操作，使用各操作的默认参数
func (p *Processor) Apply(ctx context.Context, userID, op, imageURL string) (Result, error) {
	switch op {
	case OpEnhance:
		return p.Enhance(ctx, userID, EnhanceRequest{ImageURL: imageURL, Options: imaging.DefaultEnhanceOptions()})
	case OpRemoveBackground:
		return p.RemoveBackground(ctx, userID, RemoveRequest{ImageURL: imageURL, BackgroundType: BackgroundTransparent})
	case OpShowroom:
		return p.VirtualShowroom(ctx, userID, imageURL, DefaultShowroom)
	default:
		return Result{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
	}
}

func (p *Processor) removeBackground(ctx context.Context, op, userID string, req RemoveRequest) (Result, error) {
	compose, err := p.background(req)
	if err != nil {
		return Result{}, err
	}

	return p.run(ctx, op, userID, req.ImageURL, p.remover.Name(), func(ctx context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error) {
		cut, err := p.cutout(ctx, img)
		if err != nil {
			return nil, "", err
		}
		return compose(ctx, cut)
	})
}

// background 在开始处理前校验背景参数，返回合成函数
func (p *Processor) background(req RemoveRequest) (stage, error) {
	bgType := strings.ToLower(strings.TrimSpace(req.BackgroundType))
	if bgType == "" {
		bgType = BackgroundTransparent
	}

	solid := func(c color.NRGBA) stage {
		return func(_ context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error) {
			return imaging.Flatten(img, c), imaging.FormatJPEG, nil
		}
	}

	switch bgType {
	case BackgroundTransparent:
		return func(_ context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error) {
			return img, imaging.FormatPNG, nil
		}, nil
	case BackgroundSolid:
		c, err := imaging.ParseHexColor(req.BackgroundColor)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return solid(c), nil
	case BackgroundCustom:
		if strings.TrimSpace(req.BackgroundURL) == "" {
			return nil, fmt.Errorf("%w: background_url is required for custom background", ErrInvalidRequest)
		}
		return func(ctx context.Context, img *image.NRGBA) (*image.NRGBA, imaging.Format, error) {
			data, err := p.fetch(ctx, req.BackgroundURL)
			if err != nil {
				return nil, "", err
			}
			if err := imaging.CheckDimensions(data, p.maxPixels); err != nil {
				return nil, "", fmt.Errorf("background: %w", err)
			}
			bg, err := imaging.Decode(data)
			if err != nil {
				return nil, "", fmt.Errorf("decode background: %w", err)
			}
			return imaging.Overlay(img, bg), imaging.FormatJPEG, nil
		}, nil
	default:
		c, ok := imaging.PresetBackground(bgType)
		if !ok {
			return nil, fmt.Errorf("%w: unknown background type %q", ErrInvalidRequest, req.BackgroundType)
		}
		return solid(c), nil
	}
}

// cutout 调用模型去除背景，已有透明通道的图片直接使用
func (p *Processor) cutout(ctx context.Context, img *image.NRGBA) (*image.NRGBA, error) {
	cut := img
	if imaging.HasUsefulAlpha(img) {
		log.Ctx(ctx).Debug().Msg("image already has alpha, skipping model")
	} else {
		defer util.Trace("remove background")()

		out, err := p.remover.Remove(ctx, imaging.ResizeWithinMax(img, p.maxSide))
		if err != nil {
			return nil, fmt.Errorf("remove background: %w", err)
		}
		cut = imaging.Fit(out, img.Bounds().Dx(), img.Bounds().Dy())
	}

	if _, err := imaging.AlphaBBox(cut, imaging.ForegroundThreshold); err != nil {
		return nil, err
	}
	return cut, nil
}

func (p *Processor) run(ctx context.Context, op, userID, imageURL, model string, fn stage) (Result, error) {
	if strings.TrimSpace(imageURL) == "" {
		return Result{}, fmt.Errorf("%w: image_url is required", ErrInvalidRequest)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer p.sem.Release(1)

	logger := log.Ctx(ctx).With().Str("op", op).Str("user_id", userID).Str("image_url", imageURL).Logger()
	ctx = logger.WithContext(ctx)

	res, err := p.process(ctx, userID, imageURL, model, fn)
	if err != nil {
		p.observe(op, "error")
		logger.Warn().Err(err).Msg("processing failed")
		return Result{}, err
	}

	p.observe(op, "success")
	logger.Info().Str("processed_url", res.URL).Float64("processing_time", res.ProcessingTime).Msg("processing completed")
	return res, nil
}

func (p *Processor) process(ctx context.Context, userID, imageURL, model string, fn stage) (Result, error) {
	start := time.Now()

	data, err := p.fetch(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}

	if _, err := imaging.DetectFormat(data); err != nil {
		return Result{}, err
	}
	if err := imaging.CheckDimensions(data, p.maxPixels); err != nil {
		return Result{}, err
	}
	src, err := imaging.Decode(data)
	if err != nil {
		return Result{}, err
	}

	out, format, err := fn(ctx, imaging.ToNRGBA(src))
	if err != nil {
		return Result{}, err
	}

	encoded, err := p.encode(out, format)
	if err != nil {
		return Result{}, err
	}

	id := ksuid.New().String()
	url, err := p.store.Put(ctx, storage.ProcessedKey(id+"."+format.Ext()), encoded, format.MIME())
	if err != nil {
		return Result{}, fmt.Errorf("store result: %w", err)
	}

	if p.images != nil {
		if err := p.images.MarkProcessed(ctx, userID, imageURL, url); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("mark upload processed")
		}
	}

	return Result{
		ID:             id,
		URL:            url,
		ProcessingTime: math.Round(time.Since(start).Seconds()*100) / 100,
		Model:          model,
		Status:         StatusCompleted,
	}, nil
}

func (p *Processor) encode(img *image.NRGBA, format imaging.Format) ([]byte, error) {
	defer util.Trace("encode " + string(format))()
	if format == imaging.FormatPNG {
		return imaging.EncodePNG(img)
	}
	return imaging.EncodeJPEG(img, p.jpegQuality)
}

// fetch 存储里的图片直接读取，其余走 HTTP 下载
func (p *Processor) fetch(ctx context.Context, url string) ([]byte, error) {
	defer util.Trace("fetch")()

	if key, ok := p.store.KeyFromURL(url); ok {
		data, err := p.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return data, nil
	}

	data, err := p.fetcher.Download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return data, nil
}
