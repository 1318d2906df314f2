package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/chaos-io/image-service/imaging"
	nhttp "github.com/chaos-io/image-service/util/http"
	"github.com/rs/zerolog/log"
)

const (
	DefaultModel = "u2net"
	removePath   = "/api/remove"
)

type ServerOptions struct {
	BaseURL      string
	Model        string
	AlphaMatting bool
	Timeout      time.Duration

	// alpha matting 的前景 / 背景阈值
	FGThreshold int
	BGThreshold int
}

// Server 通过 HTTP 调用 rembg server（rembg s）推理
type Server struct {
	opts ServerOptions
	cli  nhttp.IClient
}

func NewServer(opts ServerOptions, cli nhttp.IClient) *Server {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if cli == nil {
		cli = nhttp.NewHTTPClientWithTimeout(opts.Timeout)
	}
	return &Server{opts: opts, cli: cli}
}

func (s *Server) Name() string {
	return "rembg:" + s.opts.Model
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@car.jpg" \
	  -F "model=u2net" \
	  -F "a=true" -F "af=240" -F "ab=10" \
	  -o car.png
*/
func (s *Server) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("model", s.opts.Model)
	if s.opts.AlphaMatting {
		_ = writer.WriteField("a", "true")
		_ = writer.WriteField("af", strconv.Itoa(s.opts.FGThreshold))
		_ = writer.WriteField("ab", strconv.Itoa(s.opts.BGThreshold))
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var cutout []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.opts.BaseURL + removePath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   &cutout,
		Timeout:    s.opts.Timeout,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("rembg request: %w", err)
	}

	log.Debug().Str("model", s.opts.Model).Int("bytes", len(cutout)).Msg("rembg response")

	out, err := imaging.Decode(cutout)
	if err != nil {
		return nil, fmt.Errorf("rembg response: %w", err)
	}
	return imaging.ToNRGBA(out), nil
}
