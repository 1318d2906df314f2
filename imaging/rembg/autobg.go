package rembg

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/util"
	nhttp "github.com/chaos-io/image-service/util/http"
)

const (
	DefaultAutoBGURL = "https://www.autobg.ai/api"

	defaultAutoBGMaxDownload = 20 * 1024 * 1024
)

var errEmptyAutoBGResponse = errors.New("no image in API response")

// Downloader 下载 API 以 url 形式返回的结果
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// AutoBG AutoBG.ai 云端抠图，针对车辆照片优化
type AutoBG struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	cli     nhttp.IClient
	dl      Downloader
}

// NewAutoBG dl 为空时使用 20MiB 上限的 util.Downloader
func NewAutoBG(apiKey, baseURL string, timeout time.Duration, cli nhttp.IClient, dl Downloader) *AutoBG {
	if baseURL == "" {
		baseURL = DefaultAutoBGURL
	}
	if cli == nil {
		cli = nhttp.NewHTTPClientWithTimeout(timeout)
	}
	if dl == nil {
		dl = util.NewDownloader(timeout, defaultAutoBGMaxDownload)
	}
	return &AutoBG{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		cli:     cli,
		dl:      dl,
	}
}

func (a *AutoBG) Name() string {
	return "autobg-ai"
}

type autoBGRequest struct {
	Image      string `json:"image"`
	Background string `json:"background"`
}

type autoBGResponse struct {
	Image string `json:"image"`
	URL   string `json:"url"`
}

// Remove 始终请求透明背景，背景合成在本地完成
func (a *AutoBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	resp := &autoBGResponse{}
	err = a.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: a.baseURL + "/remove-background",
		Method:     "POST",
		Header: map[string]string{
			"Authorization": a.apiKey,
			"Content-Type":  "application/json",
		},
		Body: autoBGRequest{
			Image:      base64.StdEncoding.EncodeToString(data),
			Background: "transparent",
		},
		Response: resp,
		Timeout:  a.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("autobg request: %w", err)
	}

	var processed []byte
	switch {
	case resp.Image != "":
		processed, err = base64.StdEncoding.DecodeString(resp.Image)
		if err != nil {
			return nil, fmt.Errorf("decode autobg image: %w", err)
		}
	case resp.URL != "":
		processed, err = a.dl.Download(ctx, resp.URL)
		if err != nil {
			return nil, fmt.Errorf("download autobg result: %w", err)
		}
	default:
		return nil, errEmptyAutoBGResponse
	}

	out, err := imaging.Decode(processed)
	if err != nil {
		return nil, fmt.Errorf("autobg response: %w", err)
	}
	return imaging.ToNRGBA(out), nil
}
