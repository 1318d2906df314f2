package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/chaos-io/image-service/imaging"
	"github.com/chaos-io/image-service/job"
	"github.com/chaos-io/image-service/processor"
	"github.com/chaos-io/image-service/repo"
	"github.com/chaos-io/image-service/storage"
)

// badRequest 直接作为 detail 返回给客户端
type badRequest string

func (e badRequest) Error() string {
	return string(e)
}

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, processor.ErrInvalidRequest),
		errors.Is(err, imaging.ErrInvalidColor),
		errors.Is(err, imaging.ErrUnsupportedFormat),
		errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// abortOp 返回 "<op> failed: <err>"
func abortOp(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Str("op", op).Msg("request failed")
	}
	abort(c, status, fmt.Sprintf("%s failed: %v", op, err))
}
