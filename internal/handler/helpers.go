package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/ai"
	"github.com/xxxsen/mofadvisor/internal/middleware"
	"github.com/xxxsen/mofadvisor/internal/pkg/errcode"
	appErr "github.com/xxxsen/mofadvisor/internal/pkg/errors"
	"github.com/xxxsen/mofadvisor/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID, _ := c.Get(middleware.ContextRequestIDKey)
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.Any("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	if verr, ok := appErr.AsValidation(err); ok {
		response.Error(c, errcode.ErrInvalid, verr.Error())
		return
	}
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrUploadTooLarge):
		response.Error(c, errcode.ErrUploadTooLarge, "upload too large")
	case errors.Is(err, appErr.ErrIndexUnavailable):
		response.Error(c, errcode.ErrIndexUnavailable, "vector index unavailable")
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, ai.ErrProviderFailure), errors.Is(err, appErr.ErrProviderUnavailable):
		response.Error(c, errcode.ErrAIUnavailable, "ai provider unavailable")
	case errors.Is(err, appErr.ErrExtraction):
		response.Error(c, errcode.ErrIngestFailed, "extraction failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		response.Error(c, errcode.ErrInternal, "request canceled")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
