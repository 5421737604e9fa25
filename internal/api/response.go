package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the envelope of every /api response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// sendResponse sends a successful response
func sendResponse(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Response{
		Success: status >= http.StatusOK && status < http.StatusMultipleChoices,
		Message: message,
		Data:    data,
	})
}

// sendError logs err and sends the matching error response
func sendError(c *gin.Context, logger *zap.Logger, err error) {
	apiErr := toError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestID(c)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(apiErr.Code, Response{
		Success: false,
		Message: apiErr.Message,
	})
}
