package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TBXark/mail2telegram/internal/service"
)

// 通用错误消息
const (
	MsgNotFound      = "Not found"
	MsgEmailNotFound = "Email not found or expired"
	MsgInvalidToken  = "Invalid token"
	MsgInvalidJSON   = "Invalid JSON body"
)

// 业务错误到 HTTP 状态码的映射
var errorStatus = map[error]int{
	service.ErrMissingAddress:  http.StatusBadRequest,
	service.ErrInvalidListType: http.StatusBadRequest,
	service.ErrDynamicDisabled: http.StatusForbidden,
}

// statusOf 返回错误对应的状态码，未知错误为 500
func statusOf(err error) int {
	for target, status := range errorStatus {
		if errors.Is(err, target) {
			return status
		}
	}
	return http.StatusInternalServerError
}

// respondError 以 {"error": message} 的形式返回错误
func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// respondSuccess 返回 {"success": true}
func respondSuccess(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}
