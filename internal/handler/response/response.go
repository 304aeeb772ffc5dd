package response

import (
	"net/http"

	"signer-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

// Response defines the standard JSON structure
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"msg"`
	Data    interface{} `json:"data"`
}

// Success returns a success response with data
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		data = gin.H{} // Return empty object instead of null
	}
	c.JSON(http.StatusOK, Response{
		Code:    errno.OK.Code,
		Message: errno.OK.Message,
		Data:    data,
	})
}

// Error returns an error response (HTTP 200, 错误码在 body 中)
func Error(c *gin.Context, err error) {
	code, msg := errno.Decode(err)
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}

// Abort 返回错误并终止后续中间件
func Abort(c *gin.Context, status int, err error) {
	code, msg := errno.Decode(err)
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: msg,
		Data:    gin.H{},
	})
}
