package server

import (
	"net/http"

	"signer-core/internal/handler/response"
	"signer-core/pkg/errno"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit 全局令牌桶限流。设备一次只能处理一个操作，排队的请求没有意义。
// limit <= 0 时不限流。
func RateLimit(limit float64, burst int) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			response.Abort(c, http.StatusTooManyRequests, errno.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
