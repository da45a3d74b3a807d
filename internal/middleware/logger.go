package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turmony/douBao/internal/pkg/logger"
)

// Logger 请求日志中间件，临时链接中的 token 不会写入日志
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latencyTime := time.Since(startTime)
		reqMethod := c.Request.Method
		reqPath := c.Request.URL.Path
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()

		if statusCode >= 500 {
			logger.Errorf("[%s] %s %s %d %v \"%s\" - Internal Server Error",
				clientIP, reqMethod, reqPath, statusCode, latencyTime, userAgent)
		} else if statusCode >= 400 {
			logger.Warnf("[%s] %s %s %d %v \"%s\" - Client Error",
				clientIP, reqMethod, reqPath, statusCode, latencyTime, userAgent)
		} else {
			logger.Infof("[%s] %s %s %d %v \"%s\"",
				clientIP, reqMethod, reqPath, statusCode, latencyTime, userAgent)
		}
	}
}
