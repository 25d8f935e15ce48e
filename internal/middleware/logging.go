// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"
)

const (
	// RequestIDHeader 在请求与响应中携带请求 ID。
	RequestIDHeader = "X-Request-ID"
	// maxLoggedBody 限制日志中记录的请求/响应体长度，避免批量写入刷屏。
	maxLoggedBody = 2048
)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.body.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// prefixedBody 把已预读的前缀与剩余的请求体重新组合，Close 仍作用于原始请求体。
type prefixedBody struct {
	io.Reader
	io.Closer
}

// RequestLogger 是一个 Gin 中间件，用于记录详细的请求和响应日志。
// 请求没有携带 X-Request-ID 时生成一个新的 UUID。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("requestID", requestID)
		c.Header(RequestIDHeader, requestID)

		// 只预读日志需要的前缀，再拼回原始请求体供后续处理函数读取
		var requestBody []byte
		if c.Request.Body != nil && c.ContentType() == gin.MIMEJSON {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
			c.Request.Body = prefixedBody{
				Reader: io.MultiReader(bytes.NewReader(requestBody), c.Request.Body),
				Closer: c.Request.Body,
			}
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"requestID", requestID,
			"statusCode", status,
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", truncate(requestBody),
			"responseBody", blw.body.String(),
		}
		switch {
		case status >= 500:
			log.Errorw("HTTP Request Log", fields...)
		case status >= 400:
			log.Warnw("HTTP Request Log", fields...)
		default:
			log.Infow("HTTP Request Log", fields...)
		}
	}
}

// Metrics 记录每个路由的请求数与延迟。未匹配的路由统一记为 "unmatched"，
// 避免任意路径撑大标签基数。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}
