package handler

import (
	"github.com/gin-gonic/gin"

	"semantic-search-go/internal/middleware"
	"semantic-search-go/pkg/metrics"
)

// NewRouter 创建带有日志、指标与 Recovery 中间件的路由引擎并注册全部路由。
func NewRouter(docHandler *DocumentHandler, searchHandler *SearchHandler, healthHandler *HealthHandler) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	r.POST("/documents", docHandler.AddDocuments)
	r.POST("/documents/upload", docHandler.Upload)
	r.POST("/query", searchHandler.Query)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}
