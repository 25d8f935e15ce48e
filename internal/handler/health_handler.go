package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"semantic-search-go/pkg/log"
)

// DocumentCounter 由向量存储实现。
type DocumentCounter interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler 报告向量存储是否可达。
type HealthHandler struct {
	store DocumentCounter
}

func NewHealthHandler(store DocumentCounter) *HealthHandler {
	return &HealthHandler{store: store}
}

// Healthz 处理 GET /healthz。
func (h *HealthHandler) Healthz(c *gin.Context) {
	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		log.Warnf("[HealthHandler] 向量存储不可用: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "documents": count})
}
