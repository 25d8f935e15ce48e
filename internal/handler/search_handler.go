package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/internal/service"
	"semantic-search-go/pkg/log"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Query 处理 POST /query。
func (h *SearchHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No question provided"})
		return
	}

	results, err := h.searchService.Query(c.Request.Context(), req.Question, req.Limit)
	if err != nil {
		if errs.IsClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[SearchHandler] 检索失败, error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error querying documents: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.QueryResponse{Results: results})
}
