// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/internal/service"
	"semantic-search-go/pkg/log"
)

// DocumentHandler 负责处理文档写入与导入相关的 API 请求。
type DocumentHandler struct {
	docService    service.DocumentService
	uploadService service.UploadService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。uploadService 为 nil 时导入接口返回 503。
func NewDocumentHandler(docService service.DocumentService, uploadService service.UploadService) *DocumentHandler {
	return &DocumentHandler{
		docService:    docService,
		uploadService: uploadService,
	}
}

// AddDocuments 处理 POST /documents。
func (h *DocumentHandler) AddDocuments(c *gin.Context) {
	var req model.AddDocumentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载: " + err.Error()})
		return
	}
	if len(req.Texts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No texts provided"})
		return
	}

	ids, err := h.docService.AddDocuments(c.Request.Context(), req.Texts)
	if err != nil {
		if errs.IsClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[DocumentHandler] 写入文档失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error adding documents: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.AddDocumentsResponse{DocumentIDs: ids})
}

// Upload 处理 POST /documents/upload，文件在后台异步导入。
func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.uploadService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "asynchronous import is disabled"})
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 multipart 请求: " + err.Error()})
		return
	}

	resp, err := h.uploadService.Submit(c.Request.Context(), form.File["files"])
	if err != nil {
		if errs.IsClientError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[DocumentHandler] 受理导入任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error importing documents: " + err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, resp)
}
