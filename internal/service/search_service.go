package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/internal/repository"
	"semantic-search-go/pkg/embedding"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"
)

// SearchService 接口定义了搜索操作。
type SearchService interface {
	// Query 返回与 question 最相似的至多 limit 条文档，limit 为 0 时使用默认值。
	Query(ctx context.Context, question string, limit int) ([]model.SearchResult, error)
}

type searchService struct {
	embeddingClient embedding.Client
	docRepo         repository.DocumentRepository
	cfg             config.SearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, docRepo repository.DocumentRepository, cfg config.SearchConfig) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		docRepo:         docRepo,
		cfg:             cfg,
	}
}

func (s *searchService) Query(ctx context.Context, question string, limit int) ([]model.SearchResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errs.Validationf("question must not be blank")
	}
	switch {
	case limit == 0:
		limit = s.cfg.DefaultLimit
	case limit < 0:
		return nil, errs.Validationf("limit must be positive, got %d", limit)
	case limit > s.cfg.MaxLimit:
		return nil, errs.Validationf("limit must be at most %d, got %d", s.cfg.MaxLimit, limit)
	}

	start := time.Now()
	defer func() { metrics.SearchLatency.Observe(time.Since(start).Seconds()) }()

	log.Infof("[SearchService] 开始执行相似度检索, question: '%s', limit: %d", question, limit)
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, question)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	results, err := s.docRepo.Search(ctx, queryVector, limit)
	if err != nil {
		log.Errorf("[SearchService] 向量检索失败: %v", err)
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	log.Infof("[SearchService] 检索完成, 返回 %d 条结果", len(results))
	return results, nil
}
