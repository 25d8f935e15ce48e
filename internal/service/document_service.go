// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/internal/repository"
	"semantic-search-go/pkg/embedding"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"

	"github.com/pgvector/pgvector-go"
)

// DocumentService 接口定义了文档写入相关的业务操作。
type DocumentService interface {
	// AddDocuments 为每条文本生成向量并整批写入，按输入顺序返回 ID。
	// 任何一条失败时整批回滚，返回 *errs.BatchError。
	AddDocuments(ctx context.Context, texts []string) ([]int64, error)
}

type documentService struct {
	embeddingClient embedding.Client
	docRepo         repository.DocumentRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(embeddingClient embedding.Client, docRepo repository.DocumentRepository) DocumentService {
	return &documentService{
		embeddingClient: embeddingClient,
		docRepo:         docRepo,
	}
}

func (s *documentService) AddDocuments(ctx context.Context, texts []string) ([]int64, error) {
	if len(texts) == 0 {
		return nil, errs.Validationf("texts must not be empty")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errs.Validationf("text at index %d is blank", i)
		}
	}
	log.Infof("[DocumentService] 开始写入文档, 数量: %d", len(texts))

	// 先完成全部向量化再开启会话，避免长事务占用连接
	docs := make([]*model.Document, 0, len(texts))
	for i, text := range texts {
		vector, err := s.embeddingClient.CreateEmbedding(ctx, text)
		if err != nil {
			log.Errorf("[DocumentService] 第 %d 条文本向量化失败: %v", i, err)
			return nil, s.fail(len(texts), fmt.Errorf("failed to embed text %d: %w", i, err))
		}
		docs = append(docs, &model.Document{Content: text, Embedding: pgvector.NewVector(vector)})
	}

	if err := s.docRepo.InsertBatch(ctx, docs); err != nil {
		log.Errorf("[DocumentService] 批量写入失败, 已回滚: %v", err)
		return nil, s.fail(len(texts), err)
	}

	ids := make([]int64, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	metrics.DocumentsInserted.Add(float64(len(ids)))
	log.Infof("[DocumentService] 文档写入成功, IDs: %v", ids)
	return ids, nil
}

func (s *documentService) fail(size int, err error) error {
	metrics.BatchFailures.Inc()
	return &errs.BatchError{Size: size, Err: err}
}
