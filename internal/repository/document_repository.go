// Package repository 提供了向量存储的数据访问层实现。
package repository

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/pkg/log"
)

// DocumentRepository 定义了对文档向量表的数据操作接口。
// 文档只追加，不提供更新与删除。
type DocumentRepository interface {
	// Init 确保向量扩展、表结构与索引存在，可在每次启动时重复调用。
	Init(ctx context.Context) error
	// Insert 原子地写入一条文档并回填 ID。
	Insert(ctx context.Context, doc *model.Document) error
	// InsertBatch 在同一个会话内写入整批文档，要么全部成功，要么全部回滚。
	InsertBatch(ctx context.Context, docs []*model.Document) error
	// Search 按余弦距离升序返回最多 limit 条结果，距离相同时按 ID 升序。
	Search(ctx context.Context, vector []float32, limit int) ([]model.SearchResult, error)
	// Count 返回已存储的文档数量。
	Count(ctx context.Context) (int64, error)
}

type pgDocumentRepository struct {
	db         *gorm.DB
	dimensions int
	hnswIndex  bool
}

// NewDocumentRepository 创建一个基于 PostgreSQL + pgvector 的 DocumentRepository。
func NewDocumentRepository(db *gorm.DB, dimensions int, hnswIndex bool) DocumentRepository {
	return &pgDocumentRepository{db: db, dimensions: dimensions, hnswIndex: hnswIndex}
}

// Init 创建 vector 扩展、documents 表与 HNSW 索引，并校验已有表的向量维度。
func (r *pgDocumentRepository) Init(ctx context.Context) error {
	db := r.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return classify(errors.Wrap(err, "failed to create vector extension"))
	}

	// 维度来自配置而非用户输入
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, r.dimensions)
	if err := db.Exec(createTable).Error; err != nil {
		return classify(errors.Wrap(err, "failed to create documents table"))
	}

	var existing int
	err := db.Raw(`SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'documents'::regclass AND attname = 'embedding'`).Scan(&existing).Error
	if err != nil {
		return classify(errors.Wrap(err, "failed to inspect embedding column"))
	}
	if existing != r.dimensions {
		return fmt.Errorf("documents.embedding has %d dimensions but the model produces %d; existing vectors are not comparable", existing, r.dimensions)
	}

	if r.hnswIndex {
		err := db.Exec("CREATE INDEX IF NOT EXISTS documents_embedding_hnsw_idx ON documents USING hnsw (embedding vector_cosine_ops)").Error
		if err != nil {
			return classify(errors.Wrap(err, "failed to create hnsw index"))
		}
	}

	log.Infof("[DocumentRepository] 向量存储初始化完成, 维度: %d, hnsw: %t", r.dimensions, r.hnswIndex)
	return nil
}

// withSession 在独立事务中执行 fn：成功提交，出错或 panic 时回滚，连接只释放一次。
func (r *pgDocumentRepository) withSession(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return classify(r.db.WithContext(ctx).Transaction(fn))
}

func (r *pgDocumentRepository) Insert(ctx context.Context, doc *model.Document) error {
	return r.InsertBatch(ctx, []*model.Document{doc})
}

func (r *pgDocumentRepository) InsertBatch(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for i, doc := range docs {
		if n := len(doc.Embedding.Slice()); n != r.dimensions {
			return fmt.Errorf("document %d has %d dimensions, expected %d", i, n, r.dimensions)
		}
	}

	return r.withSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(docs).Error; err != nil {
			return errors.Wrapf(err, "failed to insert %d documents", len(docs))
		}
		return nil
	})
}

// searchSQL 使用 pgvector 的 <=> 余弦距离运算符，向量与 limit 均以参数绑定。
const searchSQL = `SELECT id, content, 1 - (embedding <=> ?) AS similarity
	FROM documents
	ORDER BY embedding <=> ?, id ASC
	LIMIT ?`

func (r *pgDocumentRepository) Search(ctx context.Context, vector []float32, limit int) ([]model.SearchResult, error) {
	if len(vector) != r.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(vector), r.dimensions)
	}
	query := pgvector.NewVector(vector)

	results := make([]model.SearchResult, 0, limit)
	err := r.withSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Raw(searchSQL, query, query, limit).Scan(&results).Error; err != nil {
			return errors.Wrap(err, "failed to execute vector search")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *pgDocumentRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Count(&count).Error; err != nil {
		return 0, classify(errors.Wrap(err, "failed to count documents"))
	}
	return count, nil
}

// classify 将连接层面的失败标记为 errs.ErrStoreUnavailable，其余错误原样返回。
func classify(err error) error {
	if err == nil || !isConnectionError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
}

func isConnectionError(err error) bool {
	if stderrors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	// SQLSTATE 08xxx: connection exception
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code.Class() == "08" {
		return true
	}
	return false
}
