// Package model 定义了与存储对应的 Go 结构体以及对外的 DTO。
package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Document 对应于数据库中的 documents 表。
// 文档只通过写入路径创建，创建后不可修改。
type Document struct {
	ID        int64           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Content   string          `gorm:"type:text;not null;column:content" json:"content"`
	Embedding pgvector.Vector `gorm:"not null;column:embedding" json:"-"`
	CreatedAt time.Time       `gorm:"autoCreateTime;column:created_at" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// SearchResult 是一次相似度检索的单条命中。
// Similarity = 1 - cosine_distance。
type SearchResult struct {
	ID         int64   `json:"id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
