package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-redis/redis/v8"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/pkg/es"
	"semantic-search-go/pkg/log"
)

// idSequenceKey 是 Redis 中的文档 ID 序列，为 ES 后端提供单调递增的整数 ID。
const idSequenceKey = "documents:id_seq"

// compensateTimeout 限制回滚部分写入时的删除请求耗时。
const compensateTimeout = 10 * time.Second

type esDocumentRepository struct {
	client     *elasticsearch.Client
	rdb        *redis.Client
	indexName  string
	dimensions int
}

// NewESDocumentRepository 创建一个基于 Elasticsearch dense_vector 的 DocumentRepository。
func NewESDocumentRepository(client *elasticsearch.Client, rdb *redis.Client, indexName string, dimensions int) DocumentRepository {
	return &esDocumentRepository{client: client, rdb: rdb, indexName: indexName, dimensions: dimensions}
}

// esDocument 是存储在 Elasticsearch 中的文档结构。
type esDocument struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *esDocumentRepository) Init(ctx context.Context) error {
	return es.CreateIndexIfNotExists(ctx, r.client, r.indexName, r.dimensions)
}

func (r *esDocumentRepository) Insert(ctx context.Context, doc *model.Document) error {
	return r.InsertBatch(ctx, []*model.Document{doc})
}

// InsertBatch 通过一次 bulk 请求写入整批文档。任一条目失败时，
// 删除本批已写入的条目后返回错误，对外表现为整批回滚。
func (r *esDocumentRepository) InsertBatch(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	for i, doc := range docs {
		if n := len(doc.Embedding.Slice()); n != r.dimensions {
			return fmt.Errorf("document %d has %d dimensions, expected %d", i, n, r.dimensions)
		}
	}

	last, err := r.rdb.IncrBy(ctx, idSequenceKey, int64(len(docs))).Result()
	if err != nil {
		return fmt.Errorf("%w: failed to allocate document ids: %v", errs.ErrStoreUnavailable, err)
	}
	first := last - int64(len(docs)) + 1

	var body bytes.Buffer
	now := time.Now().UTC()
	for i, doc := range docs {
		id := first + int64(i)
		meta := map[string]interface{}{"index": map[string]interface{}{"_index": r.indexName, "_id": strconv.FormatInt(id, 10)}}
		if err := writeNDJSON(&body, meta, esDocument{ID: id, Content: doc.Content, Embedding: doc.Embedding.Slice(), CreatedAt: now}); err != nil {
			return err
		}
	}

	res, err := r.client.Bulk(bytes.NewReader(body.Bytes()),
		r.client.Bulk.WithContext(ctx),
		r.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		// 请求结果未知，尽力清理整批
		r.deleteIDs(ctx, idRange(first, len(docs)))
		return fmt.Errorf("%w: bulk index failed: %v", errs.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// 出错的 bulk 可能已经写入了一部分
		r.deleteIDs(ctx, idRange(first, len(docs)))
		return fmt.Errorf("bulk index returned %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		r.deleteIDs(ctx, idRange(first, len(docs)))
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}

	if bulkResp.Errors {
		var indexed []string
		var firstErr string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Status >= 200 && result.Status < 300 {
					indexed = append(indexed, result.ID)
				} else if firstErr == "" {
					firstErr = string(result.Error)
				}
			}
		}
		r.deleteIDs(ctx, indexed)
		return fmt.Errorf("bulk index rejected %d of %d documents: %s", len(docs)-len(indexed), len(docs), firstErr)
	}

	for i, doc := range docs {
		doc.ID = first + int64(i)
		doc.CreatedAt = now
	}
	return nil
}

// deleteIDs 是写入失败后的补偿删除，失败只记录日志。
// deleteIDs 在调用方的 ctx 已取消时依然执行，以免留下半批文档。
func (r *esDocumentRepository) deleteIDs(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	var body bytes.Buffer
	for _, id := range ids {
		meta := map[string]interface{}{"delete": map[string]interface{}{"_index": r.indexName, "_id": id}}
		if err := writeNDJSON(&body, meta); err != nil {
			return
		}
	}
	res, err := r.client.Bulk(bytes.NewReader(body.Bytes()),
		r.client.Bulk.WithContext(ctx),
		r.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		log.Errorf("[ESDocumentRepository] 回滚已写入的 %d 条文档失败: %v", len(ids), err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ESDocumentRepository] 回滚已写入的文档时 Elasticsearch 返回错误: %s", res.String())
		return
	}
	log.Warnf("[ESDocumentRepository] 已回滚 %d 条部分写入的文档", len(ids))
}

func (r *esDocumentRepository) Search(ctx context.Context, vector []float32, limit int) ([]model.SearchResult, error) {
	if len(vector) != r.dimensions {
		return nil, fmt.Errorf("query vector has %d dimensions, expected %d", len(vector), r.dimensions)
	}
	numCandidates := limit * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": numCandidates,
		},
		"size":    limit,
		"_source": []string{"id", "content"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.indexName),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch search failed: %v", errs.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s: %s", res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esDocument `json:"_source"`
				Score  float64    `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.SearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.SearchResult{
			ID:      hit.Source.ID,
			Content: hit.Source.Content,
			// cosine 的 _score = (1 + cos) / 2
			Similarity: 2*hit.Score - 1,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (r *esDocumentRepository) Count(ctx context.Context) (int64, error) {
	res, err := r.client.Count(r.client.Count.WithContext(ctx), r.client.Count.WithIndex(r.indexName))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned %s", res.Status())
	}
	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return countResp.Count, nil
}

func writeNDJSON(buf *bytes.Buffer, lines ...interface{}) error {
	for _, line := range lines {
		b, err := json.Marshal(line)
		if err != nil {
			return err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return nil
}

func idRange(first int64, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.FormatInt(first+int64(i), 10)
	}
	return ids
}
