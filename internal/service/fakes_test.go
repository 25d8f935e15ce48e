package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"semantic-search-go/internal/model"
)

const testDims = 64

// bagOfWords 为每个新出现的词分配一个维度，相同输入得到相同向量。
type bagOfWords struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
	fail  func(text string) error
}

func newBagOfWords() *bagOfWords {
	return &bagOfWords{vocab: map[string]int{}}
}

func (b *bagOfWords) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.fail != nil {
		if err := b.fail(text); err != nil {
			return nil, err
		}
	}
	vec := make([]float32, testDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		idx, ok := b.vocab[w]
		if !ok {
			idx = len(b.vocab) % testDims
			b.vocab[w] = idx
		}
		vec[idx]++
	}
	return vec, nil
}

func (b *bagOfWords) Dimensions() int   { return testDims }
func (b *bagOfWords) ModelName() string { return "bag-of-words" }

// memRepository 是 DocumentRepository 的内存实现，按余弦相似度做全量扫描。
type memRepository struct {
	mu        sync.Mutex
	docs      []model.Document
	nextID    int64
	insertErr error
	searchErr error
}

func (r *memRepository) Init(ctx context.Context) error { return nil }

func (r *memRepository) Insert(ctx context.Context, doc *model.Document) error {
	return r.InsertBatch(ctx, []*model.Document{doc})
}

func (r *memRepository) InsertBatch(ctx context.Context, docs []*model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, doc := range docs {
		r.nextID++
		doc.ID = r.nextID
		r.docs = append(r.docs, *doc)
	}
	return nil
}

func (r *memRepository) Search(ctx context.Context, vector []float32, limit int) ([]model.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	results := make([]model.SearchResult, 0, len(r.docs))
	for _, doc := range r.docs {
		results = append(results, model.SearchResult{
			ID:         doc.ID,
			Content:    doc.Content,
			Similarity: cosine(vector, doc.Embedding.Slice()),
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

func (r *memRepository) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.docs)), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var errConnRefused = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
