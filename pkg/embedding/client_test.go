package embedding

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/errs"
)

// fakeEmbeddingServer 模拟 OpenAI 兼容的 /embeddings 接口，按文本哈希生成确定性向量。
type fakeEmbeddingServer struct {
	*httptest.Server
	dims     int
	fail     atomic.Bool
	warmups   atomic.Int32
	requests atomic.Int32
}

func newFakeEmbeddingServer(t *testing.T, dims int) *fakeEmbeddingServer {
	t.Helper()
	f := &fakeEmbeddingServer{dims: dims}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		f.requests.Add(1)
		if f.fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"model not loaded","type":"server_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]interface{}, 0, len(req.Input))
		for i, text := range req.Input {
			if text == warmupText {
				f.warmups.Add(1)
			}
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": hashVector(text, f.dims),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(f.Close)
	return f
}

func hashVector(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vector := make([]float32, dims)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(seed>>40) / float32(1<<24)
	}
	return vector
}

func newTestModel(url string, dims int) *Model {
	return NewModel(config.EmbeddingConfig{
		BaseURL:    url,
		Model:      "all-MiniLM-L6-v2",
		Dimensions: dims,
	})
}

func TestModel_CreateEmbedding_FixedDimensionAndDeterministic(t *testing.T) {
	srv := newFakeEmbeddingServer(t, 384)
	m := newTestModel(srv.URL, 384)
	ctx := context.Background()

	first, err := m.CreateEmbedding(ctx, "The cat sat on the mat.")
	require.NoError(t, err)
	second, err := m.CreateEmbedding(ctx, "The cat sat on the mat.")
	require.NoError(t, err)

	assert.Len(t, first, 384)
	assert.Equal(t, first, second)
	assert.Equal(t, 384, m.Dimensions())
	assert.Equal(t, "all-MiniLM-L6-v2", m.ModelName())
}

func TestModel_ConcurrentFirstUseLoadsOnce(t *testing.T) {
	srv := newFakeEmbeddingServer(t, 8)
	m := newTestModel(srv.URL, 8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CreateEmbedding(context.Background(), "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), srv.warmups.Load())
}

func TestModel_LoadFailureIsModelLoadErrorAndRetryable(t *testing.T) {
	srv := newFakeEmbeddingServer(t, 8)
	srv.fail.Store(true)
	m := newTestModel(srv.URL, 8)

	_, err := m.CreateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrModelLoad)

	srv.fail.Store(false)
	vector, err := m.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vector, 8)
}

func TestModel_LoadRejectsDimensionMismatch(t *testing.T) {
	srv := newFakeEmbeddingServer(t, 16)
	m := newTestModel(srv.URL, 384)

	err := m.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrModelLoad)
	assert.Contains(t, err.Error(), "returned 16 dimensions, expected 384")
}

func TestModel_EmptyTextIsNotSpecialCased(t *testing.T) {
	srv := newFakeEmbeddingServer(t, 8)
	m := newTestModel(srv.URL, 8)

	vector, err := m.CreateEmbedding(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vector, 8)
}
