// Package embedding provides the text-to-vector generator backed by a pretrained model
// served behind an OpenAI-compatible /embeddings endpoint.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/errs"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	ModelName() string
}

// warmupText 用于加载阶段验证模型可用性与维度。
const warmupText = "embedding model warm-up"

// Model 是进程内唯一的模型句柄，启动时构造一次并注入到各个服务中。
// 首次使用时加载（探测一次远端模型并校验维度），加载过程由互斥锁保护，
// 并发的首次调用只会触发一次加载。
type Model struct {
	cfg     config.EmbeddingConfig
	client  *openai.Client
	limiter *rate.Limiter

	mu     sync.Mutex
	loaded bool
}

// NewModel creates a new, not yet loaded, model handle.
func NewModel(cfg config.EmbeddingConfig) *Model {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	m := &Model{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
	if cfg.QPS > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	return m
}

// Load 加载模型。已加载时直接返回；加载失败返回 errs.ErrModelLoad，
// 且不会记住失败状态，后续调用可以重新尝试。
func (m *Model) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	log.Infof("[EmbeddingModel] 正在加载模型 %s ...", m.cfg.Model)
	vector, err := m.embed(ctx, warmupText)
	if err != nil {
		log.Errorf("[EmbeddingModel] 模型加载失败, model: %s, error: %v", m.cfg.Model, err)
		return fmt.Errorf("%w: %s: %v", errs.ErrModelLoad, m.cfg.Model, err)
	}
	if len(vector) != m.cfg.Dimensions {
		return fmt.Errorf("%w: %s returned %d dimensions, expected %d", errs.ErrModelLoad, m.cfg.Model, len(vector), m.cfg.Dimensions)
	}

	m.loaded = true
	log.Infof("[EmbeddingModel] 模型加载成功, model: %s, 维度: %d", m.cfg.Model, m.cfg.Dimensions)
	return nil
}

// CreateEmbedding 将文本转换为固定维度的向量。空文本不做特殊处理。
func (m *Model) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := m.Load(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	vector, err := m.embed(ctx, text)
	metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Errorf("[EmbeddingModel] 调用 Embedding API 失败, input_len: %d, error: %v", len(text), err)
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vector) != m.cfg.Dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vector), m.cfg.Dimensions)
	}
	return vector, nil
}

func (m *Model) embed(ctx context.Context, text string) ([]float32, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(m.cfg.Model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from api")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the fixed vector length of the model.
func (m *Model) Dimensions() int {
	return m.cfg.Dimensions
}

// ModelName returns the configured model identifier.
func (m *Model) ModelName() string {
	return m.cfg.Model
}
