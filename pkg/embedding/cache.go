package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/singleflight"

	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"
)

// sharedCallTimeout 限制合并后的单次模型调用耗时。
const sharedCallTimeout = time.Minute

// CachedClient 在 Redis 中缓存文本向量。
// 相同文本的并发未命中通过 singleflight 合并为一次模型调用；
// 缓存读写出错时退化为直接调用模型。
type CachedClient struct {
	next  Client
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedClient wraps next with a Redis-backed cache.
func NewCachedClient(next Client, rdb *redis.Client, ttl time.Duration) *CachedClient {
	return &CachedClient{next: next, rdb: rdb, ttl: ttl}
}

func (c *CachedClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embedding:%s:%s", c.next.ModelName(), hex.EncodeToString(sum[:]))
}

// CreateEmbedding 先查缓存，未命中时调用底层模型并回写缓存。
func (c *CachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vector, decErr := decodeVector(raw); decErr == nil && len(vector) == c.next.Dimensions() {
			metrics.EmbeddingCache.WithLabelValues("hit").Inc()
			log.Debugf("[EmbeddingCache] 命中缓存, key: %s", key)
			return vector, nil
		}
		log.Warnf("[EmbeddingCache] 缓存内容无效, 重新计算, key: %s", key)
		metrics.EmbeddingCache.WithLabelValues("error").Inc()
	case err == redis.Nil:
		metrics.EmbeddingCache.WithLabelValues("miss").Inc()
	default:
		log.Warnf("[EmbeddingCache] 读取缓存失败, 直接调用模型, error: %v", err)
		metrics.EmbeddingCache.WithLabelValues("error").Inc()
	}

	// 共享调用与发起者的 ctx 解绑，发起者取消不影响同一 key 上的其他等待者
	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		vector, err := c.next.CreateEmbedding(callCtx, text)
		if err != nil {
			return nil, err
		}
		if setErr := c.rdb.Set(callCtx, key, encodeVector(vector), c.ttl).Err(); setErr != nil {
			log.Warnf("[EmbeddingCache] 写入缓存失败, key: %s, error: %v", key, setErr)
		}
		return vector, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

func (c *CachedClient) Dimensions() int   { return c.next.Dimensions() }
func (c *CachedClient) ModelName() string { return c.next.ModelName() }

// encodeVector 以小端 float32 序列化向量。
func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector length %d", len(buf))
	}
	vector := make([]float32, len(buf)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vector, nil
}
