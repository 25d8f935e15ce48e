package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return hashVector(text, 4), nil
}

func (c *countingClient) Dimensions() int   { return 4 }
func (c *countingClient) ModelName() string { return "test-model" }

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedClient_HitAfterMiss(t *testing.T) {
	mr, rdb := newTestRedis(t)
	inner := &countingClient{}
	c := NewCachedClient(inner, rdb, time.Hour)
	ctx := context.Background()

	first, err := c.CreateEmbedding(ctx, "stock markets")
	require.NoError(t, err)
	second, err := c.CreateEmbedding(ctx, "stock markets")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Len(t, mr.Keys(), 1)
	assert.Equal(t, time.Hour, mr.TTL(mr.Keys()[0]))
	assert.Equal(t, 4, c.Dimensions())
	assert.Equal(t, "test-model", c.ModelName())
}

func TestCachedClient_CollapsesConcurrentMisses(t *testing.T) {
	_, rdb := newTestRedis(t)
	inner := &countingClient{delay: 50 * time.Millisecond}
	c := NewCachedClient(inner, rdb, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateEmbedding(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.calls.Load())
}

// gatedClient 阻塞直到 release 关闭或 ctx 结束。
type gatedClient struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	select {
	case <-g.release:
		return hashVector(text, 4), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedClient) Dimensions() int   { return 4 }
func (g *gatedClient) ModelName() string { return "test-model" }

func TestCachedClient_CancelledCallerDoesNotFailSharedWaiters(t *testing.T) {
	mr, rdb := newTestRedis(t)
	inner := &gatedClient{started: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedClient(inner, rdb, time.Hour)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.CreateEmbedding(ctxA, "shared text")
		errA <- err
	}()
	<-inner.started

	type result struct {
		vector []float32
		err    error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.CreateEmbedding(context.Background(), "shared text")
		resB <- result{v, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(inner.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, hashVector("shared text", 4), b.vector)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Len(t, mr.Keys(), 1)
}

func TestCachedClient_RedisDownFallsBackToModel(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mr.Close()
	inner := &countingClient{}
	c := NewCachedClient(inner, rdb, time.Hour)

	vector, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedClient_CorruptEntryIsRecomputed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	inner := &countingClient{}
	c := NewCachedClient(inner, rdb, time.Hour)
	require.NoError(t, mr.Set(c.cacheKey("hello"), "abc"))

	vector, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, hashVector("hello", 4), vector)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedClient_ModelErrorNotCached(t *testing.T) {
	mr, rdb := newTestRedis(t)
	inner := &countingClient{err: errors.New("boom")}
	c := NewCachedClient(inner, rdb, time.Hour)

	_, err := c.CreateEmbedding(context.Background(), "hello")
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestVectorCodecRoundTrip(t *testing.T) {
	vector := []float32{0, -1.5, 3.25, 1e-7}
	decoded, err := decodeVector(encodeVector(vector))
	require.NoError(t, err)
	assert.Equal(t, vector, decoded)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
