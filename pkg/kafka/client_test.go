package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-search-go/pkg/tasks"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return kafka.Message{}, errors.New("no more messages")
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type fakeProcessor struct {
	calls map[string]int
	fail  map[string]bool
}

func (p *fakeProcessor) Process(ctx context.Context, task tasks.ImportTask) error {
	p.calls[task.TaskID]++
	if p.fail[task.TaskID] {
		return errors.New("tika unavailable")
	}
	return nil
}

func newTestConsumer(t *testing.T, reader *fakeReader, proc *fakeProcessor) (*Consumer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Consumer{reader: reader, processor: proc, rdb: rdb}, mr
}

func taskMessage(t *testing.T, offset int64, task tasks.ImportTask) kafka.Message {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumer_CommitsSuccessfulAndMalformedMessages(t *testing.T) {
	reader := &fakeReader{}
	proc := &fakeProcessor{calls: map[string]int{}, fail: map[string]bool{}}
	c, mr := newTestConsumer(t, reader, proc)
	mr.Set("kafka:attempts:t1", "1")

	reader.messages = []kafka.Message{
		{Offset: 1, Value: []byte("not json")},
		taskMessage(t, 2, tasks.ImportTask{TaskID: "t1", ObjectNames: []string{"uploads/t1/a.txt"}}),
	}

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []int64{1, 2}, reader.committed)
	assert.Equal(t, 1, proc.calls["t1"])
	assert.False(t, mr.Exists("kafka:attempts:t1"))
	assert.True(t, reader.closed)
}

func TestConsumer_GivesUpAfterMaxAttempts(t *testing.T) {
	reader := &fakeReader{}
	proc := &fakeProcessor{calls: map[string]int{}, fail: map[string]bool{"bad": true}}
	c, mr := newTestConsumer(t, reader, proc)

	reader.messages = []kafka.Message{taskMessage(t, 7, tasks.ImportTask{TaskID: "bad"})}

	_ = c.Run(context.Background())
	assert.Equal(t, maxAttempts, proc.calls["bad"])
	assert.Equal(t, []int64{7}, reader.committed)

	attempts, err := mr.Get("kafka:attempts:bad")
	require.NoError(t, err)
	assert.Equal(t, "3", attempts)
	assert.Greater(t, mr.TTL("kafka:attempts:bad").Hours(), 23.0)
}

func TestConsumer_LeavesOffsetWhenRedisUnavailable(t *testing.T) {
	proc := &fakeProcessor{calls: map[string]int{}, fail: map[string]bool{"x": true}}
	c, mr := newTestConsumer(t, &fakeReader{}, proc)
	mr.Close()

	commit := c.handle(context.Background(), taskMessage(t, 1, tasks.ImportTask{TaskID: "x"}))
	assert.False(t, commit)
	assert.Equal(t, 1, proc.calls["x"])
}

func TestConsumer_RetriesLocallyBeforeCommitting(t *testing.T) {
	proc := &fakeProcessor{calls: map[string]int{}, fail: map[string]bool{"flaky": true}}
	c, _ := newTestConsumer(t, &fakeReader{}, proc)
	m := taskMessage(t, 3, tasks.ImportTask{TaskID: "flaky"})

	assert.False(t, c.handle(context.Background(), m))
	proc.fail["flaky"] = false
	assert.True(t, c.handle(context.Background(), m))
	assert.Equal(t, 2, proc.calls["flaky"])
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, splitBrokers(" k1:9092, ,k2:9092"))
	assert.Nil(t, splitBrokers(""))
}
