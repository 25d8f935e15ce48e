// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"semantic-search-go/internal/config"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/metrics"
	"semantic-search-go/pkg/tasks"
)

const (
	// maxAttempts 次失败后提交 offset，放弃该任务。
	maxAttempts       = 3
	attemptsTTL       = 24 * time.Hour
	defaultRetryDelay = 2 * time.Second
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ImportTask) error
}

// TaskProducer 发送导入任务。
type TaskProducer interface {
	ProduceImportTask(ctx context.Context, task tasks.ImportTask) error
}

// Producer 是基于 kafka-go Writer 的 TaskProducer。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:                   kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// ProduceImportTask 发送一个导入任务到 Kafka，以 task_id 作为消息 key。
func (p *Producer) ProduceImportTask(ctx context.Context, task tasks.ImportTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 Consumer 依赖的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费导入任务：成功或失败达到上限时提交 offset。
// 未提交的消息会在本地重试，仍未完成的留待重启或再均衡后重投。
type Consumer struct {
	reader     messageReader
	processor  TaskProcessor
	rdb        *redis.Client
	retryDelay time.Duration
}

// NewConsumer 创建一个消费者组成员。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, rdb: rdb, retryDelay: defaultRetryDelay}
}

// Run 阻塞消费直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()
	log.Info("Kafka 消费者已启动")

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		for attempt := 1; ; attempt++ {
			if c.handle(ctx, m) {
				if err := c.reader.CommitMessages(ctx, m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
				break
			}
			if attempt >= maxAttempts {
				log.Warnf("消息 offset %d 暂未处理成功，跳过且不提交", m.Offset)
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// handle 处理一条消息并返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.ImportTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.TaskID == "" {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		metrics.ImportTasks.WithLabelValues("malformed").Inc()
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.TaskID)
	log.Infof("开始处理导入任务: TaskID=%s, 对象数: %d", task.TaskID, len(task.ObjectNames))
	err := c.processor.Process(ctx, task)
	if err == nil {
		log.Infof("导入任务处理成功: TaskID=%s", task.TaskID)
		metrics.ImportTasks.WithLabelValues("succeeded").Inc()
		_ = c.rdb.Del(ctx, attemptsKey).Err()
		return true
	}

	log.Errorf("处理导入任务失败: TaskID=%s, Error: %v", task.TaskID, err)
	if errors.Is(err, context.Canceled) {
		return false
	}
	attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
	if incErr != nil {
		// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
		log.Errorf("记录导入任务失败次数出错: %v", incErr)
		return false
	}
	_ = c.rdb.Expire(ctx, attemptsKey, attemptsTTL).Err()
	if attempts >= maxAttempts {
		log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
		metrics.ImportTasks.WithLabelValues("abandoned").Inc()
		return true
	}
	metrics.ImportTasks.WithLabelValues("retried").Inc()
	return false
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
