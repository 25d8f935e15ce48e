// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/errs"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/retry"
)

// InitES 初始化 Elasticsearch 客户端，并在有限次数内等待集群就绪。
func InitES(ctx context.Context, esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		Attempts: esCfg.ConnectRetries,
		Interval: esCfg.RetryInterval,
		OnRetry: func(attempt int, err error) {
			log.Warnf("[ES] Elasticsearch 尚未就绪 (第 %d/%d 次), %s 后重试: %v", attempt, esCfg.ConnectRetries, esCfg.RetryInterval, err)
		},
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		res, err := client.Ping(client.Ping.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() {
			return fmt.Errorf("ping returned %s", res.Status())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch %s: %v", errs.ErrStoreUnavailable, esCfg.Addresses, err)
	}

	log.Infof("[ES] Elasticsearch 连接成功, addresses: %s", esCfg.Addresses)
	return client, nil
}

// CreateIndexIfNotExists 检查索引是否存在，如果不存在则按给定维度创建它。
func CreateIndexIfNotExists(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 余弦相似度的 dense_vector，维度与 embedding 模型一致
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "long" },
				"content": { "type": "text" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"created_at": { "type": "date" }
			}
		}
	}`, dims)

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// 并发启动时另一个实例可能已创建
		if strings.Contains(res.String(), "resource_already_exists_exception") {
			return nil
		}
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}
