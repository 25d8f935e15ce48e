// Package metrics 定义了服务导出的 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "semsearch"

// latencyBuckets 覆盖从毫秒级缓存命中到秒级模型调用的耗时范围。
var latencyBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var (
	// HTTPRequests 按方法、路由与状态码统计 HTTP 请求数。
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPLatency 记录每个路由的请求耗时。
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   latencyBuckets,
	}, []string{"method", "route"})

	// EmbeddingLatency 记录单次模型向量化调用的耗时。
	EmbeddingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embedding_duration_seconds",
		Help:      "Latency of calls to the embedding model.",
		Buckets:   latencyBuckets,
	})

	// EmbeddingCache 按查询结果（hit/miss/error）统计向量缓存查询。
	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_cache_total",
		Help:      "Embedding cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	// DocumentsInserted 统计成功写入向量库的文档数。
	DocumentsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_inserted_total",
		Help:      "Documents committed to the vector store.",
	})

	// BatchFailures 统计整批回滚的写入次数。
	BatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "document_batch_failures_total",
		Help:      "Document batches rolled back.",
	})

	// SearchLatency 记录一次相似度查询的端到端耗时。
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "End-to-end latency of similarity queries (embedding + store scan).",
		Buckets:   latencyBuckets,
	})

	// ImportTasks 按结果统计异步导入任务。
	ImportTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "import_tasks_total",
		Help:      "Asynchronous import tasks by outcome.",
	}, []string{"outcome"})
)

// Handler 返回 /metrics 的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
