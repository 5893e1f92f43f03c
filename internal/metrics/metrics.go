package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 摄取与检索链路的 Prometheus 指标
var (
	// HTTPRequestsTotal HTTP 请求总数
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration HTTP 请求耗时
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP 请求耗时分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// IngestDocumentsTotal 摄取文档数,按结果分类
	IngestDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_documents_total",
			Help: "摄取文档总数(indexed/skipped/failed)",
		},
		[]string{"status"},
	)

	// IngestChunksTotal 入索引的分块数
	IngestChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_chunks_total",
			Help: "写入索引的分块总数",
		},
	)

	// DedupCollapsedTotal 去重坍缩的分块数
	DedupCollapsedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dedup_collapsed_total",
			Help: "近重复去重坍缩的分块总数",
		},
	)

	// EmbeddingRetriesTotal 向量化请求重试次数
	EmbeddingRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_retries_total",
			Help: "向量化请求瞬时失败重试总数",
		},
	)

	// SearchDuration 检索耗时
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "向量检索耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// SearchResultsReturned 检索返回的结果数
	SearchResultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_results_returned",
			Help:    "单次检索返回的结果数",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// AnswerDuration 问答合成耗时
	AnswerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "answer_duration_seconds",
			Help:    "答案合成耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)
)
