package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/metrics"
)

// RetrieverOptions 检索配置
type RetrieverOptions struct {
	TopK           int           // 默认返回条数
	MaxTopK        int           // 调用方可请求的上限
	ScoreThreshold float64       // 低于该相似度的结果被丢弃
	ExcludeOCR     bool          // 默认排除 OCR 低置信文本
	Provenances    []Provenance  // 默认来源过滤
	MaxAge         time.Duration // 只检索该时长内摄取的条目,0 表示不限
}

// Retriever 语义检索:向量化查询文本,在索引中取相似度最高的条目。
// 查询前校验索引绑定的模型与当前嵌入模型一致。
type Retriever struct {
	embedder EmbeddingProvider
	store    VectorStore
	opts     RetrieverOptions
}

// NewRetriever 创建检索器
func NewRetriever(embedder EmbeddingProvider, store VectorStore, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 20
	}
	return &Retriever{embedder: embedder, store: store, opts: opts}
}

// Retrieve 检索与查询最相关的至多 k 条索引条目。
// k ≤ 0 使用默认值,超过上限被截断。
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (QueryResult, error) {
	ctx, span := otel.Tracer("rag.retriever").Start(ctx, "Retrieve")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("查询文本不能为空")
	}
	if k <= 0 {
		k = r.opts.TopK
	}
	if k > r.opts.MaxTopK {
		k = r.opts.MaxTopK
	}
	span.SetAttributes(attribute.Int("top_k", k))

	indexModel, err := r.store.ModelID(ctx)
	if err != nil {
		return nil, err
	}
	if indexModel != "" && indexModel != r.embedder.GetModel() {
		return nil, fmt.Errorf("%w: 索引使用 %s,当前配置 %s",
			ErrModelMismatch, indexModel, r.embedder.GetModel())
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := &QueryFilter{
		Provenances: r.opts.Provenances,
		ExcludeOCR:  r.opts.ExcludeOCR,
	}
	if r.opts.MaxAge > 0 {
		filter.Since = time.Now().Add(-r.opts.MaxAge)
	}

	start := time.Now()
	result, err := r.store.Query(ctx, vector, k, filter)
	if err != nil {
		return nil, err
	}
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	// 相似度阈值过滤
	if r.opts.ScoreThreshold > 0 {
		filtered := result[:0]
		for _, s := range result {
			if s.Similarity >= r.opts.ScoreThreshold {
				filtered = append(filtered, s)
			}
		}
		result = filtered
	}

	metrics.SearchResultsReturned.Observe(float64(len(result)))
	span.SetAttributes(attribute.Int("results", len(result)))
	return result, nil
}
