package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/metrics"
)

// PipelineOptions 摄取管道配置
type PipelineOptions struct {
	Workers         int  // 文档级并发度
	Strict          bool // 严格模式:遇到致命错误中止整批
	InvalidateStale bool // 内容哈希变化时级联清除旧条目
	DedupEnabled    bool
	Dedup           DedupOptions
}

// BatchSummary 一次批摄取的汇总。
// 文档级错误被隔离计数,不影响其余文档。
type BatchSummary struct {
	Total               int               `json:"total"`
	Indexed             int               `json:"indexed"`
	Skipped             int               `json:"skipped"` // 内容哈希未变,幂等跳过
	Failed              int               `json:"failed"`
	ChunksIndexed       int               `json:"chunks_indexed"`
	DuplicatesCollapsed int               `json:"duplicates_collapsed"`
	MissingPages        int               `json:"missing_pages"`
	Errors              map[ErrorKind]int `json:"errors,omitempty"`

	mu sync.Mutex
}

func (s *BatchSummary) recordError(kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	if s.Errors == nil {
		s.Errors = make(map[ErrorKind]int)
	}
	s.Errors[kind]++
}

// Pipeline 摄取管道:规范化 → 分块 → 去重 → 向量化 → 入索引。
// 以文档为并发单位,单文档内严格顺序。
type Pipeline struct {
	normalizer *Normalizer
	chunker    *Chunker
	embedder   EmbeddingProvider
	store      VectorStore
	registry   DocumentRegistry
	opts       PipelineOptions
}

// NewPipeline 创建摄取管道
func NewPipeline(
	normalizer *Normalizer,
	chunker *Chunker,
	embedder EmbeddingProvider,
	store VectorStore,
	registry DocumentRegistry,
	opts PipelineOptions,
) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Pipeline{
		normalizer: normalizer,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		registry:   registry,
		opts:       opts,
	}
}

// aliasOp 去重裁决产生的延迟别名回写。
// 被吸收分块的归属条目可能由并发中的其他文档负责写入,
// 所以别名统一在全部 Upsert 完成后再落索引。
type aliasOp struct {
	contentHash string
	aliases     []string
}

// IngestBatch 批量摄取。返回的摘要始终有效,error 只在严格模式
// 遇到致命错误时非空。
func (p *Pipeline) IngestBatch(ctx context.Context, docs []*SourceDocument) (*BatchSummary, error) {
	ctx, span := otel.Tracer("rag.pipeline").Start(ctx, "IngestBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	summary := &BatchSummary{Total: len(docs)}

	var dedup *Deduplicator
	if p.opts.DedupEnabled {
		dedup = NewDeduplicator(p.opts.Dedup)
	}

	var pendingMu sync.Mutex
	var pendingAliases []aliasOp
	var pendingDeletes []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			aliases, deletes, err := p.processDocument(gctx, doc, dedup, summary)

			pendingMu.Lock()
			pendingAliases = append(pendingAliases, aliases...)
			pendingDeletes = append(pendingDeletes, deletes...)
			pendingMu.Unlock()

			if err != nil {
				kind := ClassifyError(err)
				summary.recordError(kind)
				metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
				logger.WithContext(gctx).Error("文档摄取失败",
					zap.String("document_id", doc.ID),
					zap.String("kind", string(kind)),
					zap.Error(err),
				)
				if p.opts.Strict && IsFatal(err) {
					return fmt.Errorf("严格模式中止: 文档 %s: %w", doc.ID, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}

	// 全部条目就位后统一回放去重产生的别名与取代删除
	for _, hash := range pendingDeletes {
		if err := p.store.DeleteByContentHash(ctx, hash); err != nil {
			logger.WithContext(ctx).Warn("删除被取代条目失败",
				zap.String("content_hash", hash), zap.Error(err))
		}
	}
	for _, op := range pendingAliases {
		if err := p.store.AddAliases(ctx, op.contentHash, op.aliases); err != nil {
			logger.WithContext(ctx).Warn("回写来源别名失败",
				zap.String("content_hash", op.contentHash), zap.Error(err))
		}
	}
	return summary, nil
}

// processDocument 单文档全流程,返回需要延迟回放的别名与删除操作
func (p *Pipeline) processDocument(
	ctx context.Context,
	doc *SourceDocument,
	dedup *Deduplicator,
	summary *BatchSummary,
) ([]aliasOp, []string, error) {
	ctx, span := otel.Tracer("rag.pipeline").Start(ctx, "processDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.String("provenance", string(doc.Provenance)),
	)

	hash := doc.ContentHash()

	existing, err := p.registry.Get(ctx, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		if existing.ContentHash == hash {
			// 内容未变,幂等跳过
			summary.mu.Lock()
			summary.Skipped++
			summary.mu.Unlock()
			metrics.IngestDocumentsTotal.WithLabelValues("skipped").Inc()
			return nil, nil, nil
		}
		if p.opts.InvalidateStale {
			// 内容变化,级联清除派生条目
			if err := p.store.DeleteByDocument(ctx, doc.ID); err != nil {
				return nil, nil, err
			}
			if err := p.registry.Delete(ctx, doc.ID); err != nil {
				return nil, nil, err
			}
		}
	}

	normalized, err := p.normalizer.Normalize(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	missingPages := normalized.MissingPages()
	if len(missingPages) > 0 {
		summary.mu.Lock()
		summary.MissingPages += len(missingPages)
		summary.mu.Unlock()
	}

	chunks, err := p.chunker.ChunkDocument(normalized)
	if err != nil {
		return nil, nil, err
	}
	// 全页 OCR 失败的扫描件不算摄取失败:零分块照常登记,
	// 缺失页随摘要上报,OCR 恢复后重跑即可补齐
	if len(chunks) == 0 && len(missingPages) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrEmptyExtraction, doc.ID)
	}

	// 去重裁决:被吸收的分块不入索引,取代与别名延迟回放
	var kept []*Chunk
	var aliases []aliasOp
	var deletes []string
	if dedup != nil {
		for _, chunk := range chunks {
			res := dedup.Add(chunk)
			if res.Keep {
				if len(res.Aliases) > 0 {
					chunk.Aliases = append(chunk.Aliases, res.Aliases...)
				}
				if res.Supersedes != "" {
					deletes = append(deletes, res.Supersedes)
				}
				kept = append(kept, chunk)
				continue
			}
			summary.mu.Lock()
			summary.DuplicatesCollapsed++
			summary.mu.Unlock()
			metrics.DedupCollapsedTotal.Inc()
			if res.KeptBy != "" && len(res.Aliases) > 0 {
				aliases = append(aliases, aliasOp{contentHash: res.KeptBy, aliases: res.Aliases})
			}
		}
	} else {
		kept = chunks
	}

	if len(kept) > 0 {
		texts := make([]string, len(kept))
		for i, c := range kept {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return aliases, deletes, err
		}

		now := time.Now()
		entries := make([]*IndexEntry, len(kept))
		for i, c := range kept {
			entries[i] = &IndexEntry{
				ContentHash: c.ContentHash,
				DocumentID:  c.DocumentID,
				Provenance:  c.Provenance,
				ChunkIndex:  c.Index,
				Text:        c.Text,
				StartOffset: c.StartOffset,
				EndOffset:   c.EndOffset,
				Page:        c.Page,
				Vector:      vectors[i],
				ModelID:     p.embedder.GetModel(),
				FromOCR:     c.FromOCR,
				Aliases:     c.Aliases,
				IngestedAt:  now,
			}
		}
		if err := p.store.Upsert(ctx, entries); err != nil {
			return aliases, deletes, err
		}
	}

	missingJSON, _ := json.Marshal(missingPages)
	if err := p.registry.Put(ctx, &DocumentRecord{
		DocumentID:   doc.ID,
		ContentHash:  hash,
		Provenance:   doc.Provenance,
		ChunkCount:   len(kept),
		MissingPages: string(missingJSON),
		IndexedAt:    time.Now(),
	}); err != nil {
		return aliases, deletes, err
	}

	summary.mu.Lock()
	summary.Indexed++
	summary.ChunksIndexed += len(kept)
	summary.mu.Unlock()
	metrics.IngestDocumentsTotal.WithLabelValues("indexed").Inc()
	metrics.IngestChunksTotal.Add(float64(len(kept)))

	logger.WithContext(ctx).Info("文档摄取完成",
		zap.String("document_id", doc.ID),
		zap.String("provenance", string(doc.Provenance)),
		zap.Int("chunks", len(kept)),
		zap.Int("missing_pages", len(missingPages)),
	)
	return aliases, deletes, nil
}

// Rebuild 清空已登记文档的派生数据后整批重建
func (p *Pipeline) Rebuild(ctx context.Context, docs []*SourceDocument) (*BatchSummary, error) {
	records, err := p.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := p.store.DeleteByDocument(ctx, record.DocumentID); err != nil {
			return nil, err
		}
		if err := p.registry.Delete(ctx, record.DocumentID); err != nil {
			return nil, err
		}
	}
	logger.WithContext(ctx).Info("索引已清空,开始重建", zap.Int("documents", len(docs)))
	return p.IngestBatch(ctx, docs)
}
