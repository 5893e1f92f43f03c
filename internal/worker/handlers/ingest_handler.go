package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/scraper"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/worker/tasks"
)

// IngestHandler 后台摄取任务处理器
type IngestHandler struct {
	pipeline *rag.Pipeline
	scraper  *scraper.Scraper
	logger   *zap.Logger
}

// NewIngestHandler 创建摄取处理器
func NewIngestHandler(pipeline *rag.Pipeline, sc *scraper.Scraper, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{pipeline: pipeline, scraper: sc, logger: logger}
}

// HandleIngestURL 抓取网页并摄取
func (h *IngestHandler) HandleIngestURL(ctx context.Context, task *asynq.Task) error {
	var payload tasks.IngestURLPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("解码任务载荷失败: %w", err)
	}

	doc, err := h.scraper.Fetch(ctx, payload.URL)
	if err != nil {
		return err
	}
	return h.ingestOne(ctx, doc)
}

// HandleIngestFile 摄取本地文件
func (h *IngestHandler) HandleIngestFile(ctx context.Context, task *asynq.Task) error {
	var payload tasks.IngestFilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("解码任务载荷失败: %w", err)
	}

	provenance := rag.Provenance(payload.Provenance)
	if !provenance.Valid() {
		return fmt.Errorf("%w: %q", rag.ErrUnsupportedFormat, payload.Provenance)
	}

	raw, err := os.ReadFile(payload.Path)
	if err != nil {
		return fmt.Errorf("读取文件 %s 失败: %w", payload.Path, err)
	}

	return h.ingestOne(ctx, &rag.SourceDocument{
		ID:         payload.Path,
		Provenance: provenance,
		Raw:        raw,
		FetchedAt:  time.Now(),
	})
}

func (h *IngestHandler) ingestOne(ctx context.Context, doc *rag.SourceDocument) error {
	summary, err := h.pipeline.IngestBatch(ctx, []*rag.SourceDocument{doc})
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		// 单文档批次,Failed > 0 说明这份文档没进索引;
		// 交给 asynq 按任务级策略重试
		return fmt.Errorf("文档 %s 摄取失败: %v", doc.ID, summary.Errors)
	}
	h.logger.Info("后台摄取完成",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", summary.ChunksIndexed),
		zap.Int("skipped", summary.Skipped),
	)
	return nil
}
