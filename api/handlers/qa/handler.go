package qa

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/api/handlers/common"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
)

// Service 问答处理器依赖的服务契约
type Service interface {
	Ask(ctx context.Context, question string, k int, temperature float32) (*rag.Answer, error)
	Search(ctx context.Context, question string, k int) (rag.QueryResult, error)
	Stats(ctx context.Context) (*rag.ServiceStats, error)
}

// Handler 问答 API 处理器
type Handler struct {
	service Service
}

// NewHandler 创建问答处理器
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Chat 完整问答
// POST /api/chat
func (h *Handler) Chat(c *gin.Context) {
	var req common.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	temperature := float32(-1) // 用服务端默认温度
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	answer, err := h.service.Ask(c.Request.Context(), req.Question, req.TopK, temperature)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	common.RespondOK(c, http.StatusOK, common.ChatResponse{
		Answer:  answer.Text,
		Sources: answer.Sources,
	})
}

// Search 只检索不合成
// POST /api/search
func (h *Handler) Search(c *gin.Context) {
	var req common.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	results, err := h.service.Search(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	hits := make([]common.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, common.SearchHit{
			DocumentID: r.Entry.DocumentID,
			Page:       r.Entry.Page,
			Text:       r.Entry.Text,
			Similarity: r.Similarity,
			Provenance: string(r.Entry.Provenance),
			Aliases:    r.Entry.Aliases,
		})
	}
	common.RespondOK(c, http.StatusOK, hits)
}

// Stats 索引统计
// GET /api/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	common.RespondOK(c, http.StatusOK, stats)
}

// Health 健康检查
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	common.RespondOK(c, http.StatusOK, gin.H{"status": "ok"})
}

// respondServiceError 把领域错误翻译成 HTTP 状态。
// "没有相关内容" 与 "服务暂时不可用" 必须让调用方可区分。
func respondServiceError(c *gin.Context, err error) {
	kind := rag.ClassifyError(err)
	switch {
	case errors.Is(err, rag.ErrNoContextAvailable):
		common.RespondError(c, http.StatusNotFound, string(kind), "知识库中没有与问题相关的内容")
	case errors.Is(err, rag.ErrModelMismatch):
		common.RespondError(c, http.StatusConflict, string(kind), err.Error())
	case rag.IsRetryable(err):
		common.RespondError(c, http.StatusServiceUnavailable, string(kind), "依赖服务暂时不可用,请稍后重试")
	default:
		common.RespondError(c, http.StatusInternalServerError, string(kind), err.Error())
	}
}
