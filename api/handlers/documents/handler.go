package documents

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/api/handlers/common"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/infra/queue"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
)

// Handler 文档摄取 API 处理器,把摄取请求转入后台队列
type Handler struct {
	queue queue.Client // nil 表示后台队列未启用
}

// NewHandler 创建文档处理器
func NewHandler(q queue.Client) *Handler {
	return &Handler{queue: q}
}

// IngestURL 异步摄取网页
// POST /api/documents/ingest-url
func (h *Handler) IngestURL(c *gin.Context) {
	if h.queue == nil {
		common.RespondError(c, http.StatusServiceUnavailable, "queue_disabled", "后台任务队列未启用")
		return
	}
	var req common.IngestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := h.queue.EnqueueIngestURL(req.URL); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}
	common.RespondOK(c, http.StatusAccepted, gin.H{"url": req.URL})
}

// IngestFile 异步摄取本地文件
// POST /api/documents/ingest-file
func (h *Handler) IngestFile(c *gin.Context) {
	if h.queue == nil {
		common.RespondError(c, http.StatusServiceUnavailable, "queue_disabled", "后台任务队列未启用")
		return
	}
	var req common.IngestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !rag.Provenance(req.Provenance).Valid() {
		common.RespondError(c, http.StatusBadRequest, "invalid_provenance", "未知的来源类别: "+req.Provenance)
		return
	}
	if err := h.queue.EnqueueIngestFile(req.Path, req.Provenance); err != nil {
		common.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}
	common.RespondOK(c, http.StatusAccepted, gin.H{"path": req.Path})
}
