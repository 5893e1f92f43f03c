package common

// ChatRequest 问答请求
type ChatRequest struct {
	Question    string   `json:"question" binding:"required"`
	TopK        int      `json:"top_k"`
	Temperature *float32 `json:"temperature"`
}

// ChatResponse 问答响应
type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// SearchRequest 只检索不合成的请求
type SearchRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

// SearchHit 单条检索结果
type SearchHit struct {
	DocumentID string   `json:"document_id"`
	Page       int      `json:"page,omitempty"`
	Text       string   `json:"text"`
	Similarity float64  `json:"similarity"`
	Provenance string   `json:"provenance"`
	Aliases    []string `json:"aliases,omitempty"`
}

// IngestURLRequest 网页摄取请求
type IngestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// IngestFileRequest 文件摄取请求
type IngestFileRequest struct {
	Path       string `json:"path" binding:"required"`
	Provenance string `json:"provenance" binding:"required"`
}
