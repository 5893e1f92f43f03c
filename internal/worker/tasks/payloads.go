package tasks

// 任务类型标识
const (
	TypeIngestURL  = "ingest:url"
	TypeIngestFile = "ingest:file"
)

// IngestURLPayload 抓取并摄取单个网页
type IngestURLPayload struct {
	URL string `json:"url"`
}

// IngestFilePayload 摄取本地文件
type IngestFilePayload struct {
	Path       string `json:"path"`
	Provenance string `json:"provenance"`
}
