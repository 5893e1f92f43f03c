package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Provenance 文档来源类别,用于去重时的可信度排序
type Provenance string

const (
	ProvenanceWeb        Provenance = "web"
	ProvenancePDFNative  Provenance = "pdf-native"
	ProvenancePDFScanned Provenance = "pdf-scanned"
)

// Valid 判断来源类别是否可识别
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceWeb, ProvenancePDFNative, ProvenancePDFScanned:
		return true
	}
	return false
}

// SourceDocument 原始文档。入库后不可变,重新摄取按内容哈希生成新版本。
type SourceDocument struct {
	ID         string // URI 或文件路径
	Provenance Provenance
	Raw        []byte
	FetchedAt  time.Time
}

// ContentHash 原始内容的确定性指纹,幂等重建的依据
func (d *SourceDocument) ContentHash() string {
	return HashBytes(d.Raw)
}

// PageText 规范化文本中的单页
type PageText struct {
	Number     int     // 页号,从 1 开始
	Text       string
	FromOCR    bool    // 文本来自 OCR 而非原生文本层
	Confidence float64 // OCR 置信度,原生文本为 1
	Missing    bool    // OCR 不可用导致该页缺失
}

// NormalizedText 清洗后的 UTF-8 文本,保留页边界标记。
// 源文档内容哈希变化时重新派生。
type NormalizedText struct {
	DocumentID  string
	Provenance  Provenance
	ContentHash string // 源文档内容哈希
	Pages       []PageText
}

// MissingPages 返回缺失页号列表
func (n *NormalizedText) MissingPages() []int {
	var missing []int
	for _, p := range n.Pages {
		if p.Missing {
			missing = append(missing, p.Number)
		}
	}
	return missing
}

// Empty 是否没有任何可用文本
func (n *NormalizedText) Empty() bool {
	for _, p := range n.Pages {
		if !p.Missing && p.Text != "" {
			return false
		}
	}
	return true
}

// Chunk 规范化文本的有序片段,嵌入与检索的基本单位。
// 同一文档的块按起始偏移排序互不重叠,只允许有界的重叠窗口。
type Chunk struct {
	DocumentID  string
	Provenance  Provenance
	Index       int
	Text        string
	StartOffset int // 页内 rune 偏移
	EndOffset   int
	Page        int
	TokenCount  int
	ContentHash string
	FromOCR     bool
	Aliases     []string // 去重合并进来的其他来源文档 ID
}

// IndexEntry 向量 + 反规范化元数据,查询时无需二次查找
type IndexEntry struct {
	ContentHash string     `json:"content_hash"`
	DocumentID  string     `json:"document_id"`
	Provenance  Provenance `json:"provenance"`
	ChunkIndex  int        `json:"chunk_index"`
	Text        string     `json:"text"`
	StartOffset int        `json:"start_offset"`
	EndOffset   int        `json:"end_offset"`
	Page        int        `json:"page"`
	Vector      []float32  `json:"-"`
	ModelID     string     `json:"model_id"`
	FromOCR     bool       `json:"from_ocr"`
	Aliases     []string   `json:"aliases,omitempty"`
	IngestedAt  time.Time  `json:"ingested_at"`
}

// ScoredEntry 单条检索结果
type ScoredEntry struct {
	Entry      *IndexEntry `json:"entry"`
	Similarity float64     `json:"similarity"`
}

// QueryResult 按相似度降序的检索结果,长度 ≤ 请求的 k
type QueryResult []ScoredEntry

// Sources 返回去重后的来源文档 ID(含别名),保持出现顺序
func (r QueryResult) Sources() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, s := range r {
		add(s.Entry.DocumentID)
		for _, a := range s.Entry.Aliases {
			add(a)
		}
	}
	return out
}

// DocumentRecord 已索引文档登记,幂等摄取与级联失效的依据
type DocumentRecord struct {
	DocumentID   string     `gorm:"column:document_id;primaryKey;size:500"`
	ContentHash  string     `gorm:"column:content_hash;size:64;index"`
	Provenance   Provenance `gorm:"column:provenance;size:20"`
	ChunkCount   int        `gorm:"column:chunk_count"`
	MissingPages string     `gorm:"column:missing_pages;type:text"` // JSON 数组
	IndexedAt    time.Time  `gorm:"column:indexed_at"`
}

// TableName 指定表名
func (DocumentRecord) TableName() string { return "documents" }

// HashBytes 计算 SHA-256 内容哈希
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText 计算文本内容哈希
func HashText(text string) string {
	return HashBytes([]byte(text))
}
