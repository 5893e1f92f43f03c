package rag

import (
	"context"
	"fmt"
	"math"
	"time"
)

// QueryFilter 检索过滤条件,全部为可选
type QueryFilter struct {
	Provenances []Provenance // 限定来源类别
	ExcludeOCR  bool         // 排除 OCR 低置信文本
	Since       time.Time    // 只要此时间之后摄取的条目
}

// IndexStats 索引统计
type IndexStats struct {
	Entries   int            `json:"entries"`
	Documents int            `json:"documents"`
	ModelID   string         `json:"model_id"`
	ByOrigin  map[string]int `json:"by_origin"`
}

// VectorStore 持久化向量索引。
// 同一索引只承载一个嵌入模型的向量;ContentHash 是条目主键,
// Upsert 同哈希即替换,这是摄取幂等性的底座。
type VectorStore interface {
	// Upsert 批量写入,按内容哈希替换同键旧条目
	Upsert(ctx context.Context, entries []*IndexEntry) error
	// AddAliases 为已有条目追加来源别名
	AddAliases(ctx context.Context, contentHash string, aliases []string) error
	// DeleteByContentHash 删除单条
	DeleteByContentHash(ctx context.Context, contentHash string) error
	// DeleteByDocument 删除文档的全部条目(内容哈希变化时的级联失效)
	DeleteByDocument(ctx context.Context, documentID string) error
	// Query 相似度降序返回至多 k 条;filter 可为 nil
	Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) (QueryResult, error)
	// Stats 索引统计
	Stats(ctx context.Context) (*IndexStats, error)
	// ModelID 索引绑定的嵌入模型,空表示尚无条目
	ModelID(ctx context.Context) (string, error)
	// Close 释放底层资源
	Close() error
}

// DocumentRegistry 已索引文档登记表,提供摄取幂等判断
type DocumentRegistry interface {
	// Get 查询文档登记,不存在时返回 (nil, nil)
	Get(ctx context.Context, documentID string) (*DocumentRecord, error)
	// Put 写入或覆盖登记
	Put(ctx context.Context, record *DocumentRecord) error
	// Delete 删除登记
	Delete(ctx context.Context, documentID string) error
	// List 全部登记
	List(ctx context.Context) ([]*DocumentRecord, error)
}

// checkModelConsistency 校验一批待写入条目与索引已绑定的模型一致,
// 批内混用不同模型同样拒绝。indexModel 为空表示索引尚无条目。
func checkModelConsistency(indexModel string, entries []*IndexEntry) error {
	for _, e := range entries {
		if indexModel == "" {
			indexModel = e.ModelID
			continue
		}
		if e.ModelID != indexModel {
			return fmt.Errorf("%w: 索引绑定模型 %s,条目使用 %s", ErrModelMismatch, indexModel, e.ModelID)
		}
	}
	return nil
}

// matchesFilter 条目是否满足过滤条件
func matchesFilter(e *IndexEntry, filter *QueryFilter) bool {
	if filter == nil {
		return true
	}
	if len(filter.Provenances) > 0 {
		ok := false
		for _, p := range filter.Provenances {
			if e.Provenance == p {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if filter.ExcludeOCR && e.FromOCR {
		return false
	}
	if !filter.Since.IsZero() && e.IngestedAt.Before(filter.Since) {
		return false
	}
	return true
}

// cosineSimilarity 余弦相似度;零向量相似度为 0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
