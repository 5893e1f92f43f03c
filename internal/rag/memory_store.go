package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryVectorStore 进程内向量索引,小语料与测试用。
// 读路径在读锁下对全量条目做余弦相似度暴力扫描。
type MemoryVectorStore struct {
	mu      sync.RWMutex
	entries map[string]*IndexEntry // content hash → entry
	modelID string
}

// NewMemoryVectorStore 创建内存索引
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{entries: make(map[string]*IndexEntry)}
}

// Upsert 批量写入,同内容哈希替换
func (s *MemoryVectorStore) Upsert(ctx context.Context, entries []*IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkModelConsistency(s.modelID, entries); err != nil {
		return err
	}
	for _, e := range entries {
		if e.ContentHash == "" {
			return fmt.Errorf("索引条目缺少内容哈希 (文档 %s)", e.DocumentID)
		}
		if s.modelID == "" {
			s.modelID = e.ModelID
		}
		cp := *e
		s.entries[e.ContentHash] = &cp
	}
	return nil
}

// AddAliases 追加来源别名
func (s *MemoryVectorStore) AddAliases(ctx context.Context, contentHash string, aliases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[contentHash]
	if !ok {
		return fmt.Errorf("索引条目不存在: %s", contentHash)
	}
	for _, alias := range aliases {
		if alias == e.DocumentID || hasString(e.Aliases, alias) {
			continue
		}
		e.Aliases = append(e.Aliases, alias)
	}
	return nil
}

// DeleteByContentHash 删除单条
func (s *MemoryVectorStore) DeleteByContentHash(ctx context.Context, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, contentHash)
	return nil
}

// DeleteByDocument 删除文档的全部条目
func (s *MemoryVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, e := range s.entries {
		if e.DocumentID == documentID {
			delete(s.entries, hash)
		}
	}
	return nil
}

// Query 暴力扫描 + 排序。相似度相同按摄取时间新者优先,再按内容哈希稳定排序。
func (s *MemoryVectorStore) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) (QueryResult, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make(QueryResult, 0, len(s.entries))
	for _, e := range s.entries {
		if !matchesFilter(e, filter) {
			continue
		}
		cp := *e
		scored = append(scored, ScoredEntry{
			Entry:      &cp,
			Similarity: cosineSimilarity(vector, e.Vector),
		})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if !scored[i].Entry.IngestedAt.Equal(scored[j].Entry.IngestedAt) {
			return scored[i].Entry.IngestedAt.After(scored[j].Entry.IngestedAt)
		}
		return scored[i].Entry.ContentHash < scored[j].Entry.ContentHash
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Stats 索引统计
func (s *MemoryVectorStore) Stats(ctx context.Context) (*IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make(map[string]struct{})
	byOrigin := make(map[string]int)
	for _, e := range s.entries {
		docs[e.DocumentID] = struct{}{}
		byOrigin[string(e.Provenance)]++
	}
	return &IndexStats{
		Entries:   len(s.entries),
		Documents: len(docs),
		ModelID:   s.modelID,
		ByOrigin:  byOrigin,
	}, nil
}

// ModelID 索引绑定的嵌入模型
func (s *MemoryVectorStore) ModelID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID, nil
}

// Close 无资源可释放
func (s *MemoryVectorStore) Close() error { return nil }

func hasString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
