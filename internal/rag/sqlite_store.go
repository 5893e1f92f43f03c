package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// indexRecord 向量索引条目的持久化形态,向量与别名存 JSON 文本
type indexRecord struct {
	ContentHash string    `gorm:"column:content_hash;primaryKey;size:64"`
	DocumentID  string    `gorm:"column:document_id;size:500;index"`
	Provenance  string    `gorm:"column:provenance;size:20"`
	ChunkIndex  int       `gorm:"column:chunk_index"`
	Text        string    `gorm:"column:text;type:text"`
	StartOffset int       `gorm:"column:start_offset"`
	EndOffset   int       `gorm:"column:end_offset"`
	Page        int       `gorm:"column:page"`
	Vector      string    `gorm:"column:vector;type:text"`
	ModelID     string    `gorm:"column:model_id;size:100"`
	FromOCR     bool      `gorm:"column:from_ocr"`
	Aliases     string    `gorm:"column:aliases;type:text"`
	IngestedAt  time.Time `gorm:"column:ingested_at"`
}

// TableName 指定表名
func (indexRecord) TableName() string { return "index_entries" }

// SQLiteVectorStore SQLite 持久化的向量索引。
// 全量条目常驻内存做暴力相似度扫描,写路径先落库再更新内存镜像;
// 启动加载失败时返回 ErrIndexCorrupted,绝不静默重建。
type SQLiteVectorStore struct {
	db    *gorm.DB
	cache *MemoryVectorStore
}

// NewSQLiteVectorStore 打开(或创建)SQLite 索引并加载全量条目
func NewSQLiteVectorStore(path string) (*SQLiteVectorStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开索引数据库失败: %w", err)
	}
	if err := db.AutoMigrate(&indexRecord{}, &DocumentRecord{}); err != nil {
		return nil, wrapCorrupted("迁移索引表结构", err)
	}

	s := &SQLiteVectorStore{db: db, cache: NewMemoryVectorStore()}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// DB 暴露底层连接,供文档登记表复用同一个库
func (s *SQLiteVectorStore) DB() *gorm.DB { return s.db }

// load 启动时把全部条目装入内存镜像
func (s *SQLiteVectorStore) load() error {
	var records []indexRecord
	if err := s.db.Find(&records).Error; err != nil {
		return wrapCorrupted("读取索引条目", err)
	}

	entries := make([]*IndexEntry, 0, len(records))
	for i := range records {
		entry, err := recordToEntry(&records[i])
		if err != nil {
			return wrapCorrupted(fmt.Sprintf("解码索引条目 %s", records[i].ContentHash), err)
		}
		entries = append(entries, entry)
	}
	return s.cache.Upsert(context.Background(), entries)
}

func recordToEntry(r *indexRecord) (*IndexEntry, error) {
	var vector []float32
	if r.Vector == "" {
		return nil, fmt.Errorf("向量为空")
	}
	if err := json.Unmarshal([]byte(r.Vector), &vector); err != nil {
		return nil, err
	}
	var aliases []string
	if r.Aliases != "" {
		if err := json.Unmarshal([]byte(r.Aliases), &aliases); err != nil {
			return nil, err
		}
	}
	return &IndexEntry{
		ContentHash: r.ContentHash,
		DocumentID:  r.DocumentID,
		Provenance:  Provenance(r.Provenance),
		ChunkIndex:  r.ChunkIndex,
		Text:        r.Text,
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
		Page:        r.Page,
		Vector:      vector,
		ModelID:     r.ModelID,
		FromOCR:     r.FromOCR,
		Aliases:     aliases,
		IngestedAt:  r.IngestedAt,
	}, nil
}

func entryToRecord(e *IndexEntry) (*indexRecord, error) {
	vector, err := json.Marshal(e.Vector)
	if err != nil {
		return nil, err
	}
	aliases := ""
	if len(e.Aliases) > 0 {
		data, err := json.Marshal(e.Aliases)
		if err != nil {
			return nil, err
		}
		aliases = string(data)
	}
	return &indexRecord{
		ContentHash: e.ContentHash,
		DocumentID:  e.DocumentID,
		Provenance:  string(e.Provenance),
		ChunkIndex:  e.ChunkIndex,
		Text:        e.Text,
		StartOffset: e.StartOffset,
		EndOffset:   e.EndOffset,
		Page:        e.Page,
		Vector:      string(vector),
		ModelID:     e.ModelID,
		FromOCR:     e.FromOCR,
		Aliases:     aliases,
		IngestedAt:  e.IngestedAt,
	}, nil
}

// Upsert 批量写入,同内容哈希替换。
// 模型一致性在落库前校验,避免数据库与内存镜像出现分歧。
func (s *SQLiteVectorStore) Upsert(ctx context.Context, entries []*IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	indexModel, err := s.cache.ModelID(ctx)
	if err != nil {
		return err
	}
	if err := checkModelConsistency(indexModel, entries); err != nil {
		return err
	}

	records := make([]*indexRecord, 0, len(entries))
	for _, e := range entries {
		r, err := entryToRecord(e)
		if err != nil {
			return fmt.Errorf("编码索引条目 %s 失败: %w", e.ContentHash, err)
		}
		records = append(records, r)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			if err := tx.Save(r).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入索引失败: %w", err)
	}
	return s.cache.Upsert(ctx, entries)
}

// AddAliases 追加来源别名
func (s *SQLiteVectorStore) AddAliases(ctx context.Context, contentHash string, aliases []string) error {
	if err := s.cache.AddAliases(ctx, contentHash, aliases); err != nil {
		return err
	}

	// 回写内存镜像里合并后的别名集合
	var merged []string
	s.cache.mu.RLock()
	if e, ok := s.cache.entries[contentHash]; ok {
		merged = append(merged, e.Aliases...)
	}
	s.cache.mu.RUnlock()

	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&indexRecord{}).
		Where("content_hash = ?", contentHash).
		Update("aliases", string(data)).Error
}

// DeleteByContentHash 删除单条
func (s *SQLiteVectorStore) DeleteByContentHash(ctx context.Context, contentHash string) error {
	if err := s.db.WithContext(ctx).
		Delete(&indexRecord{}, "content_hash = ?", contentHash).Error; err != nil {
		return fmt.Errorf("删除索引条目失败: %w", err)
	}
	return s.cache.DeleteByContentHash(ctx, contentHash)
}

// DeleteByDocument 删除文档的全部条目
func (s *SQLiteVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).
		Delete(&indexRecord{}, "document_id = ?", documentID).Error; err != nil {
		return fmt.Errorf("删除文档索引失败: %w", err)
	}
	return s.cache.DeleteByDocument(ctx, documentID)
}

// Query 在内存镜像上检索
func (s *SQLiteVectorStore) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) (QueryResult, error) {
	return s.cache.Query(ctx, vector, k, filter)
}

// Stats 索引统计
func (s *SQLiteVectorStore) Stats(ctx context.Context) (*IndexStats, error) {
	return s.cache.Stats(ctx)
}

// ModelID 索引绑定的嵌入模型
func (s *SQLiteVectorStore) ModelID(ctx context.Context) (string, error) {
	return s.cache.ModelID(ctx)
}

// Close 关闭数据库连接
func (s *SQLiteVectorStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
