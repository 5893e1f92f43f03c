package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PGVectorStore 基于 PostgreSQL pgvector 扩展的向量索引。
// 相似度检索下推到数据库,适合超出内存暴力扫描的语料规模。
type PGVectorStore struct {
	db *gorm.DB
}

// NewPGVectorStore 创建 pgvector 索引并准备表结构
func NewPGVectorStore(db *gorm.DB) (*PGVectorStore, error) {
	s := &PGVectorStore{db: db}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS index_entries (
			content_hash  VARCHAR(64) PRIMARY KEY,
			document_id   VARCHAR(500) NOT NULL,
			provenance    VARCHAR(20) NOT NULL,
			chunk_index   INTEGER NOT NULL,
			text          TEXT NOT NULL,
			start_offset  INTEGER NOT NULL,
			end_offset    INTEGER NOT NULL,
			page          INTEGER NOT NULL,
			embedding     vector NOT NULL,
			model_id      VARCHAR(100) NOT NULL,
			from_ocr      BOOLEAN NOT NULL DEFAULT FALSE,
			aliases       JSONB,
			ingested_at   TIMESTAMPTZ NOT NULL
		)`).Error; err != nil {
		return nil, wrapCorrupted("创建索引表", err)
	}
	if err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_index_entries_document ON index_entries (document_id)",
	).Error; err != nil {
		return nil, wrapCorrupted("创建文档索引", err)
	}
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, wrapCorrupted("迁移文档登记表", err)
	}
	return s, nil
}

// DB 暴露底层连接,供文档登记表复用
func (s *PGVectorStore) DB() *gorm.DB { return s.db }

// Upsert 批量写入,内容哈希冲突即整行替换。
// 写入前校验条目与索引绑定的嵌入模型一致。
func (s *PGVectorStore) Upsert(ctx context.Context, entries []*IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	indexModel, err := s.ModelID(ctx)
	if err != nil {
		return err
	}
	if err := checkModelConsistency(indexModel, entries); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			aliases, err := json.Marshal(e.Aliases)
			if err != nil {
				return fmt.Errorf("编码别名失败: %w", err)
			}
			err = tx.Exec(`
				INSERT INTO index_entries
					(content_hash, document_id, provenance, chunk_index, text,
					 start_offset, end_offset, page, embedding, model_id,
					 from_ocr, aliases, ingested_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (content_hash) DO UPDATE SET
					document_id = EXCLUDED.document_id,
					provenance  = EXCLUDED.provenance,
					chunk_index = EXCLUDED.chunk_index,
					text        = EXCLUDED.text,
					start_offset = EXCLUDED.start_offset,
					end_offset  = EXCLUDED.end_offset,
					page        = EXCLUDED.page,
					embedding   = EXCLUDED.embedding,
					model_id    = EXCLUDED.model_id,
					from_ocr    = EXCLUDED.from_ocr,
					aliases     = EXCLUDED.aliases,
					ingested_at = EXCLUDED.ingested_at`,
				e.ContentHash, e.DocumentID, string(e.Provenance), e.ChunkIndex, e.Text,
				e.StartOffset, e.EndOffset, e.Page, pgvector.NewVector(e.Vector), e.ModelID,
				e.FromOCR, string(aliases), e.IngestedAt,
			).Error
			if err != nil {
				return fmt.Errorf("写入索引条目失败: %w", err)
			}
		}
		return nil
	})
}

// AddAliases 追加来源别名
func (s *PGVectorStore) AddAliases(ctx context.Context, contentHash string, aliases []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row struct {
			DocumentID string
			Aliases    []byte
		}
		err := tx.Raw(
			"SELECT document_id, aliases FROM index_entries WHERE content_hash = ? FOR UPDATE",
			contentHash,
		).Scan(&row).Error
		if err != nil {
			return fmt.Errorf("读取索引条目失败: %w", err)
		}
		if row.DocumentID == "" {
			return fmt.Errorf("索引条目不存在: %s", contentHash)
		}

		var current []string
		if len(row.Aliases) > 0 {
			if err := json.Unmarshal(row.Aliases, &current); err != nil {
				return wrapCorrupted("解码别名", err)
			}
		}
		for _, alias := range aliases {
			if alias == row.DocumentID || hasString(current, alias) {
				continue
			}
			current = append(current, alias)
		}

		merged, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return tx.Exec(
			"UPDATE index_entries SET aliases = ? WHERE content_hash = ?",
			string(merged), contentHash,
		).Error
	})
}

// DeleteByContentHash 删除单条
func (s *PGVectorStore) DeleteByContentHash(ctx context.Context, contentHash string) error {
	return s.db.WithContext(ctx).
		Exec("DELETE FROM index_entries WHERE content_hash = ?", contentHash).Error
}

// DeleteByDocument 删除文档的全部条目
func (s *PGVectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Exec("DELETE FROM index_entries WHERE document_id = ?", documentID).Error
}

// Query 余弦相似度检索。<=> 是 pgvector 的余弦距离操作符,
// 相似度 = 1 - 距离;同分按摄取时间新者优先。
func (s *PGVectorStore) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) (QueryResult, error) {
	if k <= 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT content_hash, document_id, provenance, chunk_index, text,
		       start_offset, end_offset, page, model_id, from_ocr, aliases,
		       ingested_at, 1 - (embedding <=> ?) AS similarity
		FROM index_entries
		WHERE TRUE`)
	args := []any{pgvector.NewVector(vector)}

	if filter != nil {
		if len(filter.Provenances) > 0 {
			provs := make([]string, len(filter.Provenances))
			for i, p := range filter.Provenances {
				provs[i] = string(p)
			}
			sb.WriteString(" AND provenance IN ?")
			args = append(args, provs)
		}
		if filter.ExcludeOCR {
			sb.WriteString(" AND from_ocr = FALSE")
		}
		if !filter.Since.IsZero() {
			sb.WriteString(" AND ingested_at >= ?")
			args = append(args, filter.Since)
		}
	}
	sb.WriteString(" ORDER BY embedding <=> ?, ingested_at DESC LIMIT ?")
	args = append(args, pgvector.NewVector(vector), k)

	var rows []struct {
		ContentHash string
		DocumentID  string
		Provenance  string
		ChunkIndex  int
		Text        string
		StartOffset int
		EndOffset   int
		Page        int
		ModelID     string
		FromOCR     bool
		Aliases     []byte
		IngestedAt  time.Time
		Similarity  float64
	}
	if err := s.db.WithContext(ctx).Raw(sb.String(), args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	result := make(QueryResult, 0, len(rows))
	for _, r := range rows {
		var aliases []string
		if len(r.Aliases) > 0 {
			if err := json.Unmarshal(r.Aliases, &aliases); err != nil {
				return nil, wrapCorrupted("解码别名", err)
			}
		}
		result = append(result, ScoredEntry{
			Entry: &IndexEntry{
				ContentHash: r.ContentHash,
				DocumentID:  r.DocumentID,
				Provenance:  Provenance(r.Provenance),
				ChunkIndex:  r.ChunkIndex,
				Text:        r.Text,
				StartOffset: r.StartOffset,
				EndOffset:   r.EndOffset,
				Page:        r.Page,
				ModelID:     r.ModelID,
				FromOCR:     r.FromOCR,
				Aliases:     aliases,
				IngestedAt:  r.IngestedAt,
			},
			Similarity: r.Similarity,
		})
	}
	return result, nil
}

// Stats 索引统计
func (s *PGVectorStore) Stats(ctx context.Context) (*IndexStats, error) {
	stats := &IndexStats{ByOrigin: make(map[string]int)}

	var entries int64
	if err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM index_entries").Scan(&entries).Error; err != nil {
		return nil, fmt.Errorf("统计索引条目失败: %w", err)
	}
	stats.Entries = int(entries)

	var docs int64
	if err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(DISTINCT document_id) FROM index_entries").Scan(&docs).Error; err != nil {
		return nil, fmt.Errorf("统计文档数失败: %w", err)
	}
	stats.Documents = int(docs)

	var rows []struct {
		Provenance string
		Count      int
	}
	if err := s.db.WithContext(ctx).
		Raw("SELECT provenance, COUNT(*) AS count FROM index_entries GROUP BY provenance").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("统计来源分布失败: %w", err)
	}
	for _, r := range rows {
		stats.ByOrigin[r.Provenance] = r.Count
	}

	stats.ModelID, _ = s.ModelID(ctx)
	return stats, nil
}

// ModelID 索引绑定的嵌入模型
func (s *PGVectorStore) ModelID(ctx context.Context) (string, error) {
	var modelID string
	err := s.db.WithContext(ctx).
		Raw("SELECT model_id FROM index_entries LIMIT 1").Scan(&modelID).Error
	if err != nil {
		return "", fmt.Errorf("读取索引模型失败: %w", err)
	}
	return modelID, nil
}

// Close 关闭数据库连接
func (s *PGVectorStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
