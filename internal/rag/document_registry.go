package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// GormDocumentRegistry 数据库文档登记表,与向量索引共用一个库
type GormDocumentRegistry struct {
	db *gorm.DB
}

// NewGormDocumentRegistry 创建登记表(表结构由索引初始化时迁移)
func NewGormDocumentRegistry(db *gorm.DB) *GormDocumentRegistry {
	return &GormDocumentRegistry{db: db}
}

// Get 查询文档登记,不存在时返回 (nil, nil)
func (r *GormDocumentRegistry) Get(ctx context.Context, documentID string) (*DocumentRecord, error) {
	var record DocumentRecord
	err := r.db.WithContext(ctx).First(&record, "document_id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询文档登记失败: %w", err)
	}
	return &record, nil
}

// Put 写入或覆盖登记
func (r *GormDocumentRegistry) Put(ctx context.Context, record *DocumentRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("写入文档登记失败: %w", err)
	}
	return nil
}

// Delete 删除登记
func (r *GormDocumentRegistry) Delete(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).
		Delete(&DocumentRecord{}, "document_id = ?", documentID).Error; err != nil {
		return fmt.Errorf("删除文档登记失败: %w", err)
	}
	return nil
}

// List 全部登记
func (r *GormDocumentRegistry) List(ctx context.Context) ([]*DocumentRecord, error) {
	var records []*DocumentRecord
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("读取文档登记失败: %w", err)
	}
	return records, nil
}

// MemoryDocumentRegistry 进程内登记表,配合内存索引与测试使用
type MemoryDocumentRegistry struct {
	mu      sync.RWMutex
	records map[string]*DocumentRecord
}

// NewMemoryDocumentRegistry 创建内存登记表
func NewMemoryDocumentRegistry() *MemoryDocumentRegistry {
	return &MemoryDocumentRegistry{records: make(map[string]*DocumentRecord)}
}

// Get 查询登记
func (r *MemoryDocumentRegistry) Get(ctx context.Context, documentID string) (*DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[documentID]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

// Put 写入或覆盖登记
func (r *MemoryDocumentRegistry) Put(ctx context.Context, record *DocumentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.DocumentID] = &cp
	return nil
}

// Delete 删除登记
func (r *MemoryDocumentRegistry) Delete(ctx context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, documentID)
	return nil
}

// List 全部登记
func (r *MemoryDocumentRegistry) List(ctx context.Context) ([]*DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DocumentRecord, 0, len(r.records))
	for _, record := range r.records {
		cp := *record
		out = append(out, &cp)
	}
	return out, nil
}
