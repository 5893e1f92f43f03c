package rag

import (
	"context"
)

// QAService 面向 API 的问答门面:检索 + 合成
type QAService struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	store       VectorStore
	registry    DocumentRegistry
}

// NewQAService 创建问答服务
func NewQAService(retriever *Retriever, synthesizer *Synthesizer, store VectorStore, registry DocumentRegistry) *QAService {
	return &QAService{
		retriever:   retriever,
		synthesizer: synthesizer,
		store:       store,
		registry:    registry,
	}
}

// Ask 完整问答:检索相关摘录并合成带引用的答案。
// k ≤ 0 使用默认条数,temperature < 0 使用默认温度。
func (s *QAService) Ask(ctx context.Context, question string, k int, temperature float32) (*Answer, error) {
	results, err := s.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, err
	}
	return s.synthesizer.Synthesize(ctx, question, results, temperature)
}

// Search 只检索不合成
func (s *QAService) Search(ctx context.Context, question string, k int) (QueryResult, error) {
	return s.retriever.Retrieve(ctx, question, k)
}

// ServiceStats 服务状态概览
type ServiceStats struct {
	Index     *IndexStats       `json:"index"`
	Documents []*DocumentRecord `json:"documents,omitempty"`
}

// Stats 索引与文档登记概览
func (s *QAService) Stats(ctx context.Context) (*ServiceStats, error) {
	index, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return &ServiceStats{Index: index, Documents: docs}, nil
}
