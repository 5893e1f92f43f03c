package rag

import (
	"context"
)

// EmbeddingProvider 向量化服务的统一接口。
// 同一个索引自始至终只使用一个模型,GetModel 用于检索前的模型一致性校验。
type EmbeddingProvider interface {
	// Embed 向量化单条文本
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 批量向量化,返回向量顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// GetModel 返回模型标识
	GetModel() string
	// GetProviderName 返回提供商名称
	GetProviderName() string
}
