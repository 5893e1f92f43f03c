package rag

import (
	"context"
	"errors"
	"fmt"
)

// 管道与检索的错误种类。文档级错误在批处理中被隔离汇总,
// 索引级错误直接致命;查询期错误需要让调用方区分
// "没有相关内容" 与 "服务不可用" 两种情况。
var (
	// ErrUnsupportedFormat 文档来源类别无法识别
	ErrUnsupportedFormat = errors.New("不支持的文档格式")
	// ErrEmptyExtraction PDF 未提取到任何文本且 OCR 已禁用
	ErrEmptyExtraction = errors.New("文档未提取到文本")
	// ErrOCRUnavailable OCR 后端不可达(页级,可恢复)
	ErrOCRUnavailable = errors.New("OCR 服务不可用")
	// ErrEmbeddingService 向量化服务非瞬时错误(批级,致命)
	ErrEmbeddingService = errors.New("向量化服务错误")
	// ErrEmbeddingRetriesExhausted 瞬时错误重试次数耗尽
	ErrEmbeddingRetriesExhausted = errors.New("向量化重试次数耗尽")
	// ErrModelMismatch 查询所用向量模型与索引记录的模型不一致
	ErrModelMismatch = errors.New("向量模型不匹配")
	// ErrNoContextAvailable 检索结果为空,无法构造提示词
	ErrNoContextAvailable = errors.New("没有可用的检索上下文")
	// ErrTimeout 外部调用超时(重试一次后仍失败才会浮出)
	ErrTimeout = errors.New("外部服务调用超时")
	// ErrIndexCorrupted 持久化索引不可读,必须中止而非静默重建
	ErrIndexCorrupted = errors.New("索引数据损坏")
)

// ErrorKind 错误种类标签,用于批处理摘要计数
type ErrorKind string

const (
	KindUnsupportedFormat        ErrorKind = "unsupported_format"
	KindEmptyExtraction          ErrorKind = "empty_extraction"
	KindOCRUnavailable           ErrorKind = "ocr_unavailable"
	KindEmbeddingService         ErrorKind = "embedding_service_error"
	KindEmbeddingRetriesExhaust  ErrorKind = "embedding_retries_exhausted"
	KindModelMismatch            ErrorKind = "model_mismatch"
	KindNoContext                ErrorKind = "no_context_available"
	KindTimeout                  ErrorKind = "timeout"
	KindIndexCorrupted           ErrorKind = "index_corrupted"
	KindOther                    ErrorKind = "other"
)

// ClassifyError 将错误归类到种类标签
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrEmptyExtraction):
		return KindEmptyExtraction
	case errors.Is(err, ErrOCRUnavailable):
		return KindOCRUnavailable
	case errors.Is(err, ErrEmbeddingRetriesExhausted):
		return KindEmbeddingRetriesExhaust
	case errors.Is(err, ErrEmbeddingService):
		return KindEmbeddingService
	case errors.Is(err, ErrModelMismatch):
		return KindModelMismatch
	case errors.Is(err, ErrNoContextAvailable):
		return KindNoContext
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrIndexCorrupted):
		return KindIndexCorrupted
	default:
		return KindOther
	}
}

// IsFatal 判断错误是否应在严格模式下中止整个批次。
// 页级 OCR 失败与空文档不致命;索引损坏与向量化失败致命。
func IsFatal(err error) bool {
	switch ClassifyError(err) {
	case KindEmbeddingService, KindEmbeddingRetriesExhaust, KindIndexCorrupted:
		return true
	default:
		return false
	}
}

// IsRetryable 判断查询期错误是否值得调用方稍后重试
// ("服务不可用" 一类),区别于 "没有相关内容"。
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case KindTimeout, KindEmbeddingRetriesExhaust, KindOCRUnavailable:
		return true
	default:
		return false
	}
}

// wrapCorrupted 把底层存储错误标记为索引损坏并携带诊断信息
func wrapCorrupted(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIndexCorrupted, op, err)
}
