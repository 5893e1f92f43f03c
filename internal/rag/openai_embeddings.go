package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/metrics"
)

// OpenAIEmbeddingOptions 向量化服务配置
type OpenAIEmbeddingOptions struct {
	APIKey         string
	BaseURL        string // OpenAI 兼容端点
	Model          string
	MaxBatchSize   int // 单次请求的文本上限
	MaxRetries     int // 瞬时错误的重试上限
	RetryBaseMs    int // 指数退避基数(毫秒)
	MaxInflight    int // 进程级并发请求上限
	TimeoutSeconds int
}

// OpenAIEmbeddingProvider 基于 OpenAI 兼容 API 的向量化服务。
// 瞬时错误(429/5xx/超时)按指数退避重试,达到上限返回
// ErrEmbeddingRetriesExhausted;其余错误视为批次致命。
// 进程内所有调用共享一个并发上限信号量。
type OpenAIEmbeddingProvider struct {
	client     *openai.Client
	model      string
	maxBatch   int
	maxRetries int
	retryBase  time.Duration
	timeout    time.Duration
	sem        *semaphore.Weighted
}

// NewOpenAIEmbeddingProvider 创建向量化服务客户端
func NewOpenAIEmbeddingProvider(opts OpenAIEmbeddingOptions) (*OpenAIEmbeddingProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("embedding api key 不能为空")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model 不能为空")
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 64
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseMs <= 0 {
		opts.RetryBaseMs = 200
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 4
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 30
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &OpenAIEmbeddingProvider{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		maxBatch:   opts.MaxBatchSize,
		maxRetries: opts.MaxRetries,
		retryBase:  time.Duration(opts.RetryBaseMs) * time.Millisecond,
		timeout:    time.Duration(opts.TimeoutSeconds) * time.Second,
		sem:        semaphore.NewWeighted(int64(opts.MaxInflight)),
	}, nil
}

// GetModel 返回模型标识
func (p *OpenAIEmbeddingProvider) GetModel() string {
	return p.model
}

// GetProviderName 返回提供商名称
func (p *OpenAIEmbeddingProvider) GetProviderName() string {
	return "openai"
}

// Embed 向量化单条文本
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量向量化,输入按 MaxBatchSize 切分为多次请求
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatch {
		end := start + p.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := p.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedOnce 单次请求 + 指数退避重试
func (p *OpenAIEmbeddingProvider) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	var lastErr error
	for attempt := 0; ; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		resp, err := p.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(p.model),
		})
		cancel()

		if err == nil {
			if len(resp.Data) != len(batch) {
				return nil, fmt.Errorf("%w: 返回 %d 个向量,期望 %d", ErrEmbeddingService, len(resp.Data), len(batch))
			}
			vectors := make([][]float32, len(batch))
			for _, item := range resp.Data {
				if item.Index < 0 || item.Index >= len(batch) {
					return nil, fmt.Errorf("%w: 非法向量下标 %d", ErrEmbeddingService, item.Index)
				}
				vectors[item.Index] = item.Embedding
			}
			return vectors, nil
		}

		// 调用方取消不算服务故障,原样上抛
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
		}

		lastErr = err
		if attempt >= p.maxRetries {
			return nil, fmt.Errorf("%w: 重试 %d 次后放弃: %v", ErrEmbeddingRetriesExhausted, attempt, lastErr)
		}

		backoff := p.retryBase * (1 << attempt)
		metrics.EmbeddingRetriesTotal.Inc()
		logger.WithContext(ctx).Warn("向量化请求瞬时失败,退避重试",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// isTransient 429/5xx/超时/网络错误视为瞬时,可重试
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
