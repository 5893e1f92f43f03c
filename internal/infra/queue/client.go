package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/config"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/worker/tasks"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueIngestURL(url string) error
	EnqueueIngestFile(path, provenance string) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueIngestURL(url string) error {
	payload, err := json.Marshal(tasks.IngestURLPayload{URL: url})
	if err != nil {
		return fmt.Errorf("编码任务载荷失败: %w", err)
	}
	// 向量化服务自带重试,任务级只兜底网络抖动
	_, err = c.client.Enqueue(
		asynq.NewTask(tasks.TypeIngestURL, payload),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("ingest"),
	)
	if err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (c *asynqClient) EnqueueIngestFile(path, provenance string) error {
	payload, err := json.Marshal(tasks.IngestFilePayload{Path: path, Provenance: provenance})
	if err != nil {
		return fmt.Errorf("编码任务载荷失败: %w", err)
	}
	// 扫描件可能逐页走 OCR,给足超时
	_, err = c.client.Enqueue(
		asynq.NewTask(tasks.TypeIngestFile, payload),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Queue("ingest"),
	)
	if err != nil {
		return fmt.Errorf("任务入队失败: %w", err)
	}
	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
