package app

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/config"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag/parsers"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/scraper"
)

// Components 装配完成的应用组件
type Components struct {
	Config    *config.Config
	Redis     *redis.Client // 可能为 nil
	Store     rag.VectorStore
	Registry  rag.DocumentRegistry
	Embedder  rag.EmbeddingProvider
	Chunker   *rag.Chunker
	Pipeline  *rag.Pipeline
	QAService *rag.QAService
	Scraper   *scraper.Scraper
}

// Build 按配置装配全部组件
func Build(cfg *config.Config) (*Components, error) {
	c := &Components{Config: cfg, Scraper: scraper.NewScraper()}

	if cfg.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := c.buildStore(cfg); err != nil {
		return nil, err
	}
	if err := c.buildEmbedder(cfg); err != nil {
		return nil, err
	}

	chunker, err := rag.NewChunker(rag.ChunkerOptions{
		TargetTokens:    cfg.Ingest.Chunk.TargetTokens,
		OverlapFraction: cfg.Ingest.Chunk.OverlapFraction,
		MaxOverlap:      cfg.Ingest.Chunk.MaxOverlap,
		Tolerance:       cfg.Ingest.Chunk.Tolerance,
		PageAware:       cfg.Ingest.Chunk.PageAware,
		Encoding:        cfg.Ingest.Chunk.Encoding,
	})
	if err != nil {
		return nil, err
	}
	c.Chunker = chunker

	var ocr rag.OCRClient
	if cfg.OCR.Enabled && cfg.OCR.Endpoint != "" {
		ocr, err = rag.NewHTTPOCRClient(rag.HTTPOCROptions{
			Endpoint:       cfg.OCR.Endpoint,
			APIKey:         cfg.OCR.APIKey,
			Model:          cfg.OCR.Model,
			TimeoutSeconds: cfg.OCR.TimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
	}
	normalizer := rag.NewNormalizer(parsers.NewRegistry(), ocr, cfg.OCR.MinConfidence)

	c.Pipeline = rag.NewPipeline(normalizer, chunker, c.Embedder, c.Store, c.Registry, rag.PipelineOptions{
		Workers:         cfg.Ingest.Workers,
		Strict:          cfg.Ingest.Strict,
		InvalidateStale: cfg.Ingest.InvalidateStale,
		DedupEnabled:    cfg.Ingest.Dedup.Enabled,
		Dedup: rag.DedupOptions{
			Threshold: cfg.Ingest.Dedup.Threshold,
			Rank:      toProvenances(cfg.Ingest.Dedup.Rank),
		},
	})

	var maxAge time.Duration
	if cfg.RAG.MaxAge != "" {
		maxAge, err = time.ParseDuration(cfg.RAG.MaxAge)
		if err != nil {
			return nil, fmt.Errorf("解析 rag.max_age 失败: %w", err)
		}
	}
	retriever := rag.NewRetriever(c.Embedder, c.Store, rag.RetrieverOptions{
		TopK:           cfg.RAG.TopK,
		MaxTopK:        cfg.RAG.MaxTopK,
		ScoreThreshold: cfg.RAG.ScoreThreshold,
		ExcludeOCR:     cfg.RAG.ExcludeOCR,
		Provenances:    toProvenances(cfg.RAG.Provenances),
		MaxAge:         maxAge,
	})

	chatCfg := openai.DefaultConfig(cfg.Embedding.APIKey)
	if cfg.Embedding.BaseURL != "" {
		chatCfg.BaseURL = cfg.Embedding.BaseURL
	}
	synthesizer := rag.NewSynthesizer(openai.NewClientWithConfig(chatCfg), chunker, rag.SynthesizerOptions{
		Model:          cfg.RAG.CompletionModel,
		Temperature:    float32(cfg.RAG.Temperature),
		ContextBudget:  cfg.RAG.ContextBudget,
		TimeoutSeconds: cfg.RAG.AnswerTimeoutSec,
	})

	c.QAService = rag.NewQAService(retriever, synthesizer, c.Store, c.Registry)
	return c, nil
}

func (c *Components) buildStore(cfg *config.Config) error {
	switch cfg.Index.Backend {
	case "memory":
		c.Store = rag.NewMemoryVectorStore()
		c.Registry = rag.NewMemoryDocumentRegistry()

	case "sqlite":
		store, err := rag.NewSQLiteVectorStore(cfg.Index.SQLite.Path)
		if err != nil {
			return err
		}
		c.Store = store
		c.Registry = rag.NewGormDocumentRegistry(store.DB())

	case "pgvector":
		db, err := gorm.Open(postgres.Open(cfg.Index.Postgres.GetDSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return fmt.Errorf("连接 Postgres 失败: %w", err)
		}
		store, err := rag.NewPGVectorStore(db)
		if err != nil {
			return err
		}
		c.Store = store
		c.Registry = rag.NewGormDocumentRegistry(db)

	default:
		return fmt.Errorf("未知的索引后端: %s", cfg.Index.Backend)
	}
	return nil
}

func (c *Components) buildEmbedder(cfg *config.Config) error {
	provider, err := rag.NewOpenAIEmbeddingProvider(rag.OpenAIEmbeddingOptions{
		APIKey:         cfg.Embedding.APIKey,
		BaseURL:        cfg.Embedding.BaseURL,
		Model:          cfg.Embedding.Model,
		MaxBatchSize:   cfg.Embedding.MaxBatchSize,
		MaxRetries:     cfg.Embedding.MaxRetries,
		RetryBaseMs:    cfg.Embedding.RetryBaseMs,
		MaxInflight:    cfg.Embedding.MaxInflight,
		TimeoutSeconds: cfg.Embedding.TimeoutSeconds,
	})
	if err != nil {
		return err
	}
	c.Embedder = provider

	if cfg.Embedding.Cache.Enabled {
		ttl, err := time.ParseDuration(cfg.Embedding.Cache.TTL)
		if err != nil {
			ttl = 0 // 回落到缓存默认 TTL
		}
		cache := rag.NewEmbeddingCache(c.Redis, cfg.Embedding.Cache.Prefix, ttl)
		c.Embedder = rag.NewCachedEmbeddingProvider(provider, cache)
	}
	return nil
}

// Close 释放持有的连接
func (c *Components) Close() error {
	var firstErr error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func toProvenances(values []string) []rag.Provenance {
	out := make([]rag.Provenance, 0, len(values))
	for _, v := range values {
		out = append(out, rag.Provenance(v))
	}
	return out
}
