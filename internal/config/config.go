package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
// 所有可识别的配置项都在这里枚举并给出默认值,启动时构造一次,随处按引用传递。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	RAG       RAGConfig       `mapstructure:"rag"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// RedisConfig Redis 配置(任务队列 + 向量缓存,可选)
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IngestConfig 数据摄取配置
type IngestConfig struct {
	Workers         int      `mapstructure:"workers"`          // 并发处理文档数上限
	Strict          bool     `mapstructure:"strict"`           // 严格模式:首个致命错误即中止批次
	InvalidateStale bool     `mapstructure:"invalidate_stale"` // 内容哈希变化时级联删除旧条目
	RawDataFolder   string   `mapstructure:"raw_data_folder"`  // 网页抓取结果目录
	PDFFolders      []string `mapstructure:"pdf_folders"`      // PDF 来源目录
	ScrapeURLs      []string `mapstructure:"scrape_urls"`      // 默认抓取的 URL 列表

	Chunk ChunkConfig `mapstructure:"chunk"`
	Dedup DedupConfig `mapstructure:"dedup"`
}

// ChunkConfig 分块配置
type ChunkConfig struct {
	TargetTokens    int     `mapstructure:"target_tokens"`    // 目标分块大小(token)
	OverlapFraction float64 `mapstructure:"overlap_fraction"` // 相邻分块重叠比例
	MaxOverlap      float64 `mapstructure:"max_overlap"`      // 重叠比例上限
	Tolerance       int     `mapstructure:"tolerance"`        // 句边界搜索容差(token)
	PageAware       bool    `mapstructure:"page_aware"`       // 分块不跨越页边界
	Encoding        string  `mapstructure:"encoding"`         // tiktoken 编码名
}

// DedupConfig 去重配置
type DedupConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Threshold float64  `mapstructure:"threshold"`       // 指纹相似度阈值
	Rank      []string `mapstructure:"provenance_rank"` // 来源可信度排序,高→低
}

// OCRConfig OCR 回退配置
type OCRConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Endpoint       string  `mapstructure:"endpoint"`
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinConfidence  float64 `mapstructure:"min_confidence"` // 低于该置信度的页按缺失处理
}

// EmbeddingConfig 向量化服务配置
type EmbeddingConfig struct {
	APIKey         string      `mapstructure:"api_key"`
	BaseURL        string      `mapstructure:"base_url"`
	Model          string      `mapstructure:"model"`
	MaxBatchSize   int         `mapstructure:"max_batch_size"`
	MaxRetries     int         `mapstructure:"max_retries"`   // 瞬时错误重试上限
	RetryBaseMs    int         `mapstructure:"retry_base_ms"` // 退避基准(毫秒)
	MaxInflight    int         `mapstructure:"max_inflight"`  // 全局在途请求上限
	TimeoutSeconds int         `mapstructure:"timeout_seconds"`
	Cache          CacheConfig `mapstructure:"cache"`
}

// CacheConfig 向量缓存配置
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
	TTL     string `mapstructure:"ttl"` // 如 "168h"
}

// IndexConfig 向量索引配置
type IndexConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, sqlite, pgvector
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig SQLite 持久化配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig pgvector 后端配置
type PostgresConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	SSLMode   string `mapstructure:"sslmode"`
	Dimension int    `mapstructure:"dimension"`
}

// RAGConfig 检索与生成配置
type RAGConfig struct {
	TopK             int      `mapstructure:"top_k"`
	MaxTopK          int      `mapstructure:"max_top_k"`
	ScoreThreshold   float64  `mapstructure:"score_threshold"`
	ExcludeOCR       bool     `mapstructure:"exclude_ocr"` // 检索时排除 OCR 来源的块
	Provenances      []string `mapstructure:"provenances"` // 非空时只检索这些来源
	MaxAge           string   `mapstructure:"max_age"`     // 只检索该时长内摄取的条目,如 "720h";空表示不限
	CompletionModel  string   `mapstructure:"completion_model"`
	Temperature      float64  `mapstructure:"temperature"`
	ContextBudget    int      `mapstructure:"context_budget"` // 提示词中上下文 token 预算
	AnswerTimeoutSec int      `mapstructure:"answer_timeout_seconds"`
}

// GetDSN 获取 Postgres 连接字符串
func (c *PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Addr Redis 地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load 加载配置
// env: 环境名称(dev, prod, test)
// configPath: 配置文件路径(可选,为空时按约定目录查找 env.yaml)
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}
	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件: APP_EMBEDDING_API_KEY 等
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可缺省,全部走默认值 + 环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 枚举全部默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 120)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.strict", false)
	v.SetDefault("ingest.invalidate_stale", true)
	v.SetDefault("ingest.raw_data_folder", "data/raw")
	v.SetDefault("ingest.pdf_folders", []string{"data/Book", "data/Article"})

	v.SetDefault("ingest.chunk.target_tokens", 350)
	v.SetDefault("ingest.chunk.overlap_fraction", 0.15)
	v.SetDefault("ingest.chunk.max_overlap", 0.3)
	v.SetDefault("ingest.chunk.tolerance", 60)
	v.SetDefault("ingest.chunk.page_aware", true)
	v.SetDefault("ingest.chunk.encoding", "cl100k_base")

	v.SetDefault("ingest.dedup.enabled", true)
	v.SetDefault("ingest.dedup.threshold", 0.9)
	// 可信度默认排序是从领域推断的假定策略,保持可配置
	v.SetDefault("ingest.dedup.provenance_rank", []string{"pdf-native", "web", "pdf-scanned"})

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.timeout_seconds", 60)
	v.SetDefault("ocr.min_confidence", 0.0)

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.max_batch_size", 64)
	v.SetDefault("embedding.max_retries", 5)
	v.SetDefault("embedding.retry_base_ms", 500)
	v.SetDefault("embedding.max_inflight", 8)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("embedding.cache.enabled", true)
	v.SetDefault("embedding.cache.prefix", "emb:")
	v.SetDefault("embedding.cache.ttl", "168h")

	v.SetDefault("index.backend", "sqlite")
	v.SetDefault("index.sqlite.path", "data/knowledge_base.db")
	v.SetDefault("index.postgres.host", "127.0.0.1")
	v.SetDefault("index.postgres.port", 5432)
	v.SetDefault("index.postgres.sslmode", "disable")
	v.SetDefault("index.postgres.dimension", 1536)

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.max_top_k", 50)
	v.SetDefault("rag.score_threshold", 0.0)
	v.SetDefault("rag.exclude_ocr", false)
	v.SetDefault("rag.max_age", "")
	v.SetDefault("rag.completion_model", "gpt-4o-mini")
	v.SetDefault("rag.temperature", 0.7)
	v.SetDefault("rag.context_budget", 3000)
	v.SetDefault("rag.answer_timeout_seconds", 90)
}

// Validate 校验配置组合是否可用
func (c *Config) Validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers 必须为正数")
	}
	if c.Ingest.Chunk.TargetTokens <= 0 {
		return fmt.Errorf("ingest.chunk.target_tokens 必须为正数")
	}
	if c.Ingest.Chunk.OverlapFraction < 0 || c.Ingest.Chunk.OverlapFraction > c.Ingest.Chunk.MaxOverlap {
		return fmt.Errorf("ingest.chunk.overlap_fraction 必须在 [0, max_overlap=%v] 内", c.Ingest.Chunk.MaxOverlap)
	}
	if c.Ingest.Dedup.Threshold <= 0 || c.Ingest.Dedup.Threshold > 1 {
		return fmt.Errorf("ingest.dedup.threshold 必须在 (0, 1] 内")
	}
	if c.Embedding.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding.max_batch_size 必须为正数")
	}
	if c.Embedding.MaxInflight <= 0 {
		return fmt.Errorf("embedding.max_inflight 必须为正数")
	}
	switch c.Index.Backend {
	case "memory", "sqlite", "pgvector":
	default:
		return fmt.Errorf("未知的索引后端: %s", c.Index.Backend)
	}
	if c.RAG.TopK <= 0 || c.RAG.TopK > c.RAG.MaxTopK {
		return fmt.Errorf("rag.top_k 必须在 [1, %d] 内", c.RAG.MaxTopK)
	}
	if c.RAG.MaxAge != "" {
		if _, err := time.ParseDuration(c.RAG.MaxAge); err != nil {
			return fmt.Errorf("rag.max_age 格式无效: %w", err)
		}
	}
	return nil
}
