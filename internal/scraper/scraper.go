package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
)

// 单页抓取上限,防止异常页面撑爆内存
const maxFetchSize = 10 * 1024 * 1024

// Scraper 网页抓取器,把 URL 列表变成待摄取的源文档
type Scraper struct {
	httpClient *http.Client
	userAgent  string
}

// Option 抓取器选项
type Option func(*Scraper)

// WithHTTPClient 注入自定义 HTTP 客户端(测试用)
func WithHTTPClient(client *http.Client) Option {
	return func(s *Scraper) { s.httpClient = client }
}

// NewScraper 创建抓取器
func NewScraper(opts ...Option) *Scraper {
	s := &Scraper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; LiteraryQA/1.0)",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch 抓取单个 URL,返回 web 来源的源文档
func (s *Scraper) Fetch(ctx context.Context, url string) (*rag.SourceDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("抓取 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("抓取 %s 失败: HTTP 状态码 %d", url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("读取 %s 响应失败: %w", url, err)
	}

	return &rag.SourceDocument{
		ID:         url,
		Provenance: rag.ProvenanceWeb,
		Raw:        raw,
		FetchedAt:  time.Now(),
	}, nil
}

// FetchAll 顺序抓取多个 URL。单个 URL 失败只记日志跳过,
// 摄取批次不因个别页面不可达而中止。
func (s *Scraper) FetchAll(ctx context.Context, urls []string) []*rag.SourceDocument {
	docs := make([]*rag.SourceDocument, 0, len(urls))
	for _, url := range urls {
		doc, err := s.Fetch(ctx, url)
		if err != nil {
			logger.WithContext(ctx).Warn("跳过不可达页面", zap.String("url", url), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}
