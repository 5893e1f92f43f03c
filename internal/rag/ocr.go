package rag

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OCRResult 单页识别结果
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCRClient OCR 回退适配器的窄契约:
// 输入单页图片字节,输出识别文本 + 置信度,或不可用信号。
// 不可用是页级可恢复错误,该页记为缺失而不中止整个文档。
type OCRClient interface {
	RecognizePage(ctx context.Context, image []byte) (*OCRResult, error)
}

// HTTPOCRClient 基于 HTTP JSON 契约的 OCR 后端。
// 凭证视为不透明配置,随 Authorization 头透传。
type HTTPOCRClient struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// HTTPOCROptions OCR 后端配置
type HTTPOCROptions struct {
	Endpoint       string
	APIKey         string
	Model          string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// NewHTTPOCRClient 创建 OCR 后端客户端
func NewHTTPOCRClient(opts HTTPOCROptions) (*HTTPOCRClient, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("ocr endpoint 不能为空")
	}
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}
	return &HTTPOCRClient{
		endpoint:   opts.Endpoint,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		httpClient: client,
	}, nil
}

type ocrRequest struct {
	Model string `json:"model,omitempty"`
	Image string `json:"image"` // base64
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// RecognizePage 识别单页图片
func (c *HTTPOCRClient) RecognizePage(ctx context.Context, image []byte) (*OCRResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: 页面没有可识别的图片", ErrOCRUnavailable)
	}

	body, err := json.Marshal(ocrRequest{
		Model: c.model,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, fmt.Errorf("编码 OCR 请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造 OCR 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 传输层失败(含超时)统一视作后端不可达
		return nil, fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: 后端返回 %d", ErrOCRUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("OCR 请求失败: 状态 %d: %s", resp.StatusCode, string(data))
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析 OCR 响应失败: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("OCR 识别失败: %s", out.Error)
	}

	return &OCRResult{Text: out.Text, Confidence: out.Confidence}, nil
}
