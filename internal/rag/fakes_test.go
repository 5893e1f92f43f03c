package rag

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag/parsers"
)

// fakeEmbeddingProvider 确定性向量:文本的字节直方图。
// 相同文本向量相同(余弦相似度 1),不同文本相似度更低。
type fakeEmbeddingProvider struct {
	model string
	calls int
	fail  error // 非 nil 时所有调用返回该错误
}

func newFakeEmbedder() *fakeEmbeddingProvider {
	return &fakeEmbeddingProvider{model: "test-model"}
}

func embedText(text string) []float32 {
	vec := make([]float32, 16)
	for _, b := range []byte(text) {
		vec[int(b)%16]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

func (f *fakeEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return embedText(text), nil
}

func (f *fakeEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (f *fakeEmbeddingProvider) GetModel() string        { return f.model }
func (f *fakeEmbeddingProvider) GetProviderName() string { return "fake" }

// textParserStub 把原始字节当作单页纯文本,替换 pdf/html 解析器用
type textParserStub struct {
	format string
}

func (p *textParserStub) Formats() []string { return []string{p.format} }

func (p *textParserStub) Parse(reader io.Reader) ([]parsers.Page, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return []parsers.Page{{Number: 1, Text: string(data)}}, nil
}

// pagedParserStub 返回固定页序列,模拟多页扫描件
type pagedParserStub struct {
	format string
	pages  []parsers.Page
}

func (p *pagedParserStub) Formats() []string { return []string{p.format} }

func (p *pagedParserStub) Parse(io.Reader) ([]parsers.Page, error) {
	return p.pages, nil
}

// fakeOCRClient 图片首字节作为页号,failPages 中的页返回不可用
type fakeOCRClient struct {
	failPages map[int]bool
	calls     int
}

func (f *fakeOCRClient) RecognizePage(ctx context.Context, image []byte) (*OCRResult, error) {
	f.calls++
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: 空图片", ErrOCRUnavailable)
	}
	page := int(image[0])
	if f.failPages[page] {
		return nil, fmt.Errorf("%w: 模拟后端故障", ErrOCRUnavailable)
	}
	return &OCRResult{
		Text:       fmt.Sprintf("这是第%d页的正文内容。贾宝玉与林黛玉在大观园中相会。", page),
		Confidence: 0.9,
	}, nil
}
