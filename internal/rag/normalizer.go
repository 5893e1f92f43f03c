package rag

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag/parsers"
)

// Normalizer 文档规范化器。
// 把不同来源/质量的原始文档统一成带页标记的纯文本;
// 没有文本层的 PDF 页交给 OCR 回退,OCR 不可用时该页记缺失。
type Normalizer struct {
	registry      *parsers.Registry
	ocr           OCRClient // nil 表示 OCR 回退已禁用
	minConfidence float64
}

// NewNormalizer 创建规范化器
func NewNormalizer(registry *parsers.Registry, ocr OCRClient, minConfidence float64) *Normalizer {
	if registry == nil {
		registry = parsers.NewRegistry()
	}
	return &Normalizer{
		registry:      registry,
		ocr:           ocr,
		minConfidence: minConfidence,
	}
}

// Registry 暴露解析器注册表,便于注入自定义解析器
func (n *Normalizer) Registry() *parsers.Registry {
	return n.registry
}

// formatFor 来源类别到解析格式的映射
func formatFor(p Provenance) (string, bool) {
	switch p {
	case ProvenanceWeb:
		return "html", true
	case ProvenancePDFNative, ProvenancePDFScanned:
		return "pdf", true
	}
	return "", false
}

// Normalize 把原始文档转换为规范化文本。
// 返回 ErrUnsupportedFormat(来源类别无法识别)或
// ErrEmptyExtraction(零文本且 OCR 已禁用)。
func (n *Normalizer) Normalize(ctx context.Context, doc *SourceDocument) (*NormalizedText, error) {
	format, ok := formatFor(doc.Provenance)
	if !ok {
		return nil, fmt.Errorf("%w: %q (文档 %s)", ErrUnsupportedFormat, doc.Provenance, doc.ID)
	}

	rawPages, err := n.registry.Parse(format, bytes.NewReader(doc.Raw))
	if err != nil {
		return nil, fmt.Errorf("解析文档 %s 失败: %w", doc.ID, err)
	}

	pages := n.assemblePages(ctx, doc.ID, rawPages)

	normalized := &NormalizedText{
		DocumentID:  doc.ID,
		Provenance:  doc.Provenance,
		ContentHash: doc.ContentHash(),
		Pages:       pages,
	}

	if normalized.Empty() && n.ocr == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmptyExtraction, doc.ID)
	}
	return normalized, nil
}

// assemblePages 逐页清洗文本,无文本层的页走 OCR 回退。
// OCR 不可用或置信度过低的页标记缺失,文档照常摄取。
func (n *Normalizer) assemblePages(ctx context.Context, docID string, rawPages []parsers.Page) []PageText {
	pages := make([]PageText, 0, len(rawPages))
	for _, raw := range rawPages {
		page := PageText{Number: raw.Number, Confidence: 1}

		switch {
		case raw.Text != "":
			page.Text = CleanText(raw.Text)

		case n.ocr == nil:
			page.Missing = true

		default:
			result, err := n.ocr.RecognizePage(ctx, raw.Image)
			if err != nil {
				logger.WithContext(ctx).Warn("页面 OCR 失败,记为缺失",
					zap.String("document_id", docID),
					zap.Int("page", raw.Number),
					zap.Error(err),
				)
				page.Missing = true
				break
			}
			text := CleanText(result.Text)
			if text == "" || result.Confidence < n.minConfidence {
				page.Missing = true
				break
			}
			page.Text = text
			page.FromOCR = true
			page.Confidence = result.Confidence
		}

		pages = append(pages, page)
	}
	return pages
}

var (
	hyphenBreakRegex = regexp.MustCompile(`(\p{L})-\r?\n\s*(\p{L})`)
	spaceRunRegex    = regexp.MustCompile(`[ \t\x{3000}]+`)
	blankRunRegex    = regexp.MustCompile(`\n{3,}`)
)

// CleanText 规范化文本:修复断字连字符,折叠空白,保留段落边界
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// 跨行断字: "inter-\nnal" → "internal"
	text = hyphenBreakRegex.ReplaceAllString(text, "$1$2")
	text = blankRunRegex.ReplaceAllString(text, "\n\n")

	// 段内的单个换行是排版换行,并入同一段
	paras := strings.Split(text, "\n\n")
	out := paras[:0]
	for _, para := range paras {
		para = strings.ReplaceAll(para, "\n", " ")
		para = strings.TrimSpace(spaceRunRegex.ReplaceAllString(para, " "))
		if para != "" {
			out = append(out, para)
		}
	}
	return strings.Join(out, "\n\n")
}
