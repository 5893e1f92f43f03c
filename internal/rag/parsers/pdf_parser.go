package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFParser PDF 文件解析器,按页提取文本层。
// 没有文本层的页会尝试提取页内最大的图片流,供 OCR 回退使用。
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Formats 支持的格式
func (p *PDFParser) Formats() []string {
	return []string{"pdf"}
}

// Parse 解析 PDF,逐页返回
func (p *PDFParser) Parse(reader io.Reader) ([]Page, error) {
	// pdf.NewReader 需要 ReaderAt,先整体读入
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取 PDF 内容失败: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}

	numPages := r.NumPage()
	pages := make([]Page, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, Page{Number: i})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		text = strings.TrimSpace(text)

		out := Page{Number: i, Text: text}
		if text == "" {
			// 无文本层,提取页内图片供 OCR
			out.Image = extractPageImage(page)
		}
		pages = append(pages, out)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("PDF 没有任何页面")
	}
	return pages, nil
}

// extractPageImage 从页面资源中提取最大的图片 XObject 流。
// 扫描版 PDF 通常整页就是一张图。
func extractPageImage(page pdf.Page) []byte {
	resources := page.V.Key("Resources")
	if resources.IsNull() {
		return nil
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return nil
	}

	var largest []byte
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Kind() != pdf.Stream {
			continue
		}
		if obj.Key("Subtype").Name() != "Image" {
			continue
		}
		data, err := io.ReadAll(obj.Reader())
		if err != nil {
			continue
		}
		if len(data) > len(largest) {
			largest = data
		}
	}
	return largest
}
