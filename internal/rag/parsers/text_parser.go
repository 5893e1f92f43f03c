package parsers

import (
	"fmt"
	"io"
	"strings"
)

// TextParser 纯文本/Markdown 解析器,整体视作单页
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Formats 支持的格式
func (p *TextParser) Formats() []string {
	return []string{"text", "markdown"}
}

// Parse 读取全部内容
func (p *TextParser) Parse(reader io.Reader) ([]Page, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取文本失败: %w", err)
	}
	return []Page{{Number: 1, Text: strings.TrimSpace(string(data))}}, nil
}
