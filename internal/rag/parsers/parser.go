package parsers

import "io"

// Page 解析出的单页内容。
// Text 为空而 Image 非空表示该页没有可提取的文本层,需要交给 OCR 回退。
type Page struct {
	Number int
	Text   string
	Image  []byte
}

// Parser 文档解析器接口
type Parser interface {
	// Parse 读取原始内容,按页提取文本
	Parse(reader io.Reader) ([]Page, error)

	// Formats 返回支持的格式名(如 "pdf")
	Formats() []string
}
