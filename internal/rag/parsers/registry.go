package parsers

import (
	"fmt"
	"io"
)

// Registry 管理文档解析器,按格式名分发
type Registry struct {
	byFormat map[string]Parser
}

// NewRegistry 创建带默认解析器的注册表
func NewRegistry() *Registry {
	r := &Registry{byFormat: make(map[string]Parser)}
	r.Register(NewHTMLParser())
	r.Register(NewPDFParser())
	r.Register(NewTextParser())
	return r
}

// Register 注册解析器,后注册的覆盖同格式的先注册者
func (r *Registry) Register(p Parser) {
	for _, f := range p.Formats() {
		r.byFormat[f] = p
	}
}

// Parse 按格式名选择解析器并解析
func (r *Registry) Parse(format string, reader io.Reader) ([]Page, error) {
	p, ok := r.byFormat[format]
	if !ok {
		return nil, fmt.Errorf("没有适用于格式 %s 的解析器", format)
	}
	return p.Parse(reader)
}

// Supports 是否存在该格式的解析器
func (r *Registry) Supports(format string) bool {
	_, ok := r.byFormat[format]
	return ok
}
