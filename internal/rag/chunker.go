package rag

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkerOptions 分块配置
type ChunkerOptions struct {
	TargetTokens    int     // 目标分块大小(token)
	OverlapFraction float64 // 相邻分块重叠比例
	MaxOverlap      float64 // 重叠比例上限
	Tolerance       int     // 句边界搜索容差(token)
	PageAware       bool    // 不跨越页边界分块
	Encoding        string  // tiktoken 编码名
}

// Chunker 文档分块器。
// 对相同输入与相同配置,分块边界完全可复现 —— 这是内容哈希幂等性的前提。
type Chunker struct {
	targetTokens  int
	overlapTokens int
	tolerance     int
	pageAware     bool
	enc           *tiktoken.Tiktoken
}

// NewChunker 创建分块器
func NewChunker(opts ChunkerOptions) (*Chunker, error) {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = 350
	}
	if opts.OverlapFraction < 0 {
		opts.OverlapFraction = 0
	}
	if opts.MaxOverlap <= 0 {
		opts.MaxOverlap = 0.3
	}
	// 重叠永不超过配置的最大比例
	if opts.OverlapFraction > opts.MaxOverlap {
		opts.OverlapFraction = opts.MaxOverlap
	}
	if opts.Tolerance < 0 {
		opts.Tolerance = 0
	}
	if opts.Encoding == "" {
		opts.Encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(opts.Encoding)
	if err != nil {
		return nil, fmt.Errorf("加载 tiktoken 编码 %s 失败: %w", opts.Encoding, err)
	}

	return &Chunker{
		targetTokens:  opts.TargetTokens,
		overlapTokens: int(float64(opts.TargetTokens) * opts.OverlapFraction),
		tolerance:     opts.Tolerance,
		pageAware:     opts.PageAware,
		enc:           enc,
	}, nil
}

// CountTokens 统计文本 token 数
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// ChunkDocument 对规范化文本分块。
// 页感知模式下分块不跨越页边界;缺失页直接跳过。
func (c *Chunker) ChunkDocument(n *NormalizedText) ([]*Chunk, error) {
	if n == nil || n.Empty() {
		return nil, nil
	}

	var chunks []*Chunk
	index := 0

	emit := func(text string, page, start, end int, fromOCR bool) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, &Chunk{
			DocumentID:  n.DocumentID,
			Provenance:  n.Provenance,
			Index:       index,
			Text:        text,
			StartOffset: start,
			EndOffset:   end,
			Page:        page,
			TokenCount:  c.CountTokens(text),
			ContentHash: HashText(text),
			FromOCR:     fromOCR,
		})
		index++
	}

	if c.pageAware {
		for _, page := range n.Pages {
			if page.Missing || page.Text == "" {
				continue
			}
			c.chunkText(page.Text, func(text string, start, end int) {
				emit(text, page.Number, start, end, page.FromOCR)
			})
		}
		return chunks, nil
	}

	// 非页感知:拼接全部可用页,页边界退化为段落边界
	var sb strings.Builder
	fromOCR := false
	for _, page := range n.Pages {
		if page.Missing || page.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Text)
		fromOCR = fromOCR || page.FromOCR
	}
	c.chunkText(sb.String(), func(text string, start, end int) {
		emit(text, 0, start, end, fromOCR)
	})
	return chunks, nil
}

// chunkText 按句子边界聚合到目标 token 数,超长句退化为硬切分。
// start/end 为文本内的 rune 偏移,重叠窗口是前一块末尾的整句。
func (c *Chunker) chunkText(text string, emit func(text string, start, end int)) {
	runes := []rune(text)
	sentences := splitSentences(runes)
	if len(sentences) == 0 {
		return
	}

	flush := func(from, to int) {
		// [from, to) 句区间构成一个分块
		start := sentences[from].start
		end := sentences[to-1].end
		emit(string(runes[start:end]), start, end)
	}

	cur := 0       // 当前块的首句下标
	curTokens := 0 // 当前块累计 token
	for i := 0; i < len(sentences); i++ {
		s := sentences[i]
		st := c.CountTokens(string(runes[s.start:s.end]))

		// 单句超过目标 + 容差:独立硬切分
		if st > c.targetTokens+c.tolerance {
			if curTokens > 0 {
				flush(cur, i)
			}
			c.hardSplit(runes, s, st, emit)
			cur, curTokens = i+1, 0
			continue
		}

		if curTokens > 0 && curTokens+st > c.targetTokens+c.tolerance {
			flush(cur, i)
			// 回退若干整句作为重叠窗口
			back := i
			overlap := 0
			for back > cur {
				prev := sentences[back-1]
				pt := c.CountTokens(string(runes[prev.start:prev.end]))
				if overlap+pt > c.overlapTokens {
					break
				}
				overlap += pt
				back--
			}
			cur, curTokens = back, overlap
		}
		curTokens += st
	}
	if cur < len(sentences) {
		flush(cur, len(sentences))
	}
}

// hardSplit 对超长句按 rune 等比切分,近似到目标 token 数
func (c *Chunker) hardSplit(runes []rune, s span, tokens int, emit func(string, int, int)) {
	length := s.end - s.start
	if tokens <= 0 || length == 0 {
		return
	}
	step := length * c.targetTokens / tokens
	if step <= 0 {
		step = length
	}
	overlap := length * c.overlapTokens / tokens
	if overlap >= step {
		overlap = step / 2
	}

	for start := s.start; start < s.end; start += step - overlap {
		end := start + step
		if end > s.end {
			end = s.end
		}
		emit(string(runes[start:end]), start, end)
		if end >= s.end {
			break
		}
	}
}

// span 文本内的 rune 区间
type span struct {
	start, end int
}

// splitSentences 按句子与段落边界切分。
// 规则:句号/问号/感叹号(中英文)结束一句,附带的右引号并入前句;
// 空行(段落边界)强制结束一句。
func splitSentences(runes []rune) []span {
	var spans []span
	start := 0

	flush := func(end int) {
		for start < end && isSpace(runes[start]) {
			start++
		}
		e := end
		for e > start && isSpace(runes[e-1]) {
			e--
		}
		if e > start {
			spans = append(spans, span{start: start, end: e})
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if isSentenceEnd(r) {
			// 小数点不是句末: 3.14
			if r == '.' && i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
				continue
			}
			// 右引号/括号并入本句
			j := i + 1
			for j < len(runes) && isClosing(runes[j]) {
				j++
			}
			flush(j)
			i = j - 1
			continue
		}

		// 段落边界强制断句
		if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush(i)
		}
	}
	flush(len(runes))
	return spans
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '.', '…', '；', ';':
		return true
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '”', '’', '』', '」', '"', '\'', ')', '）', '】', '》':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '　':
		return true
	}
	return false
}
