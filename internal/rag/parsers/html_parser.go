package parsers

import (
	"fmt"
	"io"
	"regexp"
	"strings"
)

// HTMLParser 网页解析器,提取正文并清洗为纯文本。
// 网页视作单页文档。
type HTMLParser struct{}

// NewHTMLParser 创建 HTML 解析器
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// Formats 支持的格式
func (p *HTMLParser) Formats() []string {
	return []string{"html"}
}

// Parse 解析 HTML 文档
func (p *HTMLParser) Parse(reader io.Reader) ([]Page, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	html := string(data)
	content := extractMainContent(html)
	text := cleanHTML(content)

	return []Page{{Number: 1, Text: text}}, nil
}

var (
	scriptRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRegex   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	chromeRegex  = regexp.MustCompile(`(?is)<(nav|header|footer|aside|noscript)[^>]*>.*?</(nav|header|footer|aside|noscript)>`)
	commentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockRegex   = regexp.MustCompile(`(?i)</(p|div|section|h[1-6]|li|tr|br|hr)[^>]*>`)
	tagRegex     = regexp.MustCompile(`<[^>]+>`)
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	newlineRegex = regexp.MustCompile(`\n\s*\n+`)
	numEntRegex  = regexp.MustCompile(`&#(\d+);`)
	hexEntRegex  = regexp.MustCompile(`&#x([0-9a-fA-F]+);`)
)

// extractMainContent 优先提取 main/article/body 标签内容
func extractMainContent(html string) string {
	for _, tag := range []string{"main", "article", "body"} {
		pattern := `(?is)<` + tag + `[^>]*>(.*?)</` + tag + `>`
		if match := regexp.MustCompile(pattern).FindStringSubmatch(html); len(match) > 1 {
			return match[1]
		}
	}
	return html
}

// cleanHTML 去除标签与页面装饰,保留正文段落结构
func cleanHTML(html string) string {
	html = scriptRegex.ReplaceAllString(html, "")
	html = styleRegex.ReplaceAllString(html, "")
	html = chromeRegex.ReplaceAllString(html, "")
	html = commentRegex.ReplaceAllString(html, "")

	// 块级元素转换行,再去掉剩余标签
	html = blockRegex.ReplaceAllString(html, "\n")
	text := tagRegex.ReplaceAllString(html, " ")

	text = decodeEntities(text)

	text = spaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var namedEntities = map[string]string{
	"&amp;":    "&",
	"&lt;":     "<",
	"&gt;":     ">",
	"&quot;":   `"`,
	"&apos;":   "'",
	"&nbsp;":   " ",
	"&mdash;":  "—",
	"&ndash;":  "–",
	"&hellip;": "...",
	"&ldquo;":  "“",
	"&rdquo;":  "”",
	"&lsquo;":  "'",
	"&rsquo;":  "'",
}

// decodeEntities 解码常见 HTML 实体与数字实体
func decodeEntities(s string) string {
	for entity, char := range namedEntities {
		s = strings.ReplaceAll(s, entity, char)
	}

	s = numEntRegex.ReplaceAllStringFunc(s, func(match string) string {
		var num int
		if _, err := fmt.Sscanf(match, "&#%d;", &num); err == nil && num > 0 && num < 0x10FFFF {
			return string(rune(num))
		}
		return match
	})
	s = hexEntRegex.ReplaceAllStringFunc(s, func(match string) string {
		var num int
		if _, err := fmt.Sscanf(match, "&#x%x;", &num); err == nil && num > 0 && num < 0x10FFFF {
			return string(rune(num))
		}
		return match
	})
	return s
}
