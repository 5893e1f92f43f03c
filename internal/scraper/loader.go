package scraper

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
)

// SaveRaw 把抓取结果落盘到原始数据目录,文件名由 URL 导出。
// 先落盘再摄取,抓取与建库两个阶段可以独立重跑。
func SaveRaw(doc *rag.SourceDocument, folder string) (string, error) {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("创建原始数据目录失败: %w", err)
	}
	name := fileNameFromURL(doc.ID)
	path := filepath.Join(folder, name)
	if err := os.WriteFile(path, doc.Raw, 0o644); err != nil {
		return "", fmt.Errorf("写入原始文件失败: %w", err)
	}
	return path, nil
}

// fileNameFromURL URL 转安全文件名
func fileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	name := raw
	if err == nil {
		name = u.Host + u.Path
	}
	replacer := strings.NewReplacer("/", "_", ":", "_", "?", "_", "&", "_", "=", "_", "%", "_")
	name = strings.Trim(replacer.Replace(name), "_")
	if name == "" {
		name = "page"
	}
	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	return name
}

// LoadRawFolder 读取抓取落盘的 HTML 文件,作为 web 来源文档。
// 文档 ID 使用文件路径,与抓取直送保持同一幂等键空间需要调用方自行对齐。
func LoadRawFolder(ctx context.Context, folder string) ([]*rag.SourceDocument, error) {
	return loadFolder(ctx, folder, []string{".html", ".htm"}, rag.ProvenanceWeb)
}

// LoadPDFFolder 读取目录下的 PDF 文件
func LoadPDFFolder(ctx context.Context, folder string, provenance rag.Provenance) ([]*rag.SourceDocument, error) {
	return loadFolder(ctx, folder, []string{".pdf"}, provenance)
}

func loadFolder(ctx context.Context, folder string, exts []string, provenance rag.Provenance) ([]*rag.SourceDocument, error) {
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithContext(ctx).Warn("数据目录不存在,跳过", zap.String("folder", folder))
			return nil, nil
		}
		return nil, fmt.Errorf("访问目录 %s 失败: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", folder)
	}

	var docs []*rag.SourceDocument
	err = filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExt(path, exts) {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取 %s 失败: %w", path, err)
		}
		docs = append(docs, &rag.SourceDocument{
			ID:         path,
			Provenance: provenance,
			Raw:        raw,
			FetchedAt:  time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
