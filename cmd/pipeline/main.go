package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/app"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/config"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/scraper"
)

// 知识库构建命令行。四种模式:
//
//	scrape  抓取网页并落盘到原始数据目录
//	pdf     摄取 PDF 目录
//	build   摄取落盘的网页原始数据 + PDF 目录
//	full    scrape 之后执行 build
func main() {
	var (
		mode          = flag.String("mode", "full", "运行模式: scrape | pdf | build | full")
		envName       = flag.String("env", envOr("APP_ENV", "dev"), "环境名称")
		configPath    = flag.String("config", "", "配置文件路径(可选)")
		urls          = flag.String("urls", "", "逗号分隔的抓取 URL,覆盖配置")
		scannedFolder = flag.String("scanned-folder", "", "扫描件 PDF 目录(按 pdf-scanned 来源摄取)")
		strict        = flag.Bool("strict", false, "严格模式:首个致命错误即中止")
		rebuild       = flag.Bool("rebuild", false, "清空索引后整批重建")
	)
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		fmt.Println("已加载 .env 文件")
	}

	cfg, err := config.Load(*envName, *configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *strict {
		cfg.Ingest.Strict = true
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := app.Build(cfg)
	if err != nil {
		logger.Fatal("装配组件失败", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()

	switch *mode {
	case "scrape":
		runScrape(ctx, components, scrapeURLs(cfg, *urls))

	case "pdf":
		docs := loadPDFs(ctx, cfg, *scannedFolder)
		ingest(ctx, components, docs, *rebuild)

	case "build":
		docs := loadAll(ctx, cfg, *scannedFolder)
		ingest(ctx, components, docs, *rebuild)

	case "full":
		runScrape(ctx, components, scrapeURLs(cfg, *urls))
		docs := loadAll(ctx, cfg, *scannedFolder)
		ingest(ctx, components, docs, *rebuild)

	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(2)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func scrapeURLs(cfg *config.Config, override string) []string {
	if override != "" {
		var out []string
		for _, u := range strings.Split(override, ",") {
			if u = strings.TrimSpace(u); u != "" {
				out = append(out, u)
			}
		}
		return out
	}
	return cfg.Ingest.ScrapeURLs
}

// runScrape 抓取并落盘,抓取与建库解耦,便于分阶段重跑
func runScrape(ctx context.Context, c *app.Components, urls []string) {
	if len(urls) == 0 {
		logger.Info("没有配置抓取 URL,跳过 scrape")
		return
	}
	docs := c.Scraper.FetchAll(ctx, urls)
	saved := 0
	for _, doc := range docs {
		path, err := scraper.SaveRaw(doc, c.Config.Ingest.RawDataFolder)
		if err != nil {
			logger.Error("落盘失败", zap.String("url", doc.ID), zap.Error(err))
			continue
		}
		logger.Info("已落盘", zap.String("url", doc.ID), zap.String("path", path))
		saved++
	}
	fmt.Printf("抓取完成: %d/%d 个页面已落盘\n", saved, len(urls))
}

func loadPDFs(ctx context.Context, cfg *config.Config, scannedFolder string) []*rag.SourceDocument {
	var docs []*rag.SourceDocument
	for _, folder := range cfg.Ingest.PDFFolders {
		loaded, err := scraper.LoadPDFFolder(ctx, folder, rag.ProvenancePDFNative)
		if err != nil {
			logger.Fatal("读取 PDF 目录失败", zap.String("folder", folder), zap.Error(err))
		}
		docs = append(docs, loaded...)
	}
	if scannedFolder != "" {
		loaded, err := scraper.LoadPDFFolder(ctx, scannedFolder, rag.ProvenancePDFScanned)
		if err != nil {
			logger.Fatal("读取扫描件目录失败", zap.String("folder", scannedFolder), zap.Error(err))
		}
		docs = append(docs, loaded...)
	}
	return docs
}

func loadAll(ctx context.Context, cfg *config.Config, scannedFolder string) []*rag.SourceDocument {
	docs, err := scraper.LoadRawFolder(ctx, cfg.Ingest.RawDataFolder)
	if err != nil {
		logger.Fatal("读取原始数据目录失败", zap.Error(err))
	}
	return append(docs, loadPDFs(ctx, cfg, scannedFolder)...)
}

func ingest(ctx context.Context, c *app.Components, docs []*rag.SourceDocument, rebuild bool) {
	if len(docs) == 0 {
		fmt.Println("没有待摄取的文档")
		return
	}

	var summary *rag.BatchSummary
	var err error
	if rebuild {
		summary, err = c.Pipeline.Rebuild(ctx, docs)
	} else {
		summary, err = c.Pipeline.IngestBatch(ctx, docs)
	}

	if summary != nil {
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		logger.Fatal("摄取中止", zap.Error(err))
	}
}
