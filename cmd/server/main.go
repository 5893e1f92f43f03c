package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/api"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/app"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/config"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/infra/queue"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/worker"
)

func main() {
	// 统一加载 .env,集中管理 APP_* 环境变量
	if err := godotenv.Load(); err == nil {
		fmt.Println("已加载 .env 文件")
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("问答服务启动中",
		zap.String("env", env),
		zap.String("index_backend", cfg.Index.Backend),
	)

	components, err := app.Build(cfg)
	if err != nil {
		logger.Fatal("装配组件失败", zap.Error(err))
	}
	defer components.Close()

	// 后台摄取队列依赖 Redis,未启用时 API 退化为只读问答
	var queueClient queue.Client
	var workerServer *worker.Server
	if cfg.Redis.Enabled {
		queueClient = queue.NewClient(cfg.Redis)
		defer queueClient.Close()

		workerServer = worker.NewServer(cfg.Redis, components.Pipeline, components.Scraper, logger.Get())
		if err := workerServer.Start(); err != nil {
			logger.Fatal("任务服务器启动失败", zap.Error(err))
		}
	} else {
		logger.Info("Redis 未启用,后台摄取队列关闭")
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.SetupRouter(components.QAService, queueClient)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	gracefulShutdown(server, workerServer)
}

// gracefulShutdown 等待退出信号,先停任务服务器再停 HTTP
func gracefulShutdown(server *http.Server, workerServer *worker.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号,开始优雅关闭")

	if workerServer != nil {
		workerServer.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务器关闭超时", zap.Error(err))
	}
	logger.Info("服务已退出")
}
