package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/config"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/rag"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/scraper"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/worker/handlers"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/worker/tasks"
)

// Server 后台任务服务器,消费摄取队列
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建任务服务器
func NewServer(
	cfg config.RedisConfig,
	pipeline *rag.Pipeline,
	sc *scraper.Scraper,
	logger *zap.Logger,
) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			// 摄取任务内部已有文档级并发,任务级并发保持保守
			Concurrency: 4,
			Queues: map[string]int{
				"ingest":  3,
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()
	ingestHandler := handlers.NewIngestHandler(pipeline, sc, logger)
	mux.HandleFunc(tasks.TypeIngestURL, ingestHandler.HandleIngestURL)
	mux.HandleFunc(tasks.TypeIngestFile, ingestHandler.HandleIngestFile)

	return &Server{server: srv, mux: mux, logger: logger}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("任务服务器启动中")
	return s.server.Start(s.mux)
}

// Shutdown 停止任务服务器
func (s *Server) Shutdown() {
	s.logger.Info("任务服务器停止中")
	s.server.Shutdown()
}
