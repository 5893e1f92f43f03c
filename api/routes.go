package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/api/handlers/documents"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/api/handlers/qa"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/infra/queue"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/metrics"
)

// SetupRouter 组装路由与中间件
func SetupRouter(qaService qa.Service, queueClient queue.Client) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), TraceID(), RequestLogger(), CORS(), metrics.PrometheusMiddleware())

	qaHandler := qa.NewHandler(qaService)
	docHandler := documents.NewHandler(queueClient)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/chat", qaHandler.Chat)
		apiGroup.POST("/search", qaHandler.Search)
		apiGroup.GET("/stats", qaHandler.Stats)
		apiGroup.GET("/health", qaHandler.Health)

		docGroup := apiGroup.Group("/documents")
		{
			docGroup.POST("/ingest-url", docHandler.IngestURL)
			docGroup.POST("/ingest-file", docHandler.IngestFile)
		}
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
