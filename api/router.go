package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"pdfextract/config"
	"pdfextract/extract"
	"pdfextract/task"
	"pdfextract/worker"
)

func SetupRouter(store task.Store, queue task.Queue, pool *worker.Pool, pipeline *extract.Pipeline, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h := NewHandler(store, queue, pool, pipeline, cfg, log)

	// Unauthenticated surface for load balancers and humans.
	r.GET("/", h.handleRoot)
	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/documents", h.handleSubmitDocument)

		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTask)
		v1.GET("/tasks/:taskId/result", h.handleGetResult)
		v1.DELETE("/tasks/:taskId", h.handleDeleteTask)

		// Operational visibility
		v1.GET("/workers", h.handleWorkerStats)
		v1.GET("/queue", h.handleQueueStatus)
		v1.POST("/queue/clear", h.handleQueueClear)
	}
	return r
}
