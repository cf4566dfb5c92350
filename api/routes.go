package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aswinpradeepc/llmsearch/api/handlers/documents"
	"github.com/aswinpradeepc/llmsearch/api/handlers/search"
)

// SetupRoutes registers the HTTP surface.
func SetupRoutes(r *gin.Engine, c *AppContainer) {
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware())

	r.GET("/healthz", healthHandler(c))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	searchHandler := search.NewHandler(c.QueryService)
	documentHandler := documents.NewHandler(c.QueueClient, c.DB)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/rag", searchHandler.Query)
		apiGroup.POST("/documents", documentHandler.Ingest)
		apiGroup.GET("/documents/:id", documentHandler.Get)
	}
}

func healthHandler(c *AppContainer) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		components := gin.H{
			"catalog": c.DB != nil,
			"redis":   false,
		}
		if c.Redis != nil {
			components["redis"] = c.Redis.Ping(ctx.Request.Context()).Err() == nil
		}
		ctx.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"components": components,
		})
	}
}
