package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mofadvisor/internal/middleware"
)

type RouterDeps struct {
	Suggest          *SuggestHandler
	Ingest           *IngestHandler
	Properties       *PropertiesHandler
	SuggestRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/properties", deps.Properties.Get)
	api.POST("/suggest", middleware.RateLimit(deps.SuggestRateLimit), deps.Suggest.Suggest)

	ingest := api.Group("/ingest")
	ingest.POST("/run", deps.Ingest.Run)
	ingest.POST("/upload", deps.Ingest.Upload)
	ingest.GET("/status", deps.Ingest.Status)
	ingest.GET("/documents", deps.Ingest.Documents)
	ingest.GET("/entries", deps.Ingest.Entries)
}
