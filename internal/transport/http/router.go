package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gaming-ingest/internal/config"
	"go.uber.org/zap"
)

// NewRouter builds the status server for a running pipeline.
func NewRouter(snapshot SnapshotFunc, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, snapshot)
	return r
}
