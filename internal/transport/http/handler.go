package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/gaming-ingest/internal/metrics"
)

// SnapshotFunc returns the live tally of the running pipeline.
type SnapshotFunc func() metrics.Summary

func RegisterHandlers(r *gin.Engine, snapshot SnapshotFunc) {
	r.GET("/healthz", healthHandler())
	v1 := r.Group("/v1")
	{
		v1.GET("/metrics", metricsHandler(snapshot))
	}
}

func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type metricsResp struct {
	metrics.Summary
	Total          int64   `json:"total"`
	AvgTransaction string  `json:"avg_transaction"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func metricsHandler(snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := snapshot()
		c.JSON(http.StatusOK, metricsResp{
			Summary:        s,
			Total:          s.Total(),
			AvgTransaction: s.AvgTransaction().StringFixed(2),
			ElapsedSeconds: s.Elapsed.Seconds(),
		})
	}
}
