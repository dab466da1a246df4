package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the HTTP API. gatherer may be nil to omit /metrics.
func NewRouter(backtests *BacktestController, journals *JournalController, gatherer prometheus.Gatherer, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/backtests", backtests.HandleRunBacktest)
		v1.GET("/backtests", backtests.HandleListBacktests)
		v1.GET("/backtests/:id", backtests.HandleGetBacktest)
		v1.GET("/backtests/:id/trades", backtests.HandleGetBacktestTrades)
		v1.GET("/backtests/:id/equity", backtests.HandleGetBacktestEquity)
		v1.GET("/backtests/:id/skips", backtests.HandleGetBacktestSkips)

		if journals != nil {
			v1.GET("/journals", journals.HandleListJournals)
			v1.GET("/journals/:id", journals.HandleGetJournal)
		}
	}

	return router
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("HTTP request")
	}
}
