package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rnts08/eth-riskradar/internal/analyzer"
	"github.com/rnts08/eth-riskradar/internal/config"
	"github.com/rnts08/eth-riskradar/internal/logging"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/rnts08/eth-riskradar/internal/report"
	"github.com/sirupsen/logrus"
)

// Analyzer is the part of the engine the HTTP surface needs.
type Analyzer interface {
	Analyze(ctx context.Context, chainKey, address string) (*model.RiskResult, error)
	AnalyzeBatch(ctx context.Context, chainKey string, addresses []string, concurrency int, qps float64) []analyzer.BatchItem
}

type riskQuery struct {
	Chain string `form:"chain" binding:"omitempty,oneof=eth bsc"`
}

type batchRequest struct {
	Chain        string   `json:"chain" binding:"omitempty,oneof=eth bsc"`
	Addresses    []string `json:"addresses" binding:"required,min=1"`
	Concurrency  int      `json:"concurrency"`
	EtherscanQPS float64  `json:"etherscan_qps"`
}

func main() {
	configPath := flag.String("config", "", "Optional YAML/JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	logger.WithFields(cfg.Presence()).Info("Environment loaded")

	m := metrics.NewRadarMetrics()
	reg := prometheus.NewRegistry()
	metrics.RegisterMetrics(reg, m)

	opts := analyzer.OptionsFromConfig(cfg)
	opts.Metrics = m
	engine := analyzer.New(opts, logger)
	defer engine.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(engine, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": server.Addr, "environment": cfg.Environment}).Info("API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received, stopping...")
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		return
	}
	logger.Info("Graceful shutdown complete")
}

func newRouter(engine Analyzer, gatherer prometheus.Gatherer, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggingMiddleware(logger))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	api.GET("/risk/:address", riskHandler(engine, logger))
	api.POST("/batch", batchHandler(engine, logger))
	return router
}

func riskHandler(engine Analyzer, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := riskQuery{Chain: "eth"}
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		chainKey := q.Chain
		if chainKey == "" {
			chainKey = "eth"
		}
		addr := c.Param("address")
		res, err := engine.Analyze(c.Request.Context(), chainKey, addr)
		if err != nil {
			logger.WithFields(logrus.Fields{"chain": chainKey, "token": addr}).WithError(err).Warn("Risk request failed")
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func batchHandler(engine Analyzer, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		job := batchRequest{Chain: "eth", Concurrency: 2, EtherscanQPS: 4}
		if err := c.ShouldBindJSON(&job); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		if job.Chain == "" {
			job.Chain = "eth"
		}

		batchID := uuid.New().String()
		log := logger.WithFields(logrus.Fields{"batch_id": batchID, "chain": job.Chain})
		log.WithFields(logrus.Fields{"count": len(job.Addresses), "concurrency": job.Concurrency, "qps": job.EtherscanQPS}).Info("Batch accepted")

		items := engine.AnalyzeBatch(c.Request.Context(), job.Chain, job.Addresses, analyzer.ClampConcurrency(job.Concurrency), job.EtherscanQPS)
		results := make([]report.Entry, len(items))
		for i, it := range items {
			results[i] = report.Entry{Chain: job.Chain, Address: it.Address, Result: it.Result, Err: it.Err}
		}
		log.WithField("count", len(results)).Info("Batch completed")
		c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "count": len(results), "results": results})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func loggingMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"ip":      c.ClientIP(),
			"latency": time.Since(start),
		}).Info("HTTP request")
	}
}
