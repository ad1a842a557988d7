package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/abhisek/foresight/internal/metrics"
)

const requestIDKey = "request_id"

// RegisterRoutes mounts the detection API on rg.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	learners := rg.Group("/learners/:id")
	{
		learners.POST("/predictions", h.HandleGenerate)
		learners.GET("/predictions", h.HandleListPredictions)
		learners.GET("/interventions", h.HandleListInterventions)
		learners.GET("/reduction", h.HandleReduction)
		learners.GET("/alerts", h.HandleAlerts)
		learners.POST("/objectives/:oid/refresh", h.HandleOnDemand)
	}

	predictions := rg.Group("/predictions/:id")
	{
		predictions.GET("", h.HandleGetPrediction)
		predictions.POST("/feedback", h.HandleFeedback)
	}

	interventions := rg.Group("/interventions/:id")
	{
		interventions.POST("/apply", h.HandleApply)
		interventions.POST("/complete", h.HandleComplete)
		interventions.POST("/dismiss", h.HandleDismiss)
	}

	rg.GET("/model/performance", h.HandlePerformance)
	if h.retrain != nil {
		rg.POST("/model/retrain", h.HandleRetrain)
	}
	rg.GET("/reduction", h.HandleReduction)
	rg.POST("/sessions/:id/check", h.HandleSessionCheck)
	rg.POST("/outcomes", h.HandleOutcome)
}

// NewRouter builds the engine with health, metrics and the /v1 API.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	RegisterRoutes(router.Group("/v1"), h)
	return router
}

// requestLogger assigns a request id and logs one line per request.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := getOrCreateRequestID(c)
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"route":      c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request served")
			return
		}
		entry.Debug("request served")
	}
}
