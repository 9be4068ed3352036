package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/internal/service"
)

// Deps are the collaborators the HTTP layer needs. History may be nil when no
// archive is configured; the history routes are then not registered.
type Deps struct {
	Registry *service.Registry
	History  *service.History
	Run      service.RunFunc
	Gatherer prometheus.Gatherer
	Sources  func() []string
	Logger   *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{
		registry: d.Registry,
		history:  d.History,
		run:      d.Run,
		sources:  d.Sources,
		logger:   logger,
		started:  time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), accessLog(logger))

	router.GET("/health", h.health)
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		analyses := v1.Group("/analyses")
		{
			analyses.POST("", h.startAnalysis)
			analyses.GET("", h.listAnalyses)
			analyses.GET("/:id", h.getAnalysis)
			analyses.DELETE("/:id", h.deleteAnalysis)
		}
		if d.History != nil {
			v1.GET("/history", h.listHistory)
			v1.GET("/history/:id", h.getHistory)
		}
	}
	return router
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
