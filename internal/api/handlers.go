package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/internal/service"
	"github.com/dyike/tradecouncil/models"
)

type handlers struct {
	registry *service.Registry
	history  *service.History
	run      service.RunFunc
	sources  func() []string
	logger   *zap.Logger
	started  time.Time
}

func (h *handlers) health(c *gin.Context) {
	body := gin.H{
		"status":   "ok",
		"sessions": h.registry.Len(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	}
	if h.sources != nil {
		body["data_sources"] = h.sources()
	}
	c.JSON(http.StatusOK, body)
}

func (h *handlers) startAnalysis(c *gin.Context) {
	var params models.AnalysisParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.registry.NewSession(params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.registry.Start(s, h.run); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("analysis accepted",
		zap.String("session", s.ID()),
		zap.String("ticker", s.Ticker()),
		zap.String("trade_date", s.TradeDateString()))
	c.Header("Location", "/v1/analyses/"+s.ID())
	c.JSON(http.StatusAccepted, models.AnalysisStarted{SessionID: s.ID(), Status: s.Status()})
}

func (h *handlers) listAnalyses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.registry.List()})
}

func (h *handlers) getAnalysis(c *gin.Context) {
	snap, err := h.registry.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) deleteAnalysis(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Remove(id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("analysis removed", zap.String("session", id))
	c.JSON(http.StatusOK, gin.H{"status": "cancelled", "session_id": id})
}

func (h *handlers) listHistory(c *gin.Context) {
	var params models.HistoryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.history.List(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handlers) getHistory(c *gin.Context) {
	detail, err := h.history.Detail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
