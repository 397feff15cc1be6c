package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/internal/models"
)

const (
	streamBuffer    = 32
	streamKeepAlive = 15 * time.Second
)

type AlertHandler struct {
	engine RuleEngine
	logger *slog.Logger
}

func NewAlertHandler(engine RuleEngine, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{engine: engine, logger: logger}
}

// ruleRequest mirrors models.RuleSpec but defaults Active to true.
type ruleRequest struct {
	Label     string            `json:"label"`
	Symbol    string            `json:"symbol"`
	Condition models.Condition  `json:"condition"`
	Threshold float64           `json:"threshold"`
	Side      models.SideFilter `json:"side"`
	Active    *bool             `json:"active"`
}

func (r ruleRequest) spec() models.RuleSpec {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return models.RuleSpec{
		Label:     r.Label,
		Symbol:    r.Symbol,
		Condition: r.Condition,
		Threshold: r.Threshold,
		Side:      r.Side,
		Active:    active,
	}
}

func (h *AlertHandler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Rules())
}

func (h *AlertHandler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Threshold <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be greater than zero"})
		return
	}

	rule, err := h.engine.AddRule(c.Request.Context(), req.spec())
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidRule) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		requestLogger(c, h.logger).Error("Failed to add rule", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AlertHandler) DeleteRule(c *gin.Context) {
	found, err := h.engine.RemoveRule(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, found, err)
}

func (h *AlertHandler) ToggleRule(c *gin.Context) {
	found, err := h.engine.ToggleRule(c.Request.Context(), c.Param("id"))
	h.respondMutation(c, found, err)
}

func (h *AlertHandler) respondMutation(c *gin.Context, found bool, err error) {
	switch {
	case err != nil:
		requestLogger(c, h.logger).Error("Failed to update rule", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save rules"})
	case !found:
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
	default:
		c.JSON(http.StatusOK, h.engine.Rules())
	}
}

func (h *AlertHandler) ListTriggered(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Triggered())
}

func (h *AlertHandler) ClearTriggered(c *gin.Context) {
	h.engine.ClearTriggered()
	c.Status(http.StatusNoContent)
}

// Stream pushes each triggered alert as an "alert" server-sent event.
// Alerts are dropped for a client that falls behind.
func (h *AlertHandler) Stream(c *gin.Context) {
	events := make(chan models.TriggeredAlert, streamBuffer)
	unsubscribe := h.engine.Subscribe(func(ch alerts.Change) {
		if ch.Kind != alerts.AlertTriggered || ch.Alert == nil {
			return
		}
		select {
		case events <- *ch.Alert:
		default:
		}
	})
	defer unsubscribe()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case alert := <-events:
			c.SSEvent("alert", alert)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
}
