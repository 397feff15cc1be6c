package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// downstream clients are unauthenticated
	CheckOrigin: func(r *http.Request) bool { return true },
}

type FeedHandler struct {
	hub      *feed.Hub
	ingest   Ingest
	sessions Sessions
	engine   RuleEngine
	health   HealthReporter
	logger   *slog.Logger
}

func NewFeedHandler(hub *feed.Hub, ingest Ingest, sessions Sessions, engine RuleEngine, health HealthReporter, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{hub: hub, ingest: ingest, sessions: sessions, engine: engine, health: health, logger: logger}
}

func (h *FeedHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Upstream      string `json:"upstream"`
	UpstreamRefs  int    `json:"upstreamRefs"`
	Sessions      int    `json:"sessions"`
	IngestPaused  bool   `json:"ingestPaused"`
	IngestDropped uint64 `json:"ingestDropped"`
	Rules         int    `json:"rules"`
	Triggered     int    `json:"triggered"`

	Dependencies []faulttolerance.CheckResult `json:"dependencies,omitempty"`
}

func (h *FeedHandler) Status(c *gin.Context) {
	resp := statusResponse{
		Upstream:      h.hub.State().String(),
		UpstreamRefs:  h.hub.Refs(),
		Sessions:      h.sessions.Count(),
		IngestPaused:  h.ingest.Paused(),
		IngestDropped: h.ingest.Dropped(),
		Rules:         len(h.engine.Rules()),
		Triggered:     len(h.engine.Triggered()),
	}
	if h.health != nil {
		resp.Dependencies = h.health.Checks()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FeedHandler) RecentTrades(c *gin.Context) {
	c.JSON(http.StatusOK, h.ingest.Latest())
}

// Pause and Resume are applied by the worker asynchronously.
func (h *FeedHandler) Pause(c *gin.Context) {
	h.ingest.Pause()
	c.JSON(http.StatusAccepted, gin.H{"paused": true})
}

func (h *FeedHandler) Resume(c *gin.Context) {
	h.ingest.Resume()
	c.JSON(http.StatusAccepted, gin.H{"paused": false})
}

func (h *FeedHandler) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	if err := h.sessions.Serve(c.Request.Context(), conn); err != nil {
		h.logger.Warn("Session ended with error", "error", err)
	}
}
