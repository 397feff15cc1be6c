// Package api serves the relay's HTTP surface: status, alert rules,
// triggered alerts and the downstream websocket endpoint.
package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/pkg/faulttolerance"
)

const (
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	DefaultRateLimit = rate.Limit(20)
	DefaultRateBurst = 40
)

// RuleEngine is the alert engine surface used by the handlers.
type RuleEngine interface {
	AddRule(ctx context.Context, spec models.RuleSpec) (models.AlertRule, error)
	RemoveRule(ctx context.Context, id string) (bool, error)
	ToggleRule(ctx context.Context, id string) (bool, error)
	Rules() []models.AlertRule
	Triggered() []models.TriggeredAlert
	ClearTriggered()
	Subscribe(fn func(alerts.Change)) (unsubscribe func())
}

// Ingest is the ingestion worker surface used by the handlers.
type Ingest interface {
	Pause()
	Resume()
	Paused() bool
	Dropped() uint64
	Latest() []models.Trade
}

// Sessions runs downstream websocket clients.
type Sessions interface {
	Serve(ctx context.Context, conn *websocket.Conn) error
	Count() int
}

// HealthReporter lists dependency checks for /v1/status.
type HealthReporter interface {
	Checks() []faulttolerance.CheckResult
}

type Config struct {
	Engine   RuleEngine
	Ingest   Ingest
	Sessions Sessions
	Hub      *feed.Hub
	Health   HealthReporter // optional
	Logger   *slog.Logger

	// RateLimit applies per client IP to /v1. Zero uses DefaultRateLimit.
	RateLimit rate.Limit
	RateBurst int
}

// NewRouter builds the gin engine. Websocket handlers run on the request
// context, so the http.Server should set BaseContext to the process context.
func NewRouter(cfg *Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(cfg.Logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	alertHandler := NewAlertHandler(cfg.Engine, cfg.Logger)
	feedHandler := NewFeedHandler(cfg.Hub, cfg.Ingest, cfg.Sessions, cfg.Engine, cfg.Health, cfg.Logger)

	router.GET("/health", feedHandler.Health)
	router.GET("/ws", feedHandler.ServeWS)

	v1 := router.Group("/v1")
	v1.Use(newIPRateLimiter(cfg.RateLimit, cfg.RateBurst).middleware())
	registerAlertRoutes(v1, alertHandler)
	registerFeedRoutes(v1, feedHandler)

	return router
}
