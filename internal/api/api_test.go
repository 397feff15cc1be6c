package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/navid-fn/tickrelay/internal/alerts"
	"github.com/navid-fn/tickrelay/internal/drivers/relay"
	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/storage"
)

type fakeIngest struct {
	paused atomic.Bool
	latest []models.Trade
}

func (f *fakeIngest) Pause()                 { f.paused.Store(true) }
func (f *fakeIngest) Resume()                { f.paused.Store(false) }
func (f *fakeIngest) Paused() bool           { return f.paused.Load() }
func (f *fakeIngest) Dropped() uint64        { return 3 }
func (f *fakeIngest) Latest() []models.Trade { return f.latest }

type fakeSessions struct {
	served atomic.Int32
}

func (f *fakeSessions) Serve(_ context.Context, conn *websocket.Conn) error {
	f.served.Add(1)
	defer conn.Close()
	return conn.WriteJSON(map[string]string{"hello": "client"})
}

func (f *fakeSessions) Count() int { return int(f.served.Load()) }

type fixture struct {
	router   http.Handler
	engine   *alerts.Engine
	store    *storage.MemoryStore
	ingest   *fakeIngest
	sessions *fakeSessions
}

func newFixture(t *testing.T, limit rate.Limit, burst int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	engine := alerts.NewEngine(store, alerts.Notifiers{}, logger)
	hub := feed.NewHub(func() *feed.Feed {
		return feed.New(relay.New(), feed.Config{URL: "ws://127.0.0.1:1/ws"})
	})
	fx := &fixture{
		engine:   engine,
		store:    store,
		ingest:   &fakeIngest{latest: []models.Trade{{Exchange: "Bybit", Base: "BTC", Quote: "USDT", Side: models.SideBuy, SequenceID: 9}}},
		sessions: &fakeSessions{},
	}
	fx.router = NewRouter(&Config{
		Engine:    engine,
		Ingest:    fx.ingest,
		Sessions:  fx.sessions,
		Hub:       hub,
		Logger:    logger,
		RateLimit: limit,
		RateBurst: burst,
	})
	return fx
}

func (fx *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func TestHealthSetsRequestID(t *testing.T) {
	fx := newFixture(t, 0, 0)

	w := fx.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeaderKey))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeaderKey, "given")
	w = httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	assert.Equal(t, "given", w.Header().Get(RequestIDHeaderKey))
}

func TestCreateRuleLifecycle(t *testing.T) {
	fx := newFixture(t, 0, 0)

	w := fx.do(http.MethodPost, "/v1/alerts/rules", `{"label":"BTC 95k","symbol":"btc","condition":"price_above","threshold":95000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, "BTC", rule.Symbol)
	assert.True(t, rule.Active, "rules default to active")
	assert.Equal(t, models.FilterAll, rule.Side)

	w = fx.do(http.MethodPost, "/v1/alerts/rules/"+rule.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, fx.engine.Rules()[0].Active)

	w = fx.do(http.MethodGet, "/v1/alerts/rules", "")
	var rules []models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
	assert.Len(t, rules, 1)

	w = fx.do(http.MethodDelete, "/v1/alerts/rules/"+rule.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, fx.engine.Rules())
	assert.Equal(t, 3, fx.store.Saves())
}

func TestCreateRuleRejects(t *testing.T) {
	fx := newFixture(t, 0, 0)

	cases := map[string]string{
		"zero threshold":     `{"symbol":"BTC","condition":"price_above","threshold":0}`,
		"negative threshold": `{"symbol":"BTC","condition":"price_above","threshold":-5}`,
		"unknown condition":  `{"symbol":"BTC","condition":"sideways","threshold":1}`,
		"missing symbol":     `{"condition":"price_above","threshold":1}`,
		"not json":           `nope`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := fx.do(http.MethodPost, "/v1/alerts/rules", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Zero(t, fx.store.Saves())
}

func TestCreateRuleStoreFailure(t *testing.T) {
	fx := newFixture(t, 0, 0)
	fx.store.SetFailSave(errors.New("disk full"))

	w := fx.do(http.MethodPost, "/v1/alerts/rules", `{"symbol":"BTC","condition":"price_above","threshold":1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUnknownRuleIsNotFound(t *testing.T) {
	fx := newFixture(t, 0, 0)

	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodDelete, "/v1/alerts/rules/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodPost, "/v1/alerts/rules/missing/toggle", "").Code)
}

func TestTriggeredListAndClear(t *testing.T) {
	fx := newFixture(t, 0, 0)
	ctx := context.Background()

	_, err := fx.engine.AddRule(ctx, models.RuleSpec{Symbol: "BTC", Condition: models.PriceAbove, Threshold: 95000, Active: true})
	require.NoError(t, err)
	fx.engine.Evaluate(ctx, models.Trade{Exchange: "Bybit", Base: "BTC", Quote: "USDT", Side: models.SideBuy, SequenceID: 1, Price: 95001})

	w := fx.do(http.MethodGet, "/v1/alerts/triggered", "")
	var got []models.TriggeredAlert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 95001.0, got[0].Trade.Price)

	assert.Equal(t, http.StatusNoContent, fx.do(http.MethodDelete, "/v1/alerts/triggered", "").Code)
	assert.Empty(t, fx.engine.Triggered())
}

func TestStatusAndPause(t *testing.T) {
	fx := newFixture(t, 0, 0)

	w := fx.do(http.MethodPost, "/v1/feed/pause", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, fx.ingest.Paused())

	w = fx.do(http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, feed.StateIdle.String(), st.Upstream)
	assert.True(t, st.IngestPaused)
	assert.Equal(t, uint64(3), st.IngestDropped)

	fx.do(http.MethodPost, "/v1/feed/resume", "")
	assert.False(t, fx.ingest.Paused())

	w = fx.do(http.MethodGet, "/v1/trades/recent", "")
	var recent []models.Trade
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, int64(9), recent[0].SequenceID)
}

func TestRateLimitPerIP(t *testing.T) {
	fx := newFixture(t, rate.Every(time.Hour), 2)

	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/v1/status", "").Code)
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/v1/status", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, fx.do(http.MethodGet, "/v1/status", "").Code)

	// outside /v1 is not limited
	assert.Equal(t, http.StatusOK, fx.do(http.MethodGet, "/health", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	fx := newFixture(t, 0, 0)
	w := fx.do(http.MethodOptions, "/v1/alerts/rules", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)

	w = fx.do(http.MethodGet, "/health", "")
	assert.Equal(t, RequestIDHeaderKey, w.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestAccessLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestIDMiddleware(), accessLogMiddleware(logger))
	r.GET("/v1/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	req := httptest.NewRequest(http.MethodGet, "/v1/bad", nil)
	req.Header.Set(RequestIDHeaderKey, "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "request_id=req-42")
	assert.Contains(t, out, "status=400")
	assert.Contains(t, out, "path=/v1/bad")
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	l := newIPRateLimiter(rate.Limit(1), 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	l.lastSweep = now

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.Len(t, l.visitors, 2)

	now = now.Add(limiterIdleTTL / 2)
	assert.True(t, l.allow("10.0.0.2"))
	assert.Len(t, l.visitors, 2, "no sweep before the TTL elapses")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Len(t, l.visitors, 2, "idle client is forgotten, recent one kept")
	assert.NotContains(t, l.visitors, "10.0.0.1")
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestRateLimiterTTLCoversRefill(t *testing.T) {
	l := newIPRateLimiter(rate.Every(time.Hour), 2)
	assert.InDelta(t, float64(2*time.Hour), float64(l.idleTTL), float64(time.Millisecond))

	l = newIPRateLimiter(rate.Limit(20), 40)
	assert.Equal(t, limiterIdleTTL, l.idleTTL)
}

func TestWebsocketUpgradeServesSession(t *testing.T) {
	fx := newFixture(t, 0, 0)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "client", msg["hello"])
	assert.Equal(t, 1, fx.sessions.Count())
}

func TestStreamEmitsTriggeredAlerts(t *testing.T) {
	fx := newFixture(t, 0, 0)
	srv := httptest.NewServer(fx.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := fx.engine.AddRule(ctx, models.RuleSpec{Symbol: "BTC", Condition: models.PriceAbove, Threshold: 1, Active: true})
	require.NoError(t, err)

	// keep triggering until the subscriber is attached and an event arrives
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for seq := int64(1); ; seq++ {
			select {
			case <-done:
				return
			case <-ticker.C:
				fx.engine.Evaluate(context.Background(), models.Trade{
					Exchange: "Bybit", Base: "BTC", Quote: "USDT",
					Side: models.SideBuy, SequenceID: seq, Price: 2,
				})
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/alerts/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event:alert" {
			require.True(t, scanner.Scan())
			data := strings.TrimPrefix(scanner.Text(), "data:")
			var alert models.TriggeredAlert
			require.NoError(t, json.Unmarshal([]byte(data), &alert))
			assert.Equal(t, models.PriceAbove, alert.Condition)
			return
		}
	}
	t.Fatalf("stream ended without an alert: %v", scanner.Err())
}
