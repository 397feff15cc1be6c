// Package session serves downstream websocket clients. Each session holds a
// hub reference for its lifetime and forwards trades through its own
// per-symbol throttle and pause gate.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/navid-fn/tickrelay/internal/feed"
	"github.com/navid-fn/tickrelay/internal/models"
	"github.com/navid-fn/tickrelay/internal/throttle"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	DefaultQueueSize = 256
	controlReadLimit = 4096
)

type Config struct {
	ThrottleInterval time.Duration
	QueueSize        int
}

// controlMessage is sent by clients as {"type":"PAUSE"} or {"type":"RESUME"}.
type controlMessage struct {
	Type string `json:"type"`
}

type Session struct {
	ID string

	conn     *websocket.Conn
	throttle *throttle.Throttle
	out      chan models.Trade
	logger   *slog.Logger
	paused   atomic.Bool
	dropped  atomic.Uint64
}

func newSession(conn *websocket.Conn, cfg Config, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		conn:     conn,
		throttle: throttle.New(cfg.ThrottleInterval),
		out:      make(chan models.Trade, cfg.QueueSize),
		logger:   logger.With("session", id),
	}
}

func (s *Session) Paused() bool { return s.paused.Load() }

// Dropped counts trades lost to a full outbound queue.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// offer is the feed sink: pause gate, then throttle, then enqueue.
func (s *Session) offer(trade models.Trade) {
	if s.paused.Load() {
		return
	}
	if !s.throttle.Allow(trade.Base) {
		return
	}
	select {
	case s.out <- trade:
	default:
		s.dropped.Add(1)
	}
}

func (s *Session) run(ctx context.Context, hub *feed.Hub) error {
	upstream, release := hub.Acquire()
	removeSink := upstream.AddSink(s.offer)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(stop)
	}()

	unwatch := context.AfterFunc(ctx, func() { s.conn.Close() })
	err := s.readLoop()
	unwatch()

	removeSink()
	release()
	close(stop)
	<-writerDone
	s.conn.Close()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) readLoop() error {
	s.conn.SetReadLimit(controlReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Debug("Ignored client message", "error", err)
			continue
		}
		switch strings.ToUpper(msg.Type) {
		case "PAUSE":
			s.paused.Store(true)
			s.logger.Info("Session paused")
		case "RESUME":
			s.paused.Store(false)
			s.logger.Info("Session resumed")
		default:
			s.logger.Debug("Ignored client message", "type", msg.Type)
		}
	}
}

func (s *Session) writeLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case trade := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(trade); err != nil {
				s.logger.Warn("Client write failed", "error", err)
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

// Info is a snapshot of one session for status reporting.
type Info struct {
	ID      string `json:"id"`
	Paused  bool   `json:"paused"`
	Dropped uint64 `json:"dropped"`
}

// Manager tracks live sessions sharing one upstream hub.
type Manager struct {
	hub    *feed.Hub
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(hub *feed.Hub, cfg Config, logger *slog.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = throttle.DefaultInterval
	}
	return &Manager{
		hub:      hub,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Serve runs a session on conn and blocks until the client goes away or
// ctx is cancelled. The upstream reference is released before it returns.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn) error {
	s := newSession(conn, m.cfg, m.logger)

	m.mu.Lock()
	m.sessions[s.ID] = s
	total := len(m.sessions)
	m.mu.Unlock()
	s.logger.Info("Client connected", "remote", conn.RemoteAddr().String(), "sessions", total)

	err := s.run(ctx, m.hub)

	m.mu.Lock()
	delete(m.sessions, s.ID)
	total = len(m.sessions)
	m.mu.Unlock()
	s.logger.Info("Client disconnected", "sessions", total, "dropped", s.Dropped())

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil
	}
	return err
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{ID: s.ID, Paused: s.Paused(), Dropped: s.Dropped()})
	}
	return out
}
