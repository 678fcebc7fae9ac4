package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

// HandlerConfig controls heartbeat timing for dashboard connections
type HandlerConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultHandlerConfig mirrors the classroom-tested heartbeat: ping every 30s,
// drop the socket after 60s without a pong
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: defaultWriteTimeout,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: dashboards are served from other origins during development
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades teacher dashboard requests into live roster feeds
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session -> ownership -> upgrade)
// keeps invalid requests from consuming a WebSocket
type Handler struct {
	registry *Registry
	sessions interfaces.SessionManager
	engine   interfaces.AttendanceEngine
	config   HandlerConfig
}

// NewHandler creates a new WebSocket handler
func NewHandler(registry *Registry, sessions interfaces.SessionManager, engine interfaces.AttendanceEngine, config HandlerConfig) *Handler {
	if config.PingInterval <= 0 || config.ReadTimeout <= 0 || config.WriteTimeout <= 0 {
		config = DefaultHandlerConfig()
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		engine:   engine,
		config:   config,
	}
}

// HandleWebSocket serves GET /ws?session_id=&teacher_id=
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	teacherID := r.URL.Query().Get("teacher_id")

	if sessionID == "" || teacherID == "" {
		http.Error(w, "Missing required query parameters: session_id, teacher_id", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, types.ErrValidation):
			http.Error(w, "Invalid session_id", http.StatusBadRequest)
		default:
			log.Printf("WebSocket session lookup failed: session=%s err=%v", sessionID, err)
			http.Error(w, "Session validation failed", http.StatusInternalServerError)
		}
		return
	}

	// no authentication, the teacher ID is a scoping check only
	if session.TeacherID != teacherID {
		http.Error(w, "Session belongs to another teacher", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := newConnection(conn, session.ID, teacherID, h.config.WriteTimeout)

	// FUNCTIONAL DISCOVERY: register before the snapshot so no event published
	// in between is lost; clients de-duplicate by record id
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}
	log.Printf("Dashboard connected: conn=%s session=%s teacher=%s", wsConn.ID(), session.ID, teacherID)

	go h.sendRosterSnapshot(wsConn)
	go h.handleConnection(wsConn)
}

// sendRosterSnapshot sends the session's current records to a new dashboard
func (h *Handler) sendRosterSnapshot(conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := h.engine.ListForSession(ctx, conn.SessionID())
	if err != nil {
		log.Printf("Failed to load roster for session %s: %v", conn.SessionID(), err)
		records = []*types.AttendanceRecord{}
	}

	snapshot := &types.Event{
		Type:      types.EventRosterSnapshot,
		SessionID: conn.SessionID(),
		Roster:    records,
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		log.Printf("Failed to send roster snapshot: conn=%s err=%v", conn.ID(), err)
	}
}

// handleConnection runs the heartbeat and read pump until the client goes away
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles reading,
// a ticker goroutine handles pings
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Dashboard disconnected: conn=%s session=%s", conn.ID(), conn.SessionID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.config.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// the feed is server-to-client; inbound frames are read only to service
	// control frames and detect disconnects
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}
