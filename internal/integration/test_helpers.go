package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"geoattend/internal/api"
	"geoattend/internal/attendance"
	"geoattend/internal/database"
	"geoattend/internal/hub"
	"geoattend/internal/session"
	"geoattend/internal/websocket"
	dbconfig "geoattend/pkg/database"
	"geoattend/pkg/interfaces"
)

// stack is the whole service wired against a temp-file SQLite database
type stack struct {
	db       *database.Manager
	sessions *session.Manager
	engine   *attendance.Engine
	registry *websocket.Registry
	hub      *hub.Hub
	server   *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "integration.db")

	db, err := database.NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations := dbconfig.NewMigrationManager(db.GetDB(), "")
	require.NoError(t, migrations.ApplyMigrations())
	require.NoError(t, migrations.ValidateSchema())

	registry := websocket.NewRegistry()
	eventHub := hub.NewHub(registry)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eventHub.Start(ctx))
	t.Cleanup(func() {
		_ = eventHub.Stop()
		cancel()
		registry.CloseAll()
	})

	sessions := session.NewManager(db, interfaces.Publishers{eventHub})
	engine := attendance.NewEngine(db, interfaces.Publishers{eventHub})

	wsHandler := websocket.NewHandler(registry, sessions, engine, websocket.DefaultHandlerConfig())
	server := api.NewServer(api.Dependencies{
		Sessions:  sessions,
		Engine:    engine,
		Health:    db,
		Registry:  registry,
		WebSocket: http.HandlerFunc(wsHandler.HandleWebSocket),
	}, api.Config{})

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &stack{
		db:       db,
		sessions: sessions,
		engine:   engine,
		registry: registry,
		hub:      eventHub,
		server:   ts,
	}
}

// call sends a JSON request and decodes a JSON response into out (when non-nil)
func (s *stack) call(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// dashboard opens a teacher live feed
func (s *stack) dashboard(t *testing.T, sessionID, teacherID string) *gorillaws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?session_id=" + sessionID + "&teacher_id=" + teacherID
	conn, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type feedEvent struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId"`
	Record    *recordBody   `json:"record"`
	Roster    []*recordBody `json:"roster"`
	Session   *sessionBody  `json:"session"`
}

func readEvent(t *testing.T, conn *gorillaws.Conn) feedEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event feedEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

// sessionBody and recordBody mirror the wire JSON
type sessionBody struct {
	ID        string `json:"id"`
	TeacherID string `json:"teacherId"`
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	TeacherIP string `json:"teacherIp"`
	IsActive  bool   `json:"isActive"`
}

type recordBody struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	StudentIP   string `json:"studentIp"`
}

type errorBody struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
