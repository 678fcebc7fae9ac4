package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

const maxBodyBytes = 1 << 20

// HealthChecker reports whether the backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Registry is the slice of the dashboard registry the API reads
type Registry interface {
	GetStats() map[string]int
	SessionConnectionCount(sessionID string) int
}

// RequestObserver records per-request metrics
type RequestObserver interface {
	ObserveRequest(method, route string, code int, elapsed time.Duration)
}

// Dependencies are the components the HTTP layer calls into. Metrics,
// MetricsHandler and WebSocket are optional.
type Dependencies struct {
	Sessions       interfaces.SessionManager
	Engine         interfaces.AttendanceEngine
	Health         HealthChecker
	Registry       Registry
	Metrics        RequestObserver
	MetricsHandler http.Handler
	WebSocket      http.Handler
}

// Config tunes the HTTP layer
type Config struct {
	JoinRateLimit  int           // join attempts per student per window, 0 disables
	JoinRateWindow time.Duration
}

// Server is the HTTP surface over the session manager and attendance engine
// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps        Dependencies
	joinLimiter *RateLimiter
	router      chi.Router
	startedAt   time.Time
}

// NewServer wires the routes
func NewServer(deps Dependencies, config Config) *Server {
	s := &Server{
		deps:        deps,
		joinLimiter: NewRateLimiter(config.JoinRateLimit, config.JoinRateWindow),
		router:      chi.NewRouter(),
		startedAt:   time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// CORS runs before routing so preflight requests never hit a 405
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.healthCheck)
	if s.deps.MetricsHandler != nil {
		r.Handle("/metrics", s.deps.MetricsHandler)
	}
	if s.deps.WebSocket != nil {
		r.Handle("/ws", s.deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.jsonMiddleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)
			r.Get("/{sessionID}", s.getSession)
			r.Put("/{sessionID}/end", s.endSession)
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Post("/", s.markAttendance)
			r.Get("/", s.listAttendance)
			r.Get("/stats", s.statusCounts)
			r.Patch("/{recordID}", s.overrideStatus)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// JoinLimiter exposes the join rate limiter so the application can run its cleanup loop
func (s *Server) JoinLimiter() *RateLimiter {
	return s.joinLimiter
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	TeacherID string `json:"teacherId"`
	Subject   string `json:"subject"`
	TeacherIP string `json:"teacherIp"`
}

type MarkAttendanceRequest struct {
	SessionID   string `json:"sessionId"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	StudentIP   string `json:"studentIp"`
}

type UpdateStatusRequest struct {
	Status types.AttendanceStatus `json:"status"`
}

// SessionResponse adds the number of open dashboards to a session
type SessionResponse struct {
	*types.Session
	Dashboards int `json:"dashboards"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	// FUNCTIONAL DISCOVERY: a teacher starting class from the classroom network
	// may omit the address; the request's own address is the anchor then
	if strings.TrimSpace(req.TeacherIP) == "" {
		req.TeacherIP = clientIP(r)
	}

	session, err := s.deps.Sessions.CreateSession(r.Context(), req.TeacherID, req.Subject, req.TeacherIP)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, session)
}

// GET /api/sessions?teacherId=&active=
// Without teacherId only active sessions are listed.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	teacherID := strings.TrimSpace(r.URL.Query().Get("teacherId"))

	var activeFilter *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.sendError(w, "active must be true or false", http.StatusBadRequest)
			return
		}
		activeFilter = &active
	}

	if teacherID == "" {
		if activeFilter != nil && !*activeFilter {
			s.sendError(w, "teacherId is required to list ended sessions", http.StatusBadRequest)
			return
		}
		sessions, err := s.deps.Sessions.ListActiveSessions(r.Context())
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, sessions)
		return
	}

	sessions, err := s.deps.Sessions.ListSessionsForTeacher(r.Context(), teacherID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if activeFilter != nil {
		filtered := make([]*types.Session, 0, len(sessions))
		for _, session := range sessions {
			if session.IsActive == *activeFilter {
				filtered = append(filtered, session)
			}
		}
		sessions = filtered
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

// GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	response := SessionResponse{Session: session}
	if s.deps.Registry != nil {
		response.Dashboards = s.deps.Registry.SessionConnectionCount(session.ID)
	}
	s.writeJSON(w, http.StatusOK, response)
}

// PUT /api/sessions/{sessionID}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.deps.Sessions.EndSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

// POST /api/attendance
func (s *Server) markAttendance(w http.ResponseWriter, r *http.Request) {
	var req MarkAttendanceRequest
	if !s.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.StudentIP) == "" {
		req.StudentIP = clientIP(r)
	}

	limitKey := strings.TrimSpace(req.StudentID)
	if limitKey == "" {
		limitKey = req.StudentIP
	}
	if !s.joinLimiter.Allow(limitKey) {
		s.sendError(w, "Too many join attempts, try again shortly", http.StatusTooManyRequests)
		return
	}

	record, err := s.deps.Engine.MarkAttendance(r.Context(), req.SessionID, req.StudentID, req.StudentName, req.StudentIP)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// GET /api/attendance?sessionId=&studentId=
func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
	studentID := strings.TrimSpace(r.URL.Query().Get("studentId"))

	var (
		records []*types.AttendanceRecord
		err     error
	)
	switch {
	case sessionID != "":
		records, err = s.deps.Engine.ListForSession(r.Context(), sessionID)
		if err == nil && studentID != "" {
			filtered := make([]*types.AttendanceRecord, 0, 1)
			for _, record := range records {
				if record.StudentID == studentID {
					filtered = append(filtered, record)
				}
			}
			records = filtered
		}
	case studentID != "":
		records, err = s.deps.Engine.ListForStudent(r.Context(), studentID)
	default:
		s.sendError(w, "sessionId or studentId is required", http.StatusBadRequest)
		return
	}

	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// PATCH /api/attendance/{recordID}
func (s *Server) overrideStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}

	record, err := s.deps.Engine.UpdateStatus(r.Context(), chi.URLParam(r, "recordID"), req.Status)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// GET /api/attendance/stats
func (s *Server) statusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Engine.AggregateStatusCounts(r.Context())
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	connections := map[string]int{}
	if s.deps.Registry != nil {
		connections = s.deps.Registry.GetStats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: connections,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

// decode reads a JSON body into v, answering 400 on malformed input
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// sendDomainError maps core error kinds to status codes
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	code := statusForError(err)

	message := http.StatusText(code)
	var typed *types.Error
	if errors.As(err, &typed) && code != http.StatusInternalServerError {
		message = typed.Message
	}
	if code == http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	s.sendError(w, message, code)
}

func statusForError(err error) int {
	switch types.KindOf(err) {
	case types.ErrValidation:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrSessionClosed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes the common error body
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// clientIP returns the caller's address without port. IPv4-mapped IPv6
// addresses are reduced to their dotted-quad form.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return host
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins; there is no authentication to protect
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
