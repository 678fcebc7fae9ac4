package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"geoattend/internal/keylock"
	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

// Manager implements the SessionManager interface
type Manager struct {
	dbManager interfaces.DatabaseManager
	publisher interfaces.EventPublisher
	teachers  *keylock.Locker // teacherID -> lock around supersede and end
	now       func() time.Time
}

// NewManager creates a new session manager. A nil publisher discards events.
func NewManager(dbManager interfaces.DatabaseManager, publisher interfaces.EventPublisher) *Manager {
	if publisher == nil {
		publisher = interfaces.NopPublisher{}
	}
	return &Manager{
		dbManager: dbManager,
		publisher: publisher,
		teachers:  keylock.New(),
		now:       time.Now,
	}
}

// CreateSession opens a new active session for teacherID. Any session the
// teacher still has open is deactivated in the same store transaction.
func (m *Manager) CreateSession(ctx context.Context, teacherID, subject, teacherIP string) (*types.Session, error) {
	input := types.CreateSessionInput{
		TeacherID: strings.TrimSpace(teacherID),
		Subject:   strings.TrimSpace(subject),
		TeacherIP: strings.TrimSpace(teacherIP),
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:        uuid.New().String(),
		TeacherID: input.TeacherID,
		Subject:   input.Subject,
		Date:      m.now().UTC(),
		TeacherIP: input.TeacherIP,
		IsActive:  true,
	}

	// TECHNICAL: concurrent creates for one teacher are serialized here; the
	// store transaction and partial unique index back this up across processes
	unlock := m.teachers.Lock(input.TeacherID)
	err := m.dbManager.CreateSession(ctx, session)
	unlock()
	if err != nil {
		return nil, types.NewStoreError(opCreate, fmt.Errorf("failed to create session: %w", err))
	}

	log.Printf("Created session: id=%s teacher=%s subject=%q", session.ID, session.TeacherID, session.Subject)
	m.publisher.Publish(&types.Event{
		Type:      types.EventSessionCreated,
		SessionID: session.ID,
		Session:   session,
		Timestamp: session.Date,
	})
	return session, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.getSession(ctx, opGet, sessionID)
}

// EndSession marks a session inactive and returns it. Ending a session that
// is already inactive returns it unchanged.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.getSession(ctx, opEnd, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return session, nil
	}

	unlock := m.teachers.Lock(session.TeacherID)
	defer unlock()

	// re-read under the lock; a concurrent create may have superseded it
	session, err = m.getSession(ctx, opEnd, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return session, nil
	}

	session.IsActive = false
	if err := m.dbManager.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NewNotFoundError(opEnd, fmt.Sprintf("session %s not found", sessionID))
		}
		return nil, types.NewStoreError(opEnd, fmt.Errorf("failed to end session: %w", err))
	}

	log.Printf("Ended session: id=%s teacher=%s", session.ID, session.TeacherID)
	m.publisher.Publish(&types.Event{
		Type:      types.EventSessionEnded,
		SessionID: session.ID,
		Session:   session,
		Timestamp: m.now().UTC(),
	})
	return session, nil
}

// ListActiveSessions returns every active session across all teachers
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return nil, types.NewStoreError(opListActive, fmt.Errorf("failed to list active sessions: %w", err))
	}
	return sessions, nil
}

// ListSessionsForTeacher returns a teacher's sessions, newest first
func (m *Manager) ListSessionsForTeacher(ctx context.Context, teacherID string) ([]*types.Session, error) {
	teacherID = strings.TrimSpace(teacherID)
	if teacherID == "" {
		return nil, types.NewValidationError(opListForTeach, "teacherId is required")
	}

	sessions, err := m.dbManager.ListSessionsByTeacher(ctx, teacherID)
	if err != nil {
		return nil, types.NewStoreError(opListForTeach, fmt.Errorf("failed to list sessions for teacher %s: %w", teacherID, err))
	}
	return sessions, nil
}

func (m *Manager) getSession(ctx context.Context, op, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, types.NewValidationError(op, "sessionId is required")
	}

	session, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NewNotFoundError(op, fmt.Sprintf("session %s not found", sessionID))
		}
		return nil, types.NewStoreError(op, err)
	}
	return session, nil
}
