// Package attendance decides PRESENT or ABSENT for student join attempts and
// applies teacher overrides.
package attendance

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

// Engine implements the AttendanceEngine interface
type Engine struct {
	dbManager interfaces.DatabaseManager
	publisher interfaces.EventPublisher
	pairs     *keylock.Locker // sessionID+studentID -> lock around check-then-insert
	now       func() time.Time
}

// NewEngine creates an attendance engine. A nil publisher discards events.
func NewEngine(dbManager interfaces.DatabaseManager, publisher interfaces.EventPublisher) *Engine {
	if publisher == nil {
		publisher = interfaces.NopPublisher{}
	}
	return &Engine{
		dbManager: dbManager,
		publisher: publisher,
		pairs:     keylock.New(),
		now:       time.Now,
	}
}

func pairKey(sessionID, studentID string) string {
	return sessionID + "\x00" + studentID
}

// MarkAttendance records a join attempt. The first attempt for a
// (session, student) pair decides the status; later attempts return that
// record untouched, whatever address they come from.
func (e *Engine) MarkAttendance(ctx context.Context, sessionID, studentID, studentName, studentIP string) (*types.AttendanceRecord, error) {
	input := types.MarkAttendanceInput{
		SessionID:   strings.TrimSpace(sessionID),
		StudentID:   strings.TrimSpace(studentID),
		StudentName: strings.TrimSpace(studentName),
		StudentIP:   strings.TrimSpace(studentIP),
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	session, err := e.dbManager.GetSession(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, types.NewNotFoundError(opMark, fmt.Sprintf("session %s not found", input.SessionID))
		}
		return nil, types.NewStoreError(opMark, err)
	}
	if !session.IsActive {
		return nil, types.NewSessionClosedError(opMark, session.ID)
	}

	unlock := e.pairs.Lock(pairKey(session.ID, input.StudentID))
	defer unlock()

	existing, err := e.dbManager.FindAttendance(ctx, session.ID, input.StudentID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, interfaces.ErrRecordNotFound):
		return nil, types.NewStoreError(opMark, fmt.Errorf("failed to look up attendance: %w", err))
	}

	record := &types.AttendanceRecord{
		ID:          uuid.New().String(),
		SessionID:   session.ID,
		StudentID:   input.StudentID,
		StudentName: input.StudentName,
		Status:      decideStatus(session.TeacherIP, input.StudentIP),
		Timestamp:   e.now().UTC(),
		StudentIP:   input.StudentIP,
	}

	// TECHNICAL: the store insert is itself insert-if-absent, so a second
	// process racing on the same pair still converges on one record
	stored, created, err := e.dbManager.CreateAttendance(ctx, record)
	if err != nil {
		return nil, types.NewStoreError(opMark, fmt.Errorf("failed to record attendance: %w", err))
	}
	if !created {
		return stored, nil
	}

	log.Printf("Marked attendance: session=%s student=%s status=%s ip=%s teacher_ip=%s",
		stored.SessionID, stored.StudentID, stored.Status, stored.StudentIP, session.TeacherIP)
	e.publisher.Publish(&types.Event{
		Type:      types.EventAttendanceMarked,
		SessionID: stored.SessionID,
		Record:    stored,
		Timestamp: stored.Timestamp,
	})
	return stored, nil
}

// UpdateStatus overwrites a record's status. Any status may replace any other.
func (e *Engine) UpdateStatus(ctx context.Context, recordID string, status types.AttendanceStatus) (*types.AttendanceRecord, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, types.NewValidationError(opUpdateStatus, "recordId is required")
	}
	if !types.IsValidStatus(status) {
		return nil, types.NewValidationError(opUpdateStatus, fmt.Sprintf("status must be one of PRESENT, ABSENT, LATE, got %q", status))
	}

	record, err := e.dbManager.UpdateAttendanceStatus(ctx, recordID, status)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil, types.NewNotFoundError(opUpdateStatus, fmt.Sprintf("attendance record %s not found", recordID))
		}
		return nil, types.NewStoreError(opUpdateStatus, fmt.Errorf("failed to update status: %w", err))
	}

	log.Printf("Updated attendance: record=%s session=%s student=%s status=%s",
		record.ID, record.SessionID, record.StudentID, record.Status)
	e.publisher.Publish(&types.Event{
		Type:      types.EventAttendanceUpdated,
		SessionID: record.SessionID,
		Record:    record,
		Timestamp: e.now().UTC(),
	})
	return record, nil
}

// ListForSession returns a session's records, most recent first
func (e *Engine) ListForSession(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, types.NewValidationError(opListForSession, "sessionId is required")
	}

	records, err := e.dbManager.ListAttendanceBySession(ctx, sessionID)
	if err != nil {
		return nil, types.NewStoreError(opListForSession, err)
	}
	return records, nil
}

// ListForStudent returns a student's records across sessions, most recent first
func (e *Engine) ListForStudent(ctx context.Context, studentID string) ([]*types.AttendanceRecord, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, types.NewValidationError(opListForStudent, "studentId is required")
	}

	records, err := e.dbManager.ListAttendanceByStudent(ctx, studentID)
	if err != nil {
		return nil, types.NewStoreError(opListForStudent, err)
	}
	return records, nil
}

// AggregateStatusCounts counts every record system-wide. Every status is
// present in the result, zero when unused.
func (e *Engine) AggregateStatusCounts(ctx context.Context) (types.StatusCounts, error) {
	counts, err := e.dbManager.CountAttendanceByStatus(ctx)
	if err != nil {
		return nil, types.NewStoreError(opCounts, err)
	}
	if counts == nil {
		counts = types.StatusCounts{}
	}
	for _, status := range types.AllStatuses {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}
	return counts, nil
}
