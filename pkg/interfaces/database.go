package interfaces

import (
	"context"

	"geoattend/pkg/types"
)

// DatabaseManager handles all persistence for sessions and attendance records
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// keeps the transactional guarantees in one place
type DatabaseManager interface {
	// CreateSession deactivates every active session owned by session.TeacherID
	// and inserts session, in one transaction
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound for unknown IDs
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession persists the mutable fields of a session (IsActive)
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListActiveSessions returns active sessions in insertion order
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ListSessionsByTeacher returns a teacher's sessions, newest first
	ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error)

	// CreateAttendance inserts record unless one already exists for the same
	// (session, student) pair. The stored record is returned either way and
	// created reports whether this call inserted it.
	CreateAttendance(ctx context.Context, record *types.AttendanceRecord) (stored *types.AttendanceRecord, created bool, err error)

	// FindAttendance returns ErrRecordNotFound when the pair has no record
	FindAttendance(ctx context.Context, sessionID, studentID string) (*types.AttendanceRecord, error)

	// GetAttendance returns ErrRecordNotFound for unknown IDs
	GetAttendance(ctx context.Context, recordID string) (*types.AttendanceRecord, error)

	// UpdateAttendanceStatus overwrites a record's status and returns the updated record
	UpdateAttendanceStatus(ctx context.Context, recordID string, status types.AttendanceStatus) (*types.AttendanceRecord, error)

	// ListAttendanceBySession and ListAttendanceByStudent return newest first
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error)
	ListAttendanceByStudent(ctx context.Context, studentID string) ([]*types.AttendanceRecord, error)

	// CountAttendanceByStatus aggregates every record in the store
	CountAttendanceByStatus(ctx context.Context) (types.StatusCounts, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close waits for pending writes and closes the connection
	Close() error
}
