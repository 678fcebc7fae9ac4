package interfaces

import (
	"context"

	"geoattend/pkg/types"
)

// SessionManager handles session lifecycle operations
// ARCHITECTURAL DISCOVERY: Context-first design pattern keeps store calls cancellable
type SessionManager interface {
	// CreateSession supersedes the teacher's active session, if any
	CreateSession(ctx context.Context, teacherID, subject, teacherIP string) (*types.Session, error)

	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// EndSession is idempotent for sessions that have already ended
	EndSession(ctx context.Context, sessionID string) (*types.Session, error)

	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	ListSessionsForTeacher(ctx context.Context, teacherID string) ([]*types.Session, error)
}

// AttendanceEngine decides and records attendance for join attempts
type AttendanceEngine interface {
	MarkAttendance(ctx context.Context, sessionID, studentID, studentName, studentIP string) (*types.AttendanceRecord, error)

	// UpdateStatus is the teacher's manual override
	UpdateStatus(ctx context.Context, recordID string, status types.AttendanceStatus) (*types.AttendanceRecord, error)

	ListForSession(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error)

	ListForStudent(ctx context.Context, studentID string) ([]*types.AttendanceRecord, error)

	AggregateStatusCounts(ctx context.Context) (types.StatusCounts, error)
}
