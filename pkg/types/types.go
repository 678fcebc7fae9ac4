package types

import (
	"time"
)

// AttendanceStatus is the outcome recorded for one student in one session.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "PRESENT"
	StatusAbsent  AttendanceStatus = "ABSENT"
	StatusLate    AttendanceStatus = "LATE"
)

// AllStatuses lists every status in reporting order.
var AllStatuses = []AttendanceStatus{StatusPresent, StatusAbsent, StatusLate}

// Event types published by the session manager and attendance engine
const (
	EventAttendanceMarked  = "attendance_marked"
	EventAttendanceUpdated = "attendance_updated"
	EventSessionCreated    = "session_created"
	EventSessionEnded      = "session_ended"
	EventRosterSnapshot    = "roster_snapshot"
)

// Session represents one attendance-taking window opened by a teacher
// FUNCTIONAL DISCOVERY: TeacherIP is the verification anchor for every join and
// never changes after creation; only IsActive is mutated
type Session struct {
	ID        string    `json:"id" db:"id"`
	TeacherID string    `json:"teacherId" db:"teacher_id"`
	Subject   string    `json:"subject" db:"subject"`
	Date      time.Time `json:"date" db:"created_at"`
	TeacherIP string    `json:"teacherIp" db:"teacher_ip"`
	IsActive  bool      `json:"isActive" db:"is_active"`
}

// AttendanceRecord is a single student's check-in for a session.
type AttendanceRecord struct {
	ID          string           `json:"id" db:"id"`
	SessionID   string           `json:"sessionId" db:"session_id"`
	StudentID   string           `json:"studentId" db:"student_id"`
	StudentName string           `json:"studentName" db:"student_name"`
	Status      AttendanceStatus `json:"status" db:"status"`
	Timestamp   time.Time        `json:"timestamp" db:"timestamp"`
	StudentIP   string           `json:"studentIp" db:"student_ip"`
}

// StatusCounts maps each status to the number of records carrying it
type StatusCounts map[AttendanceStatus]int

// Event is a change notification fanned out to live dashboards
type Event struct {
	Type      string              `json:"type"`
	SessionID string              `json:"sessionId"`
	Session   *Session            `json:"session,omitempty"`
	Record    *AttendanceRecord   `json:"record,omitempty"`
	Roster    []*AttendanceRecord `json:"roster,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// CreateSessionInput carries the teacher's "start class" request
type CreateSessionInput struct {
	TeacherID string `validate:"required,max=50"`
	Subject   string `validate:"required,max=200"`
	TeacherIP string `validate:"required,dottedquad"`
}

// MarkAttendanceInput carries one student join attempt
// TECHNICAL DISCOVERY: StudentIP is deliberately not validated here, a malformed
// address degrades to ABSENT instead of failing the join
type MarkAttendanceInput struct {
	SessionID   string `validate:"required"`
	StudentID   string `validate:"required,max=50"`
	StudentName string `validate:"max=200"`
	StudentIP   string
}
