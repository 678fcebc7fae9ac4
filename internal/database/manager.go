package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "geoattend/pkg/database"
	"geoattend/pkg/interfaces"
	"geoattend/pkg/types"
)

var (
	errManagerClosed = errors.New("database manager is closed")
	errWriteTimeout  = errors.New("write operation timeout")
)

const (
	sessionColumns    = "id, teacher_id, subject, teacher_ip, is_active, created_at"
	attendanceColumns = "id, session_id, student_id, student_name, status, student_ip, timestamp"
)

// Manager implements the DatabaseManager interface on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	writeTimeout time.Duration
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		writeTimeout: 30 * time.Second,
		retryDelay:   500 * time.Millisecond,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	// and makes every write transaction run in isolation from the others
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op.operation)

		case <-m.shutdown:
			// fail whatever is still queued so no caller waits forever
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- errManagerClosed
				default:
					log.Println("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite executes one write, retrying once when SQLite reports the file busy.
// Constraint and other errors are returned immediately.
func (m *Manager) runWrite(operation func(*sql.DB) error) error {
	err := operation(m.db)
	if err != nil && isBusy(err) {
		log.Printf("Database busy, retrying in %s: %v", m.retryDelay, err)
		time.Sleep(m.retryDelay)
		err = operation(m.db)
		if err != nil {
			log.Printf("Database write failed after retry: %v", err)
		}
	}
	return err
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// executeWrite queues a write operation and waits for completion
// TECHNICAL DISCOVERY: The read lock is held across the send so Close cannot
// stop the loop while an operation is on its way into the queue
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	result := make(chan error, 1)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return errManagerClosed
	}

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		m.mu.RUnlock()
	case <-time.After(m.writeTimeout):
		m.mu.RUnlock()
		return errWriteTimeout
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}

	// queued operations are always answered, either run or failed on shutdown
	return <-result
}

// CreateSession deactivates the teacher's active sessions and inserts the new one
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// FUNCTIONAL DISCOVERY: Scan-and-flip happens inside the same transaction as
		// the insert, so no reader ever sees two active sessions for one teacher
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET is_active = 0 WHERE teacher_id = ? AND is_active = 1`,
			session.TeacherID,
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate previous sessions: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.TeacherID,
			session.Subject,
			session.TeacherIP,
			session.IsActive,
			session.Date,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}

		if n, _ := res.RowsAffected(); n > 0 {
			log.Printf("Superseded %d active session(s) for teacher %s", n, session.TeacherID)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSession persists the session's active flag
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET is_active = ? WHERE id = ?`,
			session.IsActive,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListActiveSessions returns active sessions in insertion order
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE is_active = 1
		 ORDER BY created_at ASC, rowid ASC`)
}

// ListSessionsByTeacher returns a teacher's sessions, newest first
func (m *Manager) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error) {
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE teacher_id = ?
		 ORDER BY created_at DESC, rowid DESC`, teacherID)
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...interface{}) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]*types.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// CreateAttendance inserts a record unless the (session, student) pair already has one
func (m *Manager) CreateAttendance(ctx context.Context, record *types.AttendanceRecord) (*types.AttendanceRecord, bool, error) {
	var stored *types.AttendanceRecord
	var created bool

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		stored, created = nil, false

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		existing, err := scanAttendance(tx.QueryRowContext(ctx,
			`SELECT `+attendanceColumns+` FROM attendance WHERE session_id = ? AND student_id = ?`,
			record.SessionID, record.StudentID))
		switch {
		case err == nil:
			stored = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to look up attendance: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO attendance (`+attendanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID,
			record.SessionID,
			record.StudentID,
			record.StudentName,
			string(record.Status),
			record.StudentIP,
			record.Timestamp,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// lost a race with a writer outside this process; first write wins
				existing, lookupErr := scanAttendance(tx.QueryRowContext(ctx,
					`SELECT `+attendanceColumns+` FROM attendance WHERE session_id = ? AND student_id = ?`,
					record.SessionID, record.StudentID))
				if lookupErr == nil {
					stored = existing
					return nil
				}
			}
			return fmt.Errorf("failed to insert attendance: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit attendance: %w", err)
		}

		copied := *record
		stored, created = &copied, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// FindAttendance returns the record for a (session, student) pair
func (m *Manager) FindAttendance(ctx context.Context, sessionID, studentID string) (*types.AttendanceRecord, error) {
	record, err := scanAttendance(m.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE session_id = ? AND student_id = ?`,
		sessionID, studentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	return record, nil
}

// GetAttendance retrieves a record by ID
func (m *Manager) GetAttendance(ctx context.Context, recordID string) (*types.AttendanceRecord, error) {
	record, err := scanAttendance(m.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	return record, nil
}

// UpdateAttendanceStatus overwrites the status of a record
func (m *Manager) UpdateAttendanceStatus(ctx context.Context, recordID string, status types.AttendanceStatus) (*types.AttendanceRecord, error) {
	var updated *types.AttendanceRecord

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`UPDATE attendance SET status = ? WHERE id = ?`, string(status), recordID)
		if err != nil {
			return fmt.Errorf("failed to update attendance status: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrRecordNotFound
		}

		updated, err = scanAttendance(tx.QueryRowContext(ctx,
			`SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, recordID))
		if err != nil {
			return fmt.Errorf("failed to reload attendance: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListAttendanceBySession returns a session's records, newest first
func (m *Manager) ListAttendanceBySession(ctx context.Context, sessionID string) ([]*types.AttendanceRecord, error) {
	return m.queryAttendance(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE session_id = ?
		 ORDER BY timestamp DESC, rowid DESC`, sessionID)
}

// ListAttendanceByStudent returns a student's records across sessions, newest first
func (m *Manager) ListAttendanceByStudent(ctx context.Context, studentID string) ([]*types.AttendanceRecord, error) {
	return m.queryAttendance(ctx,
		`SELECT `+attendanceColumns+` FROM attendance
		 WHERE student_id = ?
		 ORDER BY timestamp DESC, rowid DESC`, studentID)
}

func (m *Manager) queryAttendance(ctx context.Context, query string, args ...interface{}) ([]*types.AttendanceRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*types.AttendanceRecord, 0)
	for rows.Next() {
		record, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}

// CountAttendanceByStatus counts records per status; missing statuses report zero
func (m *Manager) CountAttendanceByStatus(ctx context.Context) (types.StatusCounts, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM attendance GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(types.StatusCounts, len(types.AllStatuses))
	for _, status := range types.AllStatuses {
		counts[status] = 0
	}

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[types.AttendanceStatus(status)] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}
	return counts, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	err := row.Scan(
		&session.ID,
		&session.TeacherID,
		&session.Subject,
		&session.TeacherIP,
		&session.IsActive,
		&session.Date,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func scanAttendance(row rowScanner) (*types.AttendanceRecord, error) {
	var record types.AttendanceRecord
	var status string
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.StudentID,
		&record.StudentName,
		&status,
		&record.StudentIP,
		&record.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	record.Status = types.AttendanceStatus(status)
	return &record, nil
}
