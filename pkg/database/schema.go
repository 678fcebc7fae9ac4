package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":          "Session storage",
		"attendance":        "Attendance record storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column declared types match what the
// database manager scans into
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":         "TEXT",
		"teacher_id": "TEXT",
		"subject":    "TEXT",
		"teacher_ip": "TEXT",
		"is_active":  "INTEGER",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	attendanceColumns := map[string]string{
		"id":           "TEXT",
		"session_id":   "TEXT",
		"student_id":   "TEXT",
		"student_name": "TEXT",
		"status":       "TEXT",
		"student_ip":   "TEXT",
		"timestamp":    "DATETIME",
	}
	if err := v.validateColumns("attendance", attendanceColumns); err != nil {
		return fmt.Errorf("attendance table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that the lookup and invariant indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_active":         "Active session discovery",
		"idx_sessions_teacher_time":   "Teacher session history",
		"idx_sessions_one_active":     "Single active session per teacher",
		"idx_attendance_session_time": "Session roster retrieval",
		"idx_attendance_student_time": "Student history retrieval",
		"idx_attendance_status":       "Status aggregation",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that the database itself rejects rows that
// would break the attendance invariants. Probe rows are rolled back.
// The connection must have foreign keys enabled (see Config.DSN).
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	// attendance.session_id -> sessions.id
	if _, err := tx.Exec(`
		INSERT INTO attendance (id, session_id, student_id, status, timestamp)
		VALUES ('probe-fk', 'probe-missing-session', 'probe-student', 'PRESENT', ?)
	`, now); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: attendance.session_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, teacher_id, subject, teacher_ip, is_active, created_at)
		VALUES ('probe-session', 'probe-teacher', 'Probe', '10.0.0.1', 1, ?)
	`, now); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, teacher_id, subject, teacher_ip, is_active, created_at)
		VALUES ('probe-session-2', 'probe-teacher', 'Probe', '10.0.0.1', 1, ?)
	`, now); err == nil {
		return fmt.Errorf("unique constraint not enforced: one active session per teacher")
	}

	if _, err := tx.Exec(`
		INSERT INTO attendance (id, session_id, student_id, status, timestamp)
		VALUES ('probe-status', 'probe-session', 'probe-student', 'EXCUSED', ?)
	`, now); err == nil {
		return fmt.Errorf("check constraint not enforced: attendance status")
	}

	if _, err := tx.Exec(`
		INSERT INTO attendance (id, session_id, student_id, status, timestamp)
		VALUES ('probe-first', 'probe-session', 'probe-student', 'PRESENT', ?)
	`, now); err != nil {
		return fmt.Errorf("failed to create probe record: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO attendance (id, session_id, student_id, status, timestamp)
		VALUES ('probe-second', 'probe-session', 'probe-student', 'ABSENT', ?)
	`, now); err == nil {
		return fmt.Errorf("unique constraint not enforced: attendance (session_id, student_id)")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
