package interfaces

import "errors"

// Lookup misses reported by DatabaseManager implementations
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRecordNotFound  = errors.New("attendance record not found")
)
