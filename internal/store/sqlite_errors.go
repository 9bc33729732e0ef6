package store

import "strings"

// IsConflictError reports whether err is a SQLITE_BUSY or "database is
// locked" error. Both are transient under concurrent writers.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
