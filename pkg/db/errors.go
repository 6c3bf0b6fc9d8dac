package db

import "strings"

// IsUniqueViolation reports whether err is a unique constraint violation on
// one of the named constraints. Postgres embeds the index name in its
// "duplicate key value violates unique constraint" message while the sqlite
// test harness reports "UNIQUE constraint failed: table.column", so callers
// name both spellings. With no names, any unique violation matches.
func IsUniqueViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if name != "" && strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
