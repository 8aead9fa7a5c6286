package repository

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// isConstraintError reports whether err is a SQLite unique or primary key
// violation
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
