package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrDatabase = errors.New("database error")
	// ErrStale means a conditional update matched no row
	ErrStale = errors.New("row changed concurrently")
	// ErrDuplicateKey means a generated order number or payment reference is already taken
	ErrDuplicateKey = errors.New("generated key already taken")
)

func dbErr(err error) error {
	return fmt.Errorf("%w: %v", ErrDatabase, err)
}

// placeholders returns "?, ?, ?" for n values
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// isKeyCollision reports a unique violation on the named column
func isKeyCollision(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(strings.ToLower(err.Error()), column)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern escaped with '\'
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
