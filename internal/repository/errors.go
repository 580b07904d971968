package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicate is returned when an insert or update violates a unique index.
var ErrDuplicate = errors.New("duplicate record")

const pqUniqueViolation = "23505"

// DuplicateError names the unique constraint that rejected a write.
type DuplicateError struct {
	Op         string
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.Op, ErrDuplicate, e.Constraint)
}

// Is lets errors.Is(err, ErrDuplicate) match.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// mapWriteError converts unique violations into *DuplicateError and wraps
// everything else with op.
func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &DuplicateError{Op: op, Constraint: pqErr.Constraint}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DuplicateConstraint returns the violated constraint, or "" when err is not
// a unique violation.
func DuplicateConstraint(err error) string {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Constraint
	}
	return ""
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer = sqlx.ExtContext

func execAffected(ctx context.Context, ext execer, op, query string, args ...interface{}) (int64, error) {
	res, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapWriteError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n, nil
}
