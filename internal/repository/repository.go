package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateNumber signals a human-readable number collision on insert.
	ErrDuplicateNumber = errors.New("number already in use")
	// ErrDuplicateLevel signals a second approval record for the same chain level.
	ErrDuplicateLevel = errors.New("approval level already exists")
	// ErrApproverPending signals an approver who already holds a pending record on the request.
	ErrApproverPending = errors.New("approver already has a pending approval")
)

const uniqueViolationCode = "23505"

// Transactor executes a unit of work atomically. Repositories called with the
// context handed to fn take part in the same transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == constraint
}
