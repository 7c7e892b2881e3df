package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/praise-ledger/ledger"
)

// mapError converts pgconn errors to ledger errors.
// Context errors and errors that are already ledger errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %v", ledger.ErrDuplicate, err)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %v", ledger.ErrNotFound, err)
	case "23514": // check_violation
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	case "P0001": // raise_exception from the append-only triggers
		return fmt.Errorf("%w: %v", ledger.ErrInvalidState, err)
	}
	return err
}
