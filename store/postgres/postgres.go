/*
Package postgres provides a PostgreSQL-backed implementation of ledger.Store.

CONCURRENCY:
  Transactions run at Read Committed. A debit takes the user's row lock with
  SELECT ... FOR UPDATE before checking funds, so debits and credits on the
  same user queue behind each other while other users proceed. The
  decrement is also conditional (balance >= amount). Serialization failures,
  deadlocks and lock timeouts map to ledger.ErrConflict.

  Redemption transitions lock the redemption row, then the user row. Debits
  only lock the user row, so the two paths cannot wait on each other in a
  cycle.

QUERIES:
  Simple reads and inserts are built with squirrel using $n placeholders.
  Statements with row locks or the history union are written out by hand.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/praise-ledger/ledger"
)

// DB is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it too.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is implemented by both DB and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	db  DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides time.Now for event timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// withTx runs fn in a Read Committed transaction. Once begun, the
// transaction ignores ctx cancellation and runs to commit or rollback.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapError(fmt.Errorf("begin transaction: %w", err))
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

var userColumns = []string{"id", "name", "email", "balance", "created_at"}

func (s *Store) CreateUser(ctx context.Context, u ledger.NewUser) (ledger.User, error) {
	n, err := u.Normalize()
	if err != nil {
		return ledger.User{}, err
	}
	user := ledger.User{
		ID:        n.ID,
		Name:      n.Name,
		Email:     n.Email,
		CreatedAt: ledger.Timestamp(s.now()),
	}

	query, args, err := psql.Insert("users").
		Columns(userColumns...).
		Values(user.ID, user.Name, user.Email, int64(0), user.CreatedAt).
		ToSql()
	if err != nil {
		return ledger.User{}, fmt.Errorf("build insert user: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return ledger.User{}, mapError(fmt.Errorf("create user: %w", err))
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	query, args, err := psql.Select(userColumns...).From("users").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return ledger.User{}, fmt.Errorf("build select user: %w", err)
	}
	u, err := scanUser(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.User{}, ledger.NotFound("user", id)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	query, args, err := psql.Select(userColumns...).From("users").OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, id ledger.UserID) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.NotFound("user", id)
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("read balance: %w", err))
	}
	return balance, nil
}

// =============================================================================
// BALANCE-AFFECTING OPERATIONS
// =============================================================================

func (s *Store) CreditPoints(ctx context.Context, receiverID ledger.UserID, amount int64, draft ledger.PraiseDraft) (ledger.PraiseEvent, error) {
	ev, err := ledger.BuildPraise(receiverID, amount, draft, s.now())
	if err != nil {
		return ledger.PraiseEvent{}, err
	}

	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := requireUser(ctx, tx, ev.GiverID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance + $1 WHERE id = $2`, amount, receiverID)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.NotFound("user", receiverID)
		}

		query, args, err := psql.Insert("praise_events").
			Columns("id", "giver_id", "receiver_id", "message", "core_value_id",
				"points_awarded", "idempotency_key", "created_at").
			Values(ev.ID, ev.GiverID, ev.ReceiverID, ev.Message, ev.CoreValueID,
				ev.PointsAwarded, nullable(ev.IdempotencyKey), ev.CreatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert praise: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("append praise: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.PraiseEvent{}, err
	}
	return ev, nil
}

func (s *Store) DebitPoints(ctx context.Context, userID ledger.UserID, amount int64, draft ledger.RedemptionDraft) (ledger.RedemptionEvent, error) {
	ev, err := ledger.BuildRedemption(userID, amount, draft, s.now())
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}

	err = s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx,
			`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.NotFound("user", userID)
		}
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		if balance < amount {
			return &ledger.InsufficientBalanceError{UserID: userID, Available: balance, Requested: amount}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $3`,
			amount, userID, amount)
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrConflict
		}

		query, args, err := psql.Insert("redemption_events").
			Columns("id", "user_id", "reward_id", "points_spent", "status",
				"idempotency_key", "created_at", "updated_at").
			Values(ev.ID, ev.UserID, ev.RewardID, ev.PointsSpent, ev.Status,
				nullable(ev.IdempotencyKey), ev.CreatedAt, ev.UpdatedAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert redemption: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("append redemption: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	return ev, nil
}

func (s *Store) CancelRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return s.transition(ctx, id, ledger.RedemptionCancelled)
}

func (s *Store) FulfillRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return s.transition(ctx, id, ledger.RedemptionFulfilled)
}

func (s *Store) transition(ctx context.Context, id ledger.RedemptionID, to ledger.RedemptionStatus) (ledger.RedemptionEvent, error) {
	var r ledger.RedemptionEvent
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		r, err = scanRedemption(tx.QueryRow(ctx,
			`SELECT `+redemptionColumns+` FROM redemption_events WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.NotFound("redemption", id)
		}
		if err != nil {
			return err
		}
		if err := r.Transition(to, s.now()); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE redemption_events SET status = $1, updated_at = $2 WHERE id = $3`,
			r.Status, r.UpdatedAt, r.ID); err != nil {
			return fmt.Errorf("update redemption: %w", err)
		}
		if to == ledger.RedemptionCancelled {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET balance = balance + $1 WHERE id = $2`,
				r.PointsSpent, r.UserID); err != nil {
				return fmt.Errorf("re-credit balance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	return r, nil
}

// =============================================================================
// QUERIES
// =============================================================================

const redemptionColumns = `id, user_id, reward_id, points_spent, status,
	COALESCE(idempotency_key, ''), created_at, updated_at`

var praiseColumns = []string{
	"id", "giver_id", "receiver_id", "message", "core_value_id", "points_awarded",
	"COALESCE(idempotency_key, '')", "created_at",
}

func (s *Store) GetRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	r, err := scanRedemption(s.db.QueryRow(ctx,
		`SELECT `+redemptionColumns+` FROM redemption_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.RedemptionEvent{}, ledger.NotFound("redemption", id)
	}
	return r, err
}

func (s *Store) ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.RedemptionEvent, error) {
	if err := requireUser(ctx, s.db, userID); err != nil {
		return nil, err
	}
	query, args, err := psql.Select(redemptionColumns).
		From("redemption_events").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list redemptions: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("list redemptions: %w", err))
	}
	defer rows.Close()

	out := []ledger.RedemptionEvent{}
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRecentPraise(ctx context.Context, limit int) ([]ledger.PraiseEvent, error) {
	query, args, err := psql.Select(praiseColumns...).
		From("praise_events").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(ledger.NormalizeLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent praise: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("recent praise: %w", err))
	}
	defer rows.Close()

	out := []ledger.PraiseEvent{}
	for rows.Next() {
		p, err := scanPraise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const historyQuery = `
	SELECT kind, id, counterpart, message, ref_id, points, status, idem, created_at, updated_at
	FROM (
		SELECT 'praise' AS kind, id, giver_id AS counterpart, message, core_value_id AS ref_id,
		       points_awarded AS points, '' AS status, COALESCE(idempotency_key, '') AS idem,
		       created_at, created_at AS updated_at
		FROM praise_events WHERE receiver_id = $1
		UNION ALL
		SELECT 'redemption', id, '', '', reward_id,
		       points_spent, status, COALESCE(idempotency_key, ''),
		       created_at, updated_at
		FROM redemption_events WHERE user_id = $1
	) h`

// ListHistory merges praise received and redemptions made, newest first,
// resuming strictly after the cursor's (created_at, id).
func (s *Store) ListHistory(ctx context.Context, userID ledger.UserID, cursor ledger.Cursor, pageSize int) (ledger.HistoryPage, error) {
	after, hasCursor, err := cursor.Decode()
	if err != nil {
		return ledger.HistoryPage{}, err
	}
	pageSize = ledger.NormalizePageSize(pageSize)
	if err := requireUser(ctx, s.db, userID); err != nil {
		return ledger.HistoryPage{}, err
	}

	query := historyQuery
	args := []any{userID}
	if hasCursor {
		query += ` WHERE (created_at, id) < ($2, $3)`
		args = append(args, after.At, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, pageSize+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return ledger.HistoryPage{}, mapError(fmt.Errorf("history: %w", err))
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			kind, id, counterpart, message, refID, status, idem string
			points                                              int64
			createdAt, updatedAt                                time.Time
		)
		if err := rows.Scan(&kind, &id, &counterpart, &message, &refID, &points, &status, &idem, &createdAt, &updatedAt); err != nil {
			return ledger.HistoryPage{}, fmt.Errorf("scan history: %w", err)
		}
		if ledger.EntryKind(kind) == ledger.EntryPraise {
			entries = append(entries, ledger.PraiseEntry(ledger.PraiseEvent{
				ID:             ledger.PraiseID(id),
				GiverID:        ledger.UserID(counterpart),
				ReceiverID:     userID,
				Message:        message,
				CoreValueID:    ledger.CoreValueID(refID),
				PointsAwarded:  points,
				IdempotencyKey: idem,
				CreatedAt:      createdAt.UTC(),
			}))
			continue
		}
		entries = append(entries, ledger.RedemptionEntry(ledger.RedemptionEvent{
			ID:             ledger.RedemptionID(id),
			UserID:         userID,
			RewardID:       ledger.RewardID(refID),
			PointsSpent:    points,
			Status:         ledger.RedemptionStatus(status),
			IdempotencyKey: idem,
			CreatedAt:      createdAt.UTC(),
			UpdatedAt:      updatedAt.UTC(),
		}))
	}
	if err := rows.Err(); err != nil {
		return ledger.HistoryPage{}, err
	}
	return ledger.PageFromRows(entries, pageSize), nil
}

// CheckBalance reads cached and derived balances in one statement, so both
// come from the same snapshot.
func (s *Store) CheckBalance(ctx context.Context, id ledger.UserID) (ledger.BalanceCheck, error) {
	check := ledger.BalanceCheck{UserID: id}
	err := s.db.QueryRow(ctx, `
		SELECT u.balance,
		       COALESCE((SELECT SUM(points_awarded) FROM praise_events WHERE receiver_id = u.id), 0)::BIGINT
		     - COALESCE((SELECT SUM(points_spent) FROM redemption_events
		                 WHERE user_id = u.id AND status <> 'cancelled'), 0)::BIGINT
		FROM users u WHERE u.id = $1`, id).Scan(&check.Cached, &check.Derived)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.BalanceCheck{}, ledger.NotFound("user", id)
	}
	if err != nil {
		return ledger.BalanceCheck{}, mapError(fmt.Errorf("check balance: %w", err))
	}
	return check, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func requireUser(ctx context.Context, q querier, id ledger.UserID) error {
	var one int
	err := q.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.NotFound("user", id)
	}
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (ledger.User, error) {
	var u ledger.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Balance, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func scanRedemption(row pgx.Row) (ledger.RedemptionEvent, error) {
	var r ledger.RedemptionEvent
	err := row.Scan(&r.ID, &r.UserID, &r.RewardID, &r.PointsSpent, &r.Status,
		&r.IdempotencyKey, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan redemption: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func scanPraise(row pgx.Row) (ledger.PraiseEvent, error) {
	var p ledger.PraiseEvent
	err := row.Scan(&p.ID, &p.GiverID, &p.ReceiverID, &p.Message, &p.CoreValueID,
		&p.PointsAwarded, &p.IdempotencyKey, &p.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("scan praise: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
