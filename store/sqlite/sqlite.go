/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Durable single-node ledger. Users carry the cached balance; praise and
  redemption events are the append-only log it is derived from.

KEY TABLES:
  users:              identity + cached balance (CHECK balance >= 0)
  praise_events:      immutable credits (triggers forbid UPDATE/DELETE)
  redemption_events:  debits; only a pending row's status may change

INDEXES:
  - idx_praise_receiver_created: history + balance recomputation (hot path)
  - idx_redemption_user_created: history + balance recomputation
  - idx_praise_created:          company-wide recent praise feed

CONCURRENCY:
  Every write runs in a BEGIN IMMEDIATE transaction (_txlock=immediate), so
  the write lock is taken before the balance is read and a debit's
  check-then-decrement cannot interleave with another writer. Waiting
  writers block up to the busy timeout; SQLITE_BUSY/LOCKED after that maps
  to ledger.ErrConflict and ledger.Ledger retries it.

  ":memory:" databases are private per connection, so they are pinned to a
  single connection.

WAL MODE:
  Readers never block the writer and see the last committed state.

TIMESTAMPS:
  Stored as INTEGER unix microseconds; history keyset pagination compares
  (created_at, id) pairs directly.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/praise-ledger/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// SetClock overrides time.Now for event timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at INTEGER NOT NULL
	);

	-- Praise (append-only credits)
	CREATE TABLE IF NOT EXISTS praise_events (
		id TEXT PRIMARY KEY,
		giver_id TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		message TEXT NOT NULL,
		core_value_id TEXT NOT NULL,
		points_awarded INTEGER NOT NULL CHECK (points_awarded > 0),
		idempotency_key TEXT UNIQUE,
		created_at INTEGER NOT NULL,
		CHECK (giver_id <> receiver_id)
	);

	CREATE INDEX IF NOT EXISTS idx_praise_receiver_created
		ON praise_events(receiver_id, created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_praise_created
		ON praise_events(created_at DESC, id DESC);

	CREATE TRIGGER IF NOT EXISTS praise_events_no_update
		BEFORE UPDATE ON praise_events
		BEGIN SELECT RAISE(ABORT, 'praise_events is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS praise_events_no_delete
		BEFORE DELETE ON praise_events
		BEGIN SELECT RAISE(ABORT, 'praise_events is append-only'); END;

	-- Redemptions (debits with a status lifecycle)
	CREATE TABLE IF NOT EXISTS redemption_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		reward_id TEXT NOT NULL,
		points_spent INTEGER NOT NULL CHECK (points_spent > 0),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'fulfilled', 'cancelled')),
		idempotency_key TEXT UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemption_user_created
		ON redemption_events(user_id, created_at DESC, id DESC);

	-- Only the status of a pending redemption may move.
	CREATE TRIGGER IF NOT EXISTS redemption_events_status_only
		BEFORE UPDATE ON redemption_events
		WHEN OLD.status <> 'pending'
			OR NEW.user_id <> OLD.user_id
			OR NEW.reward_id <> OLD.reward_id
			OR NEW.points_spent <> OLD.points_spent
			OR NEW.created_at <> OLD.created_at
		BEGIN SELECT RAISE(ABORT, 'redemption_events: only a pending status may change'); END;
	CREATE TRIGGER IF NOT EXISTS redemption_events_no_delete
		BEFORE DELETE ON redemption_events
		BEGIN SELECT RAISE(ABORT, 'redemption_events is append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// withTx runs fn in a write transaction. Once the transaction has begun it is
// detached from ctx cancellation and runs to commit or rollback.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, name, email, balance, created_at`

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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, balance, created_at) VALUES (?, ?, ?, 0, ?)`,
		user.ID, user.Name, user.Email, user.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return ledger.User{}, mapError(fmt.Errorf("failed to create user: %w", err))
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.NotFound("user", id)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
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
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.NotFound("user", id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// =============================================================================
// BALANCE-AFFECTING OPERATIONS
// =============================================================================

// CreditPoints inserts the praise and increments the receiver's balance.
func (s *Store) CreditPoints(ctx context.Context, receiverID ledger.UserID, amount int64, draft ledger.PraiseDraft) (ledger.PraiseEvent, error) {
	ev, err := ledger.BuildPraise(receiverID, amount, draft, s.now())
	if err != nil {
		return ledger.PraiseEvent{}, err
	}

	err = s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := requireUser(ctx, tx, ev.GiverID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET balance = balance + ? WHERE id = ?`, amount, receiverID)
		if err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.NotFound("user", receiverID)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO praise_events
			(id, giver_id, receiver_id, message, core_value_id, points_awarded, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.GiverID, ev.ReceiverID, ev.Message, ev.CoreValueID,
			ev.PointsAwarded, nullString(ev.IdempotencyKey), ev.CreatedAt.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("failed to append praise: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.PraiseEvent{}, err
	}
	return ev, nil
}

// DebitPoints re-reads the balance under the write lock, then inserts the
// pending redemption and decrements, or rejects without effect.
func (s *Store) DebitPoints(ctx context.Context, userID ledger.UserID, amount int64, draft ledger.RedemptionDraft) (ledger.RedemptionEvent, error) {
	ev, err := ledger.BuildRedemption(userID, amount, draft, s.now())
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}

	err = s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.NotFound("user", userID)
		}
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if balance < amount {
			return &ledger.InsufficientBalanceError{UserID: userID, Available: balance, Requested: amount}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`,
			amount, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Another writer moved the balance between read and update.
			return ledger.ErrConflict
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO redemption_events
			(id, user_id, reward_id, points_spent, status, idempotency_key, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.UserID, ev.RewardID, ev.PointsSpent, ev.Status,
			nullString(ev.IdempotencyKey), ev.CreatedAt.UnixMicro(), ev.UpdatedAt.UnixMicro(),
		)
		if err != nil {
			return fmt.Errorf("failed to append redemption: %w", err)
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
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		r, err = scanRedemption(tx.QueryRowContext(ctx,
			`SELECT `+redemptionColumns+` FROM redemption_events WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.NotFound("redemption", id)
		}
		if err != nil {
			return err
		}
		if err := r.Transition(to, s.now()); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE redemption_events SET status = ?, updated_at = ? WHERE id = ?`,
			r.Status, r.UpdatedAt.UnixMicro(), r.ID); err != nil {
			return fmt.Errorf("failed to update redemption: %w", err)
		}
		if to == ledger.RedemptionCancelled {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET balance = balance + ? WHERE id = ?`,
				r.PointsSpent, r.UserID); err != nil {
				return fmt.Errorf("failed to re-credit balance: %w", err)
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

const praiseColumns = `id, giver_id, receiver_id, message, core_value_id, points_awarded,
	COALESCE(idempotency_key, ''), created_at`

func (s *Store) GetRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	r, err := scanRedemption(s.db.QueryRowContext(ctx,
		`SELECT `+redemptionColumns+` FROM redemption_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RedemptionEvent{}, ledger.NotFound("redemption", id)
	}
	return r, err
}

func (s *Store) ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.RedemptionEvent, error) {
	if err := requireUser(ctx, s.db, userID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+redemptionColumns+` FROM redemption_events
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+praiseColumns+` FROM praise_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, ledger.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query praise: %w", err)
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

	query := `
		SELECT kind, id, counterpart, message, ref_id, points, status, idem, created_at, updated_at
		FROM (
			SELECT 'praise' AS kind, id, giver_id AS counterpart, message, core_value_id AS ref_id,
			       points_awarded AS points, '' AS status, COALESCE(idempotency_key, '') AS idem,
			       created_at, created_at AS updated_at
			FROM praise_events WHERE receiver_id = ?
			UNION ALL
			SELECT 'redemption', id, '', '', reward_id,
			       points_spent, status, COALESCE(idempotency_key, ''),
			       created_at, updated_at
			FROM redemption_events WHERE user_id = ?
		)`
	args := []any{userID, userID}
	if hasCursor {
		at := after.At.UnixMicro()
		query += ` WHERE created_at < ? OR (created_at = ? AND id < ?)`
		args = append(args, at, at, after.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ledger.HistoryPage{}, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			kind, id, counterpart, message, refID, status, idem string
			points, createdAt, updatedAt                        int64
		)
		if err := rows.Scan(&kind, &id, &counterpart, &message, &refID, &points, &status, &idem, &createdAt, &updatedAt); err != nil {
			return ledger.HistoryPage{}, fmt.Errorf("failed to scan history: %w", err)
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
				CreatedAt:      fromMicros(createdAt),
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
			CreatedAt:      fromMicros(createdAt),
			UpdatedAt:      fromMicros(updatedAt),
		}))
	}
	if err := rows.Err(); err != nil {
		return ledger.HistoryPage{}, err
	}
	return ledger.PageFromRows(entries, pageSize), nil
}

// CheckBalance reads cached and derived balances in a single statement, so
// both come from the same snapshot.
func (s *Store) CheckBalance(ctx context.Context, id ledger.UserID) (ledger.BalanceCheck, error) {
	check := ledger.BalanceCheck{UserID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT u.balance,
		       COALESCE((SELECT SUM(points_awarded) FROM praise_events WHERE receiver_id = u.id), 0)
		     - COALESCE((SELECT SUM(points_spent) FROM redemption_events
		                 WHERE user_id = u.id AND status <> 'cancelled'), 0)
		FROM users u WHERE u.id = ?`, id).Scan(&check.Cached, &check.Derived)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.BalanceCheck{}, ledger.NotFound("user", id)
	}
	if err != nil {
		return ledger.BalanceCheck{}, fmt.Errorf("failed to check balance: %w", err)
	}
	return check, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func requireUser(ctx context.Context, q queryer, id ledger.UserID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NotFound("user", id)
	}
	return err
}

func scanUser(row scanner) (ledger.User, error) {
	var (
		u         ledger.User
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Balance, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = fromMicros(createdAt)
	return u, nil
}

func scanRedemption(row scanner) (ledger.RedemptionEvent, error) {
	var (
		r                    ledger.RedemptionEvent
		createdAt, updatedAt int64
	)
	err := row.Scan(&r.ID, &r.UserID, &r.RewardID, &r.PointsSpent, &r.Status,
		&r.IdempotencyKey, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan redemption: %w", err)
	}
	r.CreatedAt = fromMicros(createdAt)
	r.UpdatedAt = fromMicros(updatedAt)
	return r, nil
}

func scanPraise(row scanner) (ledger.PraiseEvent, error) {
	var (
		p         ledger.PraiseEvent
		createdAt int64
	)
	err := row.Scan(&p.ID, &p.GiverID, &p.ReceiverID, &p.Message, &p.CoreValueID,
		&p.PointsAwarded, &p.IdempotencyKey, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan praise: %w", err)
	}
	p.CreatedAt = fromMicros(createdAt)
	return p, nil
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// mapError translates SQLite result codes into ledger errors. Errors that are
// already ledger errors, or unrelated, pass through.
func mapError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	case sqlite3.ErrConstraint:
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", ledger.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", ledger.ErrNotFound, err)
		case sqlite3.ErrConstraintTrigger:
			return fmt.Errorf("%w: %v", ledger.ErrInvalidState, err)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
		}
	}
	return err
}
