/*
store.go - Persistence contract for the points ledger

PURPOSE:
  The Store is the single source of truth for balances and event history.
  It alone writes User.Balance, and every write that changes a balance
  also appends the event that explains it, in the same transaction.

WRITE PATHS:
  CreditPoints:       insert praise + increment receiver balance
  DebitPoints:        lock balance, check funds, insert redemption + decrement
  CancelRedemption:   pending -> cancelled + re-credit points_spent
  FulfillRedemption:  pending -> fulfilled, no balance effect

  There is no operation that sets a balance directly.

CONCURRENCY:
  Balance-affecting operations on the same user are linearizable. Different
  users must not block each other beyond what the backend imposes (SQLite
  has a single writer). A store that loses a serialization race returns
  ErrConflict and leaves no partial effect.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, per-user locks
  - store/sqlite: SQLite with BEGIN IMMEDIATE transactions
  - store/postgres: PostgreSQL with SELECT ... FOR UPDATE row locks
*/
package ledger

import "context"

// Store handles persistence of users, balances and events.
type Store interface {
	// CreateUser registers a user with a zero balance.
	// Returns ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, u NewUser) (User, error)
	GetUser(ctx context.Context, id UserID) (User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// CreditPoints atomically inserts the praise and increments the
	// receiver's balance by amount. Returns ErrDuplicate when the event ID
	// or idempotency key was already used.
	CreditPoints(ctx context.Context, receiverID UserID, amount int64, draft PraiseDraft) (PraiseEvent, error)

	// DebitPoints atomically re-reads the balance, rejects with
	// *InsufficientBalanceError when balance < amount, otherwise inserts a
	// pending redemption and decrements the balance.
	DebitPoints(ctx context.Context, userID UserID, amount int64, draft RedemptionDraft) (RedemptionEvent, error)

	// GetBalance is a read-committed point-in-time read.
	GetBalance(ctx context.Context, id UserID) (int64, error)

	// ListHistory returns praise received and redemptions made, newest first.
	ListHistory(ctx context.Context, userID UserID, cursor Cursor, pageSize int) (HistoryPage, error)

	CancelRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error)
	FulfillRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error)

	GetRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error)
	ListRedemptions(ctx context.Context, userID UserID) ([]RedemptionEvent, error)
	ListRecentPraise(ctx context.Context, limit int) ([]PraiseEvent, error)

	// CheckBalance reads the cached balance and the balance derived from the
	// event log in one consistent view.
	CheckBalance(ctx context.Context, id UserID) (BalanceCheck, error)
}

// DefaultRecentPraiseLimit applies when ListRecentPraise gets limit <= 0.
const DefaultRecentPraiseLimit = 50

// NormalizeLimit clamps a feed limit into [1, 200].
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentPraiseLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}
