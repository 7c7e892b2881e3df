/*
ledger.go - Validation and conflict retry around a Store

PURPOSE:
  Ledger is what the praise and redemption services call. It adds two things
  on top of a Store:
  1. Argument validation before the store is touched, so a bad request never
     opens a transaction.
  2. Bounded retry of ErrConflict. A conflict means the store rolled back
     without effect, so re-running the whole operation is safe.

  Everything else passes through unchanged; errors are never coerced into
  default values.

EXAMPLE:
  l := ledger.New(store, ledger.WithMaxRetries(3))
  ev, err := l.DebitPoints(ctx, "u-1", 50, ledger.RedemptionDraft{RewardID: "mug"})
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      // tell the user
  }
*/
package ledger

import (
	"context"
	"fmt"
	"iter"
	"time"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 5 * time.Millisecond
)

type Ledger struct {
	store      Store
	maxRetries int
	backoff    time.Duration
}

type Option func(*Ledger)

// WithMaxRetries sets how many times a conflicting operation is re-run.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts; attempt k waits k*d.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Ledger) { l.backoff = d }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store for read-only collaborators.
func (l *Ledger) Store() Store { return l.store }

// =============================================================================
// BALANCE-AFFECTING OPERATIONS
// =============================================================================

func (l *Ledger) CreditPoints(ctx context.Context, receiverID UserID, amount int64, draft PraiseDraft) (PraiseEvent, error) {
	if err := ValidateCredit(receiverID, amount, draft); err != nil {
		return PraiseEvent{}, err
	}
	return withRetry(ctx, l, func() (PraiseEvent, error) {
		return l.store.CreditPoints(ctx, receiverID, amount, draft)
	})
}

func (l *Ledger) DebitPoints(ctx context.Context, userID UserID, amount int64, draft RedemptionDraft) (RedemptionEvent, error) {
	if err := ValidateDebit(userID, amount, draft); err != nil {
		return RedemptionEvent{}, err
	}
	return withRetry(ctx, l, func() (RedemptionEvent, error) {
		return l.store.DebitPoints(ctx, userID, amount, draft)
	})
}

func (l *Ledger) CancelRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error) {
	if id == "" {
		return RedemptionEvent{}, invalidArgument("redemption id is required")
	}
	return withRetry(ctx, l, func() (RedemptionEvent, error) {
		return l.store.CancelRedemption(ctx, id)
	})
}

func (l *Ledger) FulfillRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error) {
	if id == "" {
		return RedemptionEvent{}, invalidArgument("redemption id is required")
	}
	return withRetry(ctx, l, func() (RedemptionEvent, error) {
		return l.store.FulfillRedemption(ctx, id)
	})
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) CreateUser(ctx context.Context, u NewUser) (User, error) {
	n, err := u.Normalize()
	if err != nil {
		return User{}, err
	}
	return l.store.CreateUser(ctx, n)
}

func (l *Ledger) GetUser(ctx context.Context, id UserID) (User, error) {
	return l.store.GetUser(ctx, id)
}

func (l *Ledger) ListUsers(ctx context.Context) ([]User, error) {
	return l.store.ListUsers(ctx)
}

func (l *Ledger) GetBalance(ctx context.Context, id UserID) (int64, error) {
	return l.store.GetBalance(ctx, id)
}

func (l *Ledger) ListHistory(ctx context.Context, userID UserID, cursor Cursor, pageSize int) (HistoryPage, error) {
	return l.store.ListHistory(ctx, userID, cursor, NormalizePageSize(pageSize))
}

func (l *Ledger) GetRedemption(ctx context.Context, id RedemptionID) (RedemptionEvent, error) {
	return l.store.GetRedemption(ctx, id)
}

func (l *Ledger) ListRedemptions(ctx context.Context, userID UserID) ([]RedemptionEvent, error) {
	return l.store.ListRedemptions(ctx, userID)
}

func (l *Ledger) ListRecentPraise(ctx context.Context, limit int) ([]PraiseEvent, error) {
	return l.store.ListRecentPraise(ctx, NormalizeLimit(limit))
}

// History walks a user's whole feed lazily, one page at a time. Iteration
// stops at the first error, which is yielded once.
func (l *Ledger) History(ctx context.Context, userID UserID, pageSize int) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		var cursor Cursor
		for {
			page, err := l.ListHistory(ctx, userID, cursor, pageSize)
			if err != nil {
				yield(HistoryEntry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// =============================================================================
// RETRY
// =============================================================================

func withRetry[T any](ctx context.Context, l *Ledger, op func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := op()
		if err == nil || !IsRetryable(err) {
			return res, err
		}
		if attempt > l.maxRetries {
			return zero, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(l.backoff * time.Duration(attempt)):
		}
	}
}
