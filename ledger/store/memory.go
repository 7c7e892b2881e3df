// Package store provides the in-memory ledger.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/praise-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in process memory.
//
// Locking: each user's account (balance and events) is guarded by that
// user's lock in locks. mu guards the maps and the global praise feed and is
// only ever taken after a user lock, never before one.
type Memory struct {
	locks ledger.UserLocks

	mu         sync.RWMutex
	accounts   map[ledger.UserID]*account
	emails     map[string]ledger.UserID
	owners     map[ledger.RedemptionID]ledger.UserID
	praiseIDs  map[ledger.PraiseID]bool
	praiseKeys map[string]bool
	redeemKeys map[string]bool
	praiseFeed []ledger.PraiseEvent
	now        func() time.Time
}

type account struct {
	user        ledger.User
	received    []ledger.PraiseEvent
	redemptions []*ledger.RedemptionEvent
}

type MemoryOption func(*Memory)

// WithClock overrides time.Now, mostly for deterministic tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		accounts:   make(map[ledger.UserID]*account),
		emails:     make(map[string]ledger.UserID),
		owners:     make(map[ledger.RedemptionID]ledger.UserID),
		praiseIDs:  make(map[ledger.PraiseID]bool),
		praiseKeys: make(map[string]bool),
		redeemKeys: make(map[string]bool),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ ledger.Store = (*Memory)(nil)

func (m *Memory) account(id ledger.UserID) (*account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ledger.NotFound("user", id)
	}
	return acct, nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) CreateUser(ctx context.Context, u ledger.NewUser) (ledger.User, error) {
	if err := ctx.Err(); err != nil {
		return ledger.User{}, err
	}
	n, err := u.Normalize()
	if err != nil {
		return ledger.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.emails[n.Email]; taken {
		return ledger.User{}, ledger.ErrDuplicate
	}
	if _, taken := m.accounts[n.ID]; taken {
		return ledger.User{}, ledger.ErrDuplicate
	}
	user := ledger.User{
		ID:        n.ID,
		Name:      n.Name,
		Email:     n.Email,
		CreatedAt: ledger.Timestamp(m.now()),
	}
	m.accounts[n.ID] = &account{user: user}
	m.emails[n.Email] = n.ID
	return user, nil
}

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	acct, err := m.account(id)
	if err != nil {
		return ledger.User{}, err
	}
	unlock := m.locks.Lock(id)
	defer unlock()
	return acct.user, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	ids := make([]ledger.UserID, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	users := make([]ledger.User, 0, len(ids))
	for _, id := range ids {
		u, err := m.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (m *Memory) GetBalance(ctx context.Context, id ledger.UserID) (int64, error) {
	u, err := m.GetUser(ctx, id)
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// =============================================================================
// BALANCE-AFFECTING OPERATIONS
// =============================================================================

func (m *Memory) CreditPoints(ctx context.Context, receiverID ledger.UserID, amount int64, draft ledger.PraiseDraft) (ledger.PraiseEvent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.PraiseEvent{}, err
	}
	ev, err := ledger.BuildPraise(receiverID, amount, draft, m.now())
	if err != nil {
		return ledger.PraiseEvent{}, err
	}
	if _, err := m.account(draft.GiverID); err != nil {
		return ledger.PraiseEvent{}, err
	}
	acct, err := m.account(receiverID)
	if err != nil {
		return ledger.PraiseEvent{}, err
	}

	unlock := m.locks.Lock(receiverID)
	defer unlock()

	m.mu.Lock()
	if m.praiseIDs[ev.ID] || (ev.IdempotencyKey != "" && m.praiseKeys[ev.IdempotencyKey]) {
		m.mu.Unlock()
		return ledger.PraiseEvent{}, ledger.ErrDuplicate
	}
	m.praiseIDs[ev.ID] = true
	if ev.IdempotencyKey != "" {
		m.praiseKeys[ev.IdempotencyKey] = true
	}
	m.praiseFeed = append(m.praiseFeed, ev)
	m.mu.Unlock()

	acct.received = append(acct.received, ev)
	acct.user.Balance += amount
	return ev, nil
}

func (m *Memory) DebitPoints(ctx context.Context, userID ledger.UserID, amount int64, draft ledger.RedemptionDraft) (ledger.RedemptionEvent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.RedemptionEvent{}, err
	}
	ev, err := ledger.BuildRedemption(userID, amount, draft, m.now())
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	acct, err := m.account(userID)
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	if acct.user.Balance < amount {
		return ledger.RedemptionEvent{}, &ledger.InsufficientBalanceError{
			UserID:    userID,
			Available: acct.user.Balance,
			Requested: amount,
		}
	}

	m.mu.Lock()
	if _, taken := m.owners[ev.ID]; taken {
		m.mu.Unlock()
		return ledger.RedemptionEvent{}, ledger.ErrDuplicate
	}
	if ev.IdempotencyKey != "" {
		if m.redeemKeys[ev.IdempotencyKey] {
			m.mu.Unlock()
			return ledger.RedemptionEvent{}, ledger.ErrDuplicate
		}
		m.redeemKeys[ev.IdempotencyKey] = true
	}
	m.owners[ev.ID] = userID
	m.mu.Unlock()

	stored := ev
	acct.redemptions = append(acct.redemptions, &stored)
	acct.user.Balance -= amount
	return ev, nil
}

func (m *Memory) CancelRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return m.transition(ctx, id, ledger.RedemptionCancelled)
}

func (m *Memory) FulfillRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return m.transition(ctx, id, ledger.RedemptionFulfilled)
}

func (m *Memory) transition(ctx context.Context, id ledger.RedemptionID, to ledger.RedemptionStatus) (ledger.RedemptionEvent, error) {
	if err := ctx.Err(); err != nil {
		return ledger.RedemptionEvent{}, err
	}
	acct, unlock, err := m.lockOwner(id)
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	defer unlock()

	r := acct.find(id)
	if err := r.Transition(to, m.now()); err != nil {
		return ledger.RedemptionEvent{}, err
	}
	if to == ledger.RedemptionCancelled {
		acct.user.Balance += r.PointsSpent
	}
	return *r, nil
}

// lockOwner finds the account owning redemption id and locks it.
func (m *Memory) lockOwner(id ledger.RedemptionID) (*account, func(), error) {
	m.mu.RLock()
	owner, ok := m.owners[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ledger.NotFound("redemption", id)
	}
	acct, err := m.account(owner)
	if err != nil {
		return nil, nil, err
	}
	return acct, m.locks.Lock(owner), nil
}

func (a *account) find(id ledger.RedemptionID) *ledger.RedemptionEvent {
	for _, r := range a.redemptions {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Memory) GetRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	acct, unlock, err := m.lockOwner(id)
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	defer unlock()
	return *acct.find(id), nil
}

func (m *Memory) ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.RedemptionEvent, error) {
	acct, err := m.account(userID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(userID)
	defer unlock()

	out := make([]ledger.RedemptionEvent, 0, len(acct.redemptions))
	for i := len(acct.redemptions) - 1; i >= 0; i-- {
		out = append(out, *acct.redemptions[i])
	}
	return out, nil
}

func (m *Memory) ListRecentPraise(ctx context.Context, limit int) ([]ledger.PraiseEvent, error) {
	limit = ledger.NormalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.PraiseEvent, 0, min(limit, len(m.praiseFeed)))
	for i := len(m.praiseFeed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.praiseFeed[i])
	}
	return out, nil
}

func (m *Memory) ListHistory(ctx context.Context, userID ledger.UserID, cursor ledger.Cursor, pageSize int) (ledger.HistoryPage, error) {
	acct, err := m.account(userID)
	if err != nil {
		return ledger.HistoryPage{}, err
	}
	unlock := m.locks.Lock(userID)
	entries := make([]ledger.HistoryEntry, 0, len(acct.received)+len(acct.redemptions))
	for _, p := range acct.received {
		entries = append(entries, ledger.PraiseEntry(p))
	}
	for _, r := range acct.redemptions {
		entries = append(entries, ledger.RedemptionEntry(*r))
	}
	unlock()

	ledger.SortHistory(entries)
	return ledger.PaginateHistory(entries, cursor, pageSize)
}

func (m *Memory) CheckBalance(ctx context.Context, id ledger.UserID) (ledger.BalanceCheck, error) {
	acct, err := m.account(id)
	if err != nil {
		return ledger.BalanceCheck{}, err
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	var derived int64
	for _, p := range acct.received {
		derived += p.PointsAwarded
	}
	for _, r := range acct.redemptions {
		if r.Status != ledger.RedemptionCancelled {
			derived -= r.PointsSpent
		}
	}
	return ledger.BalanceCheck{UserID: id, Cached: acct.user.Balance, Derived: derived}, nil
}
