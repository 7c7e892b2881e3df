package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/praise-ledger/ledger"
	"github.com/warp/praise-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// flakyStore loses the first `conflicts` debits to a pretend concurrent writer.
type flakyStore struct {
	ledger.Store
	conflicts int32
	calls     atomic.Int32
}

func (f *flakyStore) DebitPoints(ctx context.Context, userID ledger.UserID, amount int64, draft ledger.RedemptionDraft) (ledger.RedemptionEvent, error) {
	if f.calls.Add(1) <= f.conflicts {
		return ledger.RedemptionEvent{}, fmt.Errorf("serialization failure: %w", ledger.ErrConflict)
	}
	return f.Store.DebitPoints(ctx, userID, amount, draft)
}

// countingStore fails the test if any write reaches it.
type countingStore struct {
	ledger.Store
	writes atomic.Int32
}

func (c *countingStore) CreditPoints(ctx context.Context, r ledger.UserID, a int64, d ledger.PraiseDraft) (ledger.PraiseEvent, error) {
	c.writes.Add(1)
	return c.Store.CreditPoints(ctx, r, a, d)
}

func (c *countingStore) DebitPoints(ctx context.Context, u ledger.UserID, a int64, d ledger.RedemptionDraft) (ledger.RedemptionEvent, error) {
	c.writes.Add(1)
	return c.Store.DebitPoints(ctx, u, a, d)
}

func seeded(t *testing.T, s ledger.Store, points int64) (giver, receiver ledger.User) {
	t.Helper()
	ctx := context.Background()
	giver, err := s.CreateUser(ctx, ledger.NewUser{Name: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	receiver, err = s.CreateUser(ctx, ledger.NewUser{Name: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	if points > 0 {
		_, err = s.CreditPoints(ctx, receiver.ID, points, ledger.PraiseDraft{
			GiverID: giver.ID, Message: "great demo", CoreValueID: "craft",
		})
		require.NoError(t, err)
	}
	return giver, receiver
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_InvalidArguments_NeverReachStore(t *testing.T) {
	s := &countingStore{Store: store.NewMemory()}
	l := ledger.New(s)
	ctx := context.Background()
	draft := ledger.PraiseDraft{GiverID: "a", Message: "thanks", CoreValueID: "craft"}

	tests := []struct {
		name   string
		call func() error
	}{
		{"zero amount", func() error { _, err := l.CreditPoints(ctx, "b", 0, draft); return err }},
		{"negative amount", func() error { _, err := l.CreditPoints(ctx, "b", -5, draft); return err }},
		{"self praise", func() error { _, err := l.CreditPoints(ctx, "a", 10, draft); return err }},
		{"missing receiver", func() error { _, err := l.CreditPoints(ctx, "", 10, draft); return err }},
		{"blank message", func() error {
			d := draft
			d.Message = "   "
			_, err := l.CreditPoints(ctx, "b", 10, d)
			return err
		}},
		{"invalid utf-8 message", func() error {
			d := draft
			d.Message = "thanks \xff\xfe"
			_, err := l.CreditPoints(ctx, "b", 10, d)
			return err
		}},
		{"missing core value", func() error {
			d := draft
			d.CoreValueID = ""
			_, err := l.CreditPoints(ctx, "b", 10, d)
			return err
		}},
		{"debit zero", func() error {
			_, err := l.DebitPoints(ctx, "b", 0, ledger.RedemptionDraft{RewardID: "mug"})
			return err
		}},
		{"debit without reward", func() error {
			_, err := l.DebitPoints(ctx, "b", 5, ledger.RedemptionDraft{})
			return err
		}},
		{"cancel without id", func() error { _, err := l.CancelRedemption(ctx, ""); return err }},
		{"fulfill without id", func() error { _, err := l.FulfillRedemption(ctx, ""); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
			assert.True(t, ledger.IsClientError(err))
		})
	}
	assert.Zero(t, s.writes.Load())
}

func TestLedger_MessageTooLong(t *testing.T) {
	l := ledger.New(store.NewMemory())
	long := make([]rune, ledger.MaxMessageLength+1)
	for i := range long {
		long[i] = 'é'
	}

	_, err := l.CreditPoints(context.Background(), "b", 10, ledger.PraiseDraft{
		GiverID: "a", Message: string(long), CoreValueID: "craft",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

// =============================================================================
// RETRY
// =============================================================================

func TestLedger_Conflict_RetriedUntilSuccess(t *testing.T) {
	// GIVEN: A store that loses the first two debits to a concurrent writer
	// WHEN: Debiting through the Ledger
	// THEN: The third attempt succeeds and exactly one redemption exists
	mem := store.NewMemory()
	_, bob := seeded(t, mem, 20)
	flaky := &flakyStore{Store: mem, conflicts: 2}
	l := ledger.New(flaky, ledger.WithRetryBackoff(time.Microsecond))

	r, err := l.DebitPoints(context.Background(), bob.ID, 5, ledger.RedemptionDraft{RewardID: "mug"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, ledger.RedemptionPending, r.Status)
	redemptions, err := mem.ListRedemptions(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Len(t, redemptions, 1)
}

func TestLedger_Conflict_GivesUpAfterMaxRetries(t *testing.T) {
	mem := store.NewMemory()
	_, bob := seeded(t, mem, 20)
	flaky := &flakyStore{Store: mem, conflicts: 100}
	l := ledger.New(flaky, ledger.WithMaxRetries(2), ledger.WithRetryBackoff(time.Microsecond))

	_, err := l.DebitPoints(context.Background(), bob.ID, 5, ledger.RedemptionDraft{RewardID: "mug"})

	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, int32(3), flaky.calls.Load())

	bal, err := mem.GetBalance(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal)
}

func TestLedger_NonConflictErrors_NotRetried(t *testing.T) {
	mem := store.NewMemory()
	_, bob := seeded(t, mem, 5)
	flaky := &flakyStore{Store: mem}
	l := ledger.New(flaky)

	_, err := l.DebitPoints(context.Background(), bob.ID, 50, ledger.RedemptionDraft{RewardID: "mug"})

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, int32(1), flaky.calls.Load())
}

func TestLedger_Retry_StopsOnCancelledContext(t *testing.T) {
	mem := store.NewMemory()
	_, bob := seeded(t, mem, 20)
	flaky := &flakyStore{Store: mem, conflicts: 100}
	l := ledger.New(flaky, ledger.WithMaxRetries(50), ledger.WithRetryBackoff(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.DebitPoints(ctx, bob.ID, 5, ledger.RedemptionDraft{RewardID: "mug"})

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), flaky.calls.Load())
}

// =============================================================================
// READS
// =============================================================================

func TestLedger_History_IteratesAllPages(t *testing.T) {
	mem := store.NewMemory()
	alice, bob := seeded(t, mem, 0)
	l := ledger.New(mem)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, err := l.CreditPoints(ctx, bob.ID, 10, ledger.PraiseDraft{
			GiverID: alice.ID, Message: fmt.Sprintf("thanks #%d", i), CoreValueID: "craft",
		})
		require.NoError(t, err)
	}

	var total int64
	count := 0
	for e, err := range l.History(ctx, bob.ID, 3) {
		require.NoError(t, err)
		total += e.Delta()
		count++
	}

	assert.Equal(t, 7, count)
	assert.Equal(t, int64(70), total)
}

func TestLedger_History_YieldsError(t *testing.T) {
	l := ledger.New(store.NewMemory())

	var errs []error
	for _, err := range l.History(context.Background(), "ghost", 10) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.True(t, ledger.IsNotFound(errs[0]))
}

func TestLedger_CreateUser_Normalizes(t *testing.T) {
	l := ledger.New(store.NewMemory())

	_, err := l.CreateUser(context.Background(), ledger.NewUser{Name: "x", Email: "not-an-email"})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	u, err := l.CreateUser(context.Background(), ledger.NewUser{Name: " Grace ", Email: " Grace@Navy.mil "})
	require.NoError(t, err)
	assert.Equal(t, "grace@navy.mil", u.Email)
}
