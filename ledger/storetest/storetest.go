/*
Package storetest holds the behaviour every ledger.Store implementation must
show. Backends call Run from their own tests:

	func TestMemoryStore(t *testing.T) {
	    storetest.Run(t, func(t *testing.T, now func() time.Time) ledger.Store {
	        return store.NewMemory(store.WithClock(now))
	    })
	}

Each subtest gets a fresh store and a ticking clock, so event order is the
order of calls.
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/praise-ledger/ledger"
)

// Factory builds an empty store whose event timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) ledger.Store

// Clock returns a strictly later instant on every call.
type Clock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

func NewClock() *Clock {
	return &Clock{
		at:   time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(c.step)
	return c.at
}

// Run executes the full suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"CreateUser/StartsAtZero", testCreateUserStartsAtZero},
		{"CreateUser/DuplicateEmail", testCreateUserDuplicateEmail},
		{"GetUser/Unknown", testGetUserUnknown},
		{"Credit/IncrementsReceiver", testCreditIncrementsReceiver},
		{"Credit/UnknownUsers", testCreditUnknownUsers},
		{"Credit/SelfPraiseRejected", testCreditSelfPraise},
		{"Credit/IdempotencyKeyReused", testCreditIdempotencyKey},
		{"Credit/DuplicateIDRejected", testCreditDuplicateID},
		{"Debit/DecrementsAndRecordsPending", testDebitDecrements},
		{"Debit/ExactBalance", testDebitExactBalance},
		{"Debit/Insufficient", testDebitInsufficient},
		{"Debit/IdempotencyKeyReused", testDebitIdempotencyKey},
		{"Cancel/ReCredits", testCancelReCredits},
		{"Fulfill/KeepsBalance", testFulfillKeepsBalance},
		{"Transition/Unknown", testTransitionUnknown},
		{"History/NewestFirst", testHistoryNewestFirst},
		{"History/PagesCoverEverything", testHistoryPagination},
		{"History/BadCursorAndUnknownUser", testHistoryErrors},
		{"ListRedemptions/NewestFirst", testListRedemptions},
		{"ListRecentPraise/Limit", testRecentPraise},
		{"CheckBalance/MatchesEvents", testCheckBalance},
		{"Concurrency/TwoDebitsOneWins", testTwoDebitsOneWins},
		{"Concurrency/ManyRacers", testManyRacers},
		{"Concurrency/MixedTraffic", testMixedTraffic},
		{"Scenario/PraiseRedeemCancel", testEndToEnd},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock()
			tc.fn(t, newStore(t, clock.Now))
		})
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func mustUser(t *testing.T, s ledger.Store, name string) ledger.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), ledger.NewUser{
		Name:  name,
		Email: name + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func praise(giver ledger.UserID) ledger.PraiseDraft {
	return ledger.PraiseDraft{
		GiverID:     giver,
		Message:     "thanks for the help",
		CoreValueID: "teamwork",
	}
}

func mustCredit(t *testing.T, s ledger.Store, to, from ledger.UserID, amount int64) ledger.PraiseEvent {
	t.Helper()
	ev, err := s.CreditPoints(context.Background(), to, amount, praise(from))
	require.NoError(t, err)
	return ev
}

func mustDebit(t *testing.T, s ledger.Store, user ledger.UserID, amount int64) ledger.RedemptionEvent {
	t.Helper()
	ev, err := s.DebitPoints(context.Background(), user, amount, ledger.RedemptionDraft{RewardID: "mug"})
	require.NoError(t, err)
	return ev
}

func balanceOf(t *testing.T, s ledger.Store, id ledger.UserID) int64 {
	t.Helper()
	b, err := s.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func assertConsistent(t *testing.T, s ledger.Store, id ledger.UserID) {
	t.Helper()
	check, err := s.CheckBalance(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, check.Consistent(), "cached %d, derived %d", check.Cached, check.Derived)
}

func historyIDs(entries []ledger.HistoryEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Key().ID
	}
	return ids
}

// =============================================================================
// USERS
// =============================================================================

func testCreateUserStartsAtZero(t *testing.T, s ledger.Store) {
	u, err := s.CreateUser(context.Background(), ledger.NewUser{Name: "  Ada ", Email: "ADA@Example.com"})
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Zero(t, u.Balance)

	got, err := s.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Zero(t, got.Balance)
}

func testCreateUserDuplicateEmail(t *testing.T, s ledger.Store) {
	mustUser(t, s, "ada")

	_, err := s.CreateUser(context.Background(), ledger.NewUser{Name: "Other", Email: "ada@example.com"})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testGetUserUnknown(t *testing.T, s ledger.Store) {
	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CREDIT
// =============================================================================

func testCreditIncrementsReceiver(t *testing.T, s ledger.Store) {
	// GIVEN: Two users at zero
	// WHEN: A praises B for 10 points
	// THEN: B has 10, A still has 0, the event records both sides
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")

	ev := mustCredit(t, s, b.ID, a.ID, 10)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, a.ID, ev.GiverID)
	assert.Equal(t, b.ID, ev.ReceiverID)
	assert.Equal(t, int64(10), ev.PointsAwarded)
	assert.Equal(t, ledger.CoreValueID("teamwork"), ev.CoreValueID)
	assert.Equal(t, int64(10), balanceOf(t, s, b.ID))
	assert.Zero(t, balanceOf(t, s, a.ID))
}

func testCreditUnknownUsers(t *testing.T, s ledger.Store) {
	a := mustUser(t, s, "alice")
	ctx := context.Background()

	_, err := s.CreditPoints(ctx, "ghost", 10, praise(a.ID))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.CreditPoints(ctx, a.ID, 10, praise("ghost"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Zero(t, balanceOf(t, s, a.ID))
	feed, err := s.ListRecentPraise(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func testCreditSelfPraise(t *testing.T, s ledger.Store) {
	a := mustUser(t, s, "alice")

	_, err := s.CreditPoints(context.Background(), a.ID, 10, praise(a.ID))
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.Zero(t, balanceOf(t, s, a.ID))
}

func testCreditIdempotencyKey(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	draft := praise(a.ID)
	draft.IdempotencyKey = "req-1"

	_, err := s.CreditPoints(context.Background(), b.ID, 10, draft)
	require.NoError(t, err)
	_, err = s.CreditPoints(context.Background(), b.ID, 10, draft)
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	assert.Equal(t, int64(10), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

func testCreditDuplicateID(t *testing.T, s ledger.Store) {
	a, b, c := mustUser(t, s, "alice"), mustUser(t, s, "bob"), mustUser(t, s, "carol")
	draft := praise(a.ID)
	draft.ID = "p-1"

	_, err := s.CreditPoints(context.Background(), b.ID, 10, draft)
	require.NoError(t, err)
	_, err = s.CreditPoints(context.Background(), c.ID, 10, draft)
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	assert.Equal(t, int64(10), balanceOf(t, s, b.ID))
	assert.Zero(t, balanceOf(t, s, c.ID))
	assertConsistent(t, s, b.ID)
	assertConsistent(t, s, c.ID)
}

// =============================================================================
// DEBIT
// =============================================================================

func testDebitDecrements(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 30)

	r := mustDebit(t, s, b.ID, 25)

	assert.Equal(t, ledger.RedemptionPending, r.Status)
	assert.Equal(t, int64(25), r.PointsSpent)
	assert.Equal(t, ledger.RewardID("mug"), r.RewardID)
	assert.Equal(t, int64(5), balanceOf(t, s, b.ID))

	got, err := s.GetRedemption(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, ledger.RedemptionPending, got.Status)
	assertConsistent(t, s, b.ID)
}

func testDebitExactBalance(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 20)

	mustDebit(t, s, b.ID, 20)
	assert.Zero(t, balanceOf(t, s, b.ID))
}

func testDebitInsufficient(t *testing.T, s ledger.Store) {
	// GIVEN: B has 10 points
	// WHEN: B tries to spend 11
	// THEN: Rejected with details, nothing recorded, balance unchanged
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 10)

	_, err := s.DebitPoints(context.Background(), b.ID, 11, ledger.RedemptionDraft{RewardID: "mug"})

	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	var ibe *ledger.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.Equal(t, int64(10), ibe.Available)
	assert.Equal(t, int64(11), ibe.Requested)
	assert.Equal(t, int64(1), ibe.Shortfall())

	assert.Equal(t, int64(10), balanceOf(t, s, b.ID))
	redemptions, err := s.ListRedemptions(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Empty(t, redemptions)
}

func testDebitIdempotencyKey(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 50)
	draft := ledger.RedemptionDraft{RewardID: "mug", IdempotencyKey: "redeem-1"}

	_, err := s.DebitPoints(context.Background(), b.ID, 10, draft)
	require.NoError(t, err)
	_, err = s.DebitPoints(context.Background(), b.ID, 10, draft)
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	assert.Equal(t, int64(40), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

// =============================================================================
// REDEMPTION LIFECYCLE
// =============================================================================

func testCancelReCredits(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 30)
	r := mustDebit(t, s, b.ID, 25)
	ctx := context.Background()

	cancelled, err := s.CancelRedemption(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RedemptionCancelled, cancelled.Status)
	assert.Equal(t, int64(30), balanceOf(t, s, b.ID))

	// Terminal: a second cancel must not credit again.
	_, err = s.CancelRedemption(ctx, r.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)
	_, err = s.FulfillRedemption(ctx, r.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	assert.Equal(t, int64(30), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

func testFulfillKeepsBalance(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 30)
	r := mustDebit(t, s, b.ID, 25)
	ctx := context.Background()

	fulfilled, err := s.FulfillRedemption(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.RedemptionFulfilled, fulfilled.Status)
	assert.Equal(t, int64(5), balanceOf(t, s, b.ID))

	_, err = s.CancelRedemption(ctx, r.ID)
	var ise *ledger.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, ledger.RedemptionFulfilled, ise.From)
	assert.Equal(t, ledger.RedemptionCancelled, ise.To)

	assert.Equal(t, int64(5), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

func testTransitionUnknown(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, err := s.CancelRedemption(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.FulfillRedemption(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.GetRedemption(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// HISTORY
// =============================================================================

func testHistoryNewestFirst(t *testing.T, s ledger.Store) {
	a, b, c := mustUser(t, s, "alice"), mustUser(t, s, "bob"), mustUser(t, s, "carol")
	p1 := mustCredit(t, s, b.ID, a.ID, 10)
	mustCredit(t, s, a.ID, b.ID, 10) // not in bob's history
	p2 := mustCredit(t, s, b.ID, c.ID, 10)
	r := mustDebit(t, s, b.ID, 15)

	page, err := s.ListHistory(context.Background(), b.ID, "", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{string(r.ID), string(p2.ID), string(p1.ID)}, historyIDs(page.Entries))
	assert.Empty(t, page.NextCursor)

	require.NotNil(t, page.Entries[0].Redemption)
	assert.Equal(t, ledger.EntryRedemption, page.Entries[0].Kind)
	assert.Equal(t, int64(-15), page.Entries[0].Delta())
	require.NotNil(t, page.Entries[1].Praise)
	assert.Equal(t, c.ID, page.Entries[1].Praise.GiverID)
	assert.Equal(t, b.ID, page.Entries[1].Praise.ReceiverID)
}

func testHistoryPagination(t *testing.T, s ledger.Store) {
	// GIVEN: Bob has 7 history entries
	// WHEN: Paging through 3 at a time
	// THEN: Pages are 3, 3, 1 with no duplicates and strict newest-first order
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	for i := 0; i < 5; i++ {
		mustCredit(t, s, b.ID, a.ID, 10)
	}
	mustDebit(t, s, b.ID, 5)
	mustDebit(t, s, b.ID, 5)

	var (
		all    []ledger.HistoryEntry
		sizes  []int
		cursor ledger.Cursor
	)
	for {
		page, err := s.ListHistory(context.Background(), b.ID, cursor, 3)
		require.NoError(t, err)
		sizes = append(sizes, len(page.Entries))
		all = append(all, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []int{3, 3, 1}, sizes)
	seen := map[string]bool{}
	for i, e := range all {
		assert.False(t, seen[e.Key().ID], "duplicate entry %s", e.Key().ID)
		seen[e.Key().ID] = true
		if i > 0 {
			assert.True(t, all[i-1].Key().Before(e.Key()), "entries out of order at %d", i)
		}
	}
	assert.Len(t, seen, 7)
}

func testHistoryErrors(t *testing.T, s ledger.Store) {
	b := mustUser(t, s, "bob")

	_, err := s.ListHistory(context.Background(), b.ID, "%%not-a-cursor", 10)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = s.ListHistory(context.Background(), "ghost", "", 10)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	page, err := s.ListHistory(context.Background(), b.ID, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Empty(t, page.NextCursor)
}

func testListRedemptions(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 30)
	r1 := mustDebit(t, s, b.ID, 5)
	r2 := mustDebit(t, s, b.ID, 5)

	got, err := s.ListRedemptions(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, r2.ID, got[0].ID)
	assert.Equal(t, r1.ID, got[1].ID)

	_, err = s.ListRedemptions(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testRecentPraise(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	var last ledger.PraiseEvent
	for i := 0; i < 4; i++ {
		last = mustCredit(t, s, b.ID, a.ID, 10)
	}

	feed, err := s.ListRecentPraise(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, last.ID, feed[0].ID)
	assert.True(t, feed[0].CreatedAt.After(feed[1].CreatedAt))
}

func testCheckBalance(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 40)
	mustCredit(t, s, a.ID, b.ID, 10)
	r1 := mustDebit(t, s, b.ID, 15)
	r2 := mustDebit(t, s, b.ID, 5)
	_, err := s.CancelRedemption(context.Background(), r1.ID)
	require.NoError(t, err)
	_, err = s.FulfillRedemption(context.Background(), r2.ID)
	require.NoError(t, err)

	check, err := s.CheckBalance(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(35), check.Cached)
	assert.Equal(t, int64(35), check.Derived)
	assertConsistent(t, s, a.ID)

	_, err = s.CheckBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// race runs n debits of amount against user at once through a retrying
// Ledger and returns how many succeeded.
func race(t *testing.T, s ledger.Store, user ledger.UserID, n int, amount int64) int {
	t.Helper()
	l := ledger.New(s, ledger.WithMaxRetries(20), ledger.WithRetryBackoff(time.Millisecond))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.DebitPoints(context.Background(), user, amount, ledger.RedemptionDraft{RewardID: "mug"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range failures {
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	}
	return succeeded
}

func testTwoDebitsOneWins(t *testing.T, s ledger.Store) {
	// GIVEN: B has 10 points
	// WHEN: Two debits of 8 race
	// THEN: Exactly one succeeds and 2 points remain
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 10)

	assert.Equal(t, 1, race(t, s, b.ID, 2, 8))
	assert.Equal(t, int64(2), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

func testManyRacers(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	mustCredit(t, s, b.ID, a.ID, 100)

	// floor(100 / 7) = 14 winners, 2 points left over.
	assert.Equal(t, 14, race(t, s, b.ID, 25, 7))
	assert.Equal(t, int64(2), balanceOf(t, s, b.ID))
	assertConsistent(t, s, b.ID)
}

func testMixedTraffic(t *testing.T, s ledger.Store) {
	// GIVEN: Three users praising each other while spending
	// WHEN: Credits and debits run concurrently
	// THEN: Every balance still matches its events and none is negative
	users := []ledger.User{mustUser(t, s, "alice"), mustUser(t, s, "bob"), mustUser(t, s, "carol")}
	l := ledger.New(s, ledger.WithMaxRetries(20), ledger.WithRetryBackoff(time.Millisecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		giver := users[i%3]
		receiver := users[(i+1)%3]
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.CreditPoints(ctx, receiver.ID, 10, praise(giver.ID))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.DebitPoints(ctx, giver.ID, 15, ledger.RedemptionDraft{RewardID: "mug"})
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	for _, u := range users {
		assertConsistent(t, s, u.ID)
		assert.GreaterOrEqual(t, balanceOf(t, s, u.ID), int64(0))
	}
}

// =============================================================================
// SCENARIO
// =============================================================================

func testEndToEnd(t *testing.T, s ledger.Store) {
	a, b := mustUser(t, s, "alice"), mustUser(t, s, "bob")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCredit(t, s, b.ID, a.ID, 10)
	}
	require.Equal(t, int64(30), balanceOf(t, s, b.ID))

	r := mustDebit(t, s, b.ID, 25)
	require.Equal(t, int64(5), balanceOf(t, s, b.ID))

	_, err := s.CancelRedemption(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balanceOf(t, s, b.ID))

	page, err := s.ListHistory(ctx, b.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 4)
	assert.Equal(t, ledger.EntryRedemption, page.Entries[0].Kind)
	assert.Equal(t, ledger.RedemptionCancelled, page.Entries[0].Redemption.Status)

	var sum int64
	for _, e := range page.Entries {
		sum += e.Delta()
	}
	assert.Equal(t, int64(30), sum, fmt.Sprintf("history deltas: %v", page.Entries))
}
