package praise_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/ledger"
	"github.com/warp/praise-ledger/ledger/store"
	"github.com/warp/praise-ledger/praise"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// countingCatalog records lookups so tests can assert nothing was fetched.
type countingCatalog struct {
	catalog.Provider
	lookups int
}

func (c *countingCatalog) GetCoreValue(ctx context.Context, id ledger.CoreValueID) (ledger.CoreValue, error) {
	c.lookups++
	return c.Provider.GetCoreValue(ctx, id)
}

type fixture struct {
	svc     *praise.Service
	store   *store.Memory
	catalog *countingCatalog
	alice   ledger.User
	bob     ledger.User
}

func newFixture(t *testing.T, policy praise.Policy) fixture {
	t.Helper()
	static, err := catalog.NewStatic([]ledger.CoreValue{
		{ID: "teamwork", Name: "Teamwork"},
		{ID: "ownership", Name: "Ownership"},
	}, nil)
	require.NoError(t, err)

	mem := store.NewMemory()
	ctx := context.Background()
	alice, err := mem.CreateUser(ctx, ledger.NewUser{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	bob, err := mem.CreateUser(ctx, ledger.NewUser{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)

	cat := &countingCatalog{Provider: static}
	return fixture{
		svc:     praise.NewService(ledger.New(mem), cat, policy),
		store:   mem,
		catalog: cat,
		alice:   alice,
		bob:     bob,
	}
}

func (f fixture) balance(t *testing.T, id ledger.UserID) int64 {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// =============================================================================
// GIVE
// =============================================================================

func TestGive_CreditsReceiverWithPolicyPoints(t *testing.T) {
	// GIVEN: A policy worth 10 points per praise
	// WHEN: Alice praises Bob for Teamwork
	// THEN: Bob gains 10 points, Alice is unchanged
	f := newFixture(t, praise.DefaultPolicy())

	ev, err := f.svc.Give(context.Background(), praise.GiveInput{
		GiverID:     f.alice.ID,
		ReceiverID:  f.bob.ID,
		Message:     "  Thanks for unblocking the release  ",
		CoreValueID: "teamwork",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(10), ev.PointsAwarded)
	assert.Equal(t, "Thanks for unblocking the release", ev.Message)
	assert.Equal(t, int64(10), f.balance(t, f.bob.ID))
	assert.Zero(t, f.balance(t, f.alice.ID))
}

func TestGive_ConfiguredPoints(t *testing.T) {
	f := newFixture(t, praise.Policy{PointsPerPraise: 25})

	ev, err := f.svc.Give(context.Background(), praise.GiveInput{
		GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: "great", CoreValueID: "ownership",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(25), ev.PointsAwarded)
}

func TestGive_InvalidRequests_NoLookupNoCredit(t *testing.T) {
	f := newFixture(t, praise.DefaultPolicy())

	tests := []struct {
		name string
		in   praise.GiveInput
	}{
		{"self praise", praise.GiveInput{GiverID: f.bob.ID, ReceiverID: f.bob.ID, Message: "me", CoreValueID: "teamwork"}},
		{"empty message", praise.GiveInput{GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: " \n\t", CoreValueID: "teamwork"}},
		{"message too long", praise.GiveInput{GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: strings.Repeat("a", ledger.MaxMessageLength+1), CoreValueID: "teamwork"}},
		{"missing core value", praise.GiveInput{GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: "hi"}},
		{"missing receiver", praise.GiveInput{GiverID: f.alice.ID, Message: "hi", CoreValueID: "teamwork"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Give(context.Background(), tt.in)
			assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
		})
	}

	assert.Zero(t, f.catalog.lookups)
	assert.Zero(t, f.balance(t, f.bob.ID))
}

func TestGive_UnknownCoreValue(t *testing.T) {
	f := newFixture(t, praise.DefaultPolicy())

	_, err := f.svc.Give(context.Background(), praise.GiveInput{
		GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: "hi", CoreValueID: "synergy",
	})

	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Zero(t, f.balance(t, f.bob.ID))
}

func TestGive_UnknownReceiver(t *testing.T) {
	f := newFixture(t, praise.DefaultPolicy())

	_, err := f.svc.Give(context.Background(), praise.GiveInput{
		GiverID: f.alice.ID, ReceiverID: "ghost", Message: "hi", CoreValueID: "teamwork",
	})

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestGive_IdempotencyKeyReplayRejected(t *testing.T) {
	f := newFixture(t, praise.DefaultPolicy())
	in := praise.GiveInput{
		GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: "hi", CoreValueID: "teamwork", IdempotencyKey: "slack-123",
	}

	_, err := f.svc.Give(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Give(context.Background(), in)

	assert.ErrorIs(t, err, ledger.ErrDuplicate)
	assert.Equal(t, int64(10), f.balance(t, f.bob.ID))
}

func TestRecent_NewestFirst(t *testing.T) {
	f := newFixture(t, praise.DefaultPolicy())
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		_, err := f.svc.Give(ctx, praise.GiveInput{
			GiverID: f.alice.ID, ReceiverID: f.bob.ID, Message: msg, CoreValueID: "teamwork",
		})
		require.NoError(t, err)
	}

	feed, err := f.svc.Recent(ctx, 2)

	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "third", feed[0].Message)
}
