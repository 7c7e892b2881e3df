package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(id string, at time.Time) HistoryEntry {
	return PraiseEntry(PraiseEvent{ID: PraiseID(id), PointsAwarded: 1, CreatedAt: at})
}

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2025, time.June, 3, 14, 5, 6, 789123000, time.UTC)
	key := HistoryKey{At: at, ID: "01J|weird|id"}

	got, ok, err := EncodeCursor(key).Decode()

	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.At.Equal(at))
	assert.Equal(t, key.ID, got.ID)
}

func TestCursor_ZeroValueMeansStart(t *testing.T) {
	_, ok, err := Cursor("").Decode()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursor_Malformed(t *testing.T) {
	for _, c := range []Cursor{"!!!", "bm9waXBl", "YWJjfA"} {
		_, _, err := c.Decode()
		assert.ErrorIs(t, err, ErrInvalidArgument, "cursor %q", c)
	}
}

func TestSortHistory_NewestFirst_TiesByIDDesc(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		entryAt("a", t0),
		entryAt("c", t0.Add(time.Second)),
		entryAt("b", t0),
		entryAt("d", t0.Add(-time.Second)),
	}

	SortHistory(entries)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Key().ID
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

func TestPaginateHistory_ResumesAfterCursor(t *testing.T) {
	// GIVEN: Five entries, two sharing a timestamp
	// WHEN: Paging two at a time
	// THEN: Pages are [e5 e4] [e3 e2] [e1], the tie never splits or repeats
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []HistoryEntry{
		entryAt("e1", t0),
		entryAt("e2", t0.Add(time.Minute)),
		entryAt("e3", t0.Add(time.Minute)),
		entryAt("e4", t0.Add(2*time.Minute)),
		entryAt("e5", t0.Add(3*time.Minute)),
	}
	SortHistory(entries)

	var pages [][]string
	var cursor Cursor
	for {
		page, err := PaginateHistory(entries, cursor, 2)
		require.NoError(t, err)
		var ids []string
		for _, e := range page.Entries {
			ids = append(ids, e.Key().ID)
		}
		pages = append(pages, ids)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, [][]string{{"e5", "e4"}, {"e3", "e2"}, {"e1"}}, pages)
}

func TestPageFromRows_ExactFitHasNoCursor(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []HistoryEntry{entryAt("b", t0.Add(time.Second)), entryAt("a", t0)}

	page := PageFromRows(rows, 2)

	assert.Len(t, page.Entries, 2)
	assert.Empty(t, page.NextCursor)
}

func TestNormalizePageSize(t *testing.T) {
	assert.Equal(t, DefaultHistoryPageSize, NormalizePageSize(0))
	assert.Equal(t, DefaultHistoryPageSize, NormalizePageSize(-3))
	assert.Equal(t, 7, NormalizePageSize(7))
	assert.Equal(t, MaxHistoryPageSize, NormalizePageSize(10_000))
}

func TestHistoryEntry_Delta(t *testing.T) {
	pending := RedemptionEntry(RedemptionEvent{PointsSpent: 25, Status: RedemptionPending})
	fulfilled := RedemptionEntry(RedemptionEvent{PointsSpent: 25, Status: RedemptionFulfilled})
	cancelled := RedemptionEntry(RedemptionEvent{PointsSpent: 25, Status: RedemptionCancelled})

	assert.Equal(t, int64(-25), pending.Delta())
	assert.Equal(t, int64(-25), fulfilled.Delta())
	assert.Zero(t, cancelled.Delta())
	assert.Equal(t, int64(1), entryAt("p", time.Now()).Delta())
}
