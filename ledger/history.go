package ledger

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// HISTORY - reverse-chronological, cursor-paginated event feed
// =============================================================================

type EntryKind string

const (
	EntryPraise     EntryKind = "praise"
	EntryRedemption EntryKind = "redemption"
)

// HistoryEntry holds exactly one of Praise or Redemption.
type HistoryEntry struct {
	Kind       EntryKind
	Praise     *PraiseEvent
	Redemption *RedemptionEvent
}

func PraiseEntry(p PraiseEvent) HistoryEntry {
	return HistoryEntry{Kind: EntryPraise, Praise: &p}
}

func RedemptionEntry(r RedemptionEvent) HistoryEntry {
	return HistoryEntry{Kind: EntryRedemption, Redemption: &r}
}

// Key returns the ordering key of the entry.
func (e HistoryEntry) Key() HistoryKey {
	if e.Praise != nil {
		return HistoryKey{At: e.Praise.CreatedAt, ID: string(e.Praise.ID)}
	}
	if e.Redemption != nil {
		return HistoryKey{At: e.Redemption.CreatedAt, ID: string(e.Redemption.ID)}
	}
	return HistoryKey{}
}

// Delta is the signed effect of the entry on the balance as it stands now.
// Cancelled redemptions have no effect.
func (e HistoryEntry) Delta() int64 {
	switch {
	case e.Praise != nil:
		return e.Praise.PointsAwarded
	case e.Redemption != nil && e.Redemption.Status != RedemptionCancelled:
		return -e.Redemption.PointsSpent
	}
	return 0
}

type HistoryPage struct {
	Entries    []HistoryEntry
	NextCursor Cursor // empty on the last page
}

// HistoryKey orders entries by (At DESC, ID DESC).
type HistoryKey struct {
	At time.Time
	ID string
}

// Before reports whether k sorts before other in the feed (i.e. is newer).
func (k HistoryKey) Before(other HistoryKey) bool {
	if !k.At.Equal(other.At) {
		return k.At.After(other.At)
	}
	return k.ID > other.ID
}

// =============================================================================
// CURSOR - opaque keyset position
// =============================================================================

// Cursor is an opaque page token. The zero value means "start from newest".
type Cursor string

func EncodeCursor(k HistoryKey) Cursor {
	raw := strconv.FormatInt(k.At.UnixMicro(), 10) + "|" + k.ID
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

// Decode returns the key encoded in c. ok is false for the zero cursor.
func (c Cursor) Decode() (key HistoryKey, ok bool, err error) {
	if c == "" {
		return HistoryKey{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return HistoryKey{}, false, invalidArgument("malformed cursor")
	}
	micros, id, found := strings.Cut(string(raw), "|")
	if !found || id == "" {
		return HistoryKey{}, false, invalidArgument("malformed cursor")
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return HistoryKey{}, false, invalidArgument("malformed cursor")
	}
	return HistoryKey{At: time.UnixMicro(us).UTC(), ID: id}, true, nil
}

const (
	DefaultHistoryPageSize = 20
	MaxHistoryPageSize     = 100
)

// NormalizePageSize applies the default and the upper bound.
func NormalizePageSize(n int) int {
	if n <= 0 {
		return DefaultHistoryPageSize
	}
	if n > MaxHistoryPageSize {
		return MaxHistoryPageSize
	}
	return n
}

// SortHistory orders entries newest first.
func SortHistory(entries []HistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key().Before(entries[j].Key())
	})
}

// PaginateHistory cuts one page out of entries, which must already be sorted
// with SortHistory. Used by stores that materialize the whole feed.
func PaginateHistory(entries []HistoryEntry, cursor Cursor, pageSize int) (HistoryPage, error) {
	after, ok, err := cursor.Decode()
	if err != nil {
		return HistoryPage{}, err
	}
	pageSize = NormalizePageSize(pageSize)

	start := 0
	if ok {
		start = sort.Search(len(entries), func(i int) bool {
			return after.Before(entries[i].Key())
		})
	}
	return PageFromRows(entries[start:], pageSize), nil
}

// PageFromRows builds a page from rows fetched with LIMIT pageSize+1: the
// extra row only signals that another page exists.
func PageFromRows(rows []HistoryEntry, pageSize int) HistoryPage {
	if len(rows) <= pageSize {
		return HistoryPage{Entries: rows}
	}
	page := rows[:pageSize]
	return HistoryPage{
		Entries:    page,
		NextCursor: EncodeCursor(page[len(page)-1].Key()),
	}
}

func (e HistoryEntry) String() string {
	k := e.Key()
	return fmt.Sprintf("%s %s @ %s (%+d)", e.Kind, k.ID, k.At.Format(time.RFC3339Nano), e.Delta())
}
