/*
Package ledger provides the points ledger for peer recognition.

PURPOSE:
  Employees praise each other for a company core value. Every praise credits
  points to the receiver; points are redeemed against a rewards catalog. This
  package holds the domain types, the error taxonomy, the Store contract and
  the Ledger wrapper that services call into.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: identity plus the cached point balance
  - PraiseEvent: immutable credit record (giver -> receiver)
  - RedemptionEvent: debit record with a pending/fulfilled/cancelled lifecycle
  - Drafts: what callers hand to the store; the store materializes events

GUARANTEES (enforced by every Store implementation):
  - balance == sum(praise received) - sum(redemptions not cancelled)
  - balance never goes negative; an overdrawing debit is rejected whole
  - redemptions only reference rewards that were active when created
  - events are append-only; only a redemption's status moves, forward only

SNAPSHOT-ON-WRITE:
  RedemptionEvent.PointsSpent is the reward cost at redemption time, copied
  into the event. Later catalog edits never change history.

SEE ALSO:
  - store.go: Store contract
  - ledger.go: Validation and conflict retry around a Store
  - store/memory.go, ../store/sqlite, ../store/postgres: implementations
*/
package ledger

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type CoreValueID string
type RewardID string
type PraiseID string
type RedemptionID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// DefaultPraisePoints is the award for one praise when no policy overrides it.
const DefaultPraisePoints int64 = 10

// MaxMessageLength bounds praise messages, counted in runes.
const MaxMessageLength = 2000

// Timestamp normalizes t to UTC microseconds, the precision every store keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// =============================================================================
// USERS
// =============================================================================

type User struct {
	ID        UserID
	Name      string
	Email     string
	Balance   int64
	CreatedAt time.Time
}

// NewUser is the registration input. ID is generated when empty.
type NewUser struct {
	ID    UserID
	Name  string
	Email string
}

// Normalize trims fields, lower-cases the email and fills a missing ID.
func (n NewUser) Normalize() (NewUser, error) {
	n.Name = strings.TrimSpace(n.Name)
	n.Email = strings.ToLower(strings.TrimSpace(n.Email))
	if n.Name == "" {
		return n, invalidArgument("name is required")
	}
	if n.Email == "" || !strings.Contains(n.Email, "@") {
		return n, invalidArgument("a valid email is required")
	}
	if n.ID == "" {
		n.ID = UserID(NewID())
	}
	return n, nil
}

// =============================================================================
// CATALOG - reference data owned by the catalog provider
// =============================================================================

type CoreValue struct {
	ID          CoreValueID
	Name        string
	Description string
}

type Reward struct {
	ID          RewardID
	Name        string
	Description string
	Cost        int64
	Active      bool
}

// =============================================================================
// PRAISE
// =============================================================================

type PraiseEvent struct {
	ID             PraiseID
	GiverID        UserID
	ReceiverID     UserID
	Message        string
	CoreValueID    CoreValueID
	PointsAwarded  int64
	IdempotencyKey string
	CreatedAt      time.Time
}

// PraiseDraft is everything about a praise except the receiver and amount,
// which CreditPoints takes explicitly.
type PraiseDraft struct {
	ID             PraiseID // generated when empty
	GiverID        UserID
	Message        string
	CoreValueID    CoreValueID
	IdempotencyKey string
}

// ValidateCredit checks CreditPoints arguments without touching storage.
func ValidateCredit(receiverID UserID, amount int64, d PraiseDraft) error {
	switch {
	case amount <= 0:
		return invalidArgument("amount must be positive, got %d", amount)
	case receiverID == "":
		return invalidArgument("receiver is required")
	case d.GiverID == "":
		return invalidArgument("giver is required")
	case d.GiverID == receiverID:
		return invalidArgument("users cannot praise themselves")
	case d.CoreValueID == "":
		return invalidArgument("core value is required")
	}
	msg := strings.TrimSpace(d.Message)
	if msg == "" {
		return invalidArgument("message is required")
	}
	if !utf8.ValidString(msg) {
		return invalidArgument("message is not valid UTF-8")
	}
	if utf8.RuneCountInString(msg) > MaxMessageLength {
		return invalidArgument("message exceeds %d characters", MaxMessageLength)
	}
	return nil
}

// BuildPraise validates the request and materializes the event a store persists.
func BuildPraise(receiverID UserID, amount int64, d PraiseDraft, now time.Time) (PraiseEvent, error) {
	if err := ValidateCredit(receiverID, amount, d); err != nil {
		return PraiseEvent{}, err
	}
	id := d.ID
	if id == "" {
		id = PraiseID(NewID())
	}
	return PraiseEvent{
		ID:             id,
		GiverID:        d.GiverID,
		ReceiverID:     receiverID,
		Message:        strings.TrimSpace(d.Message),
		CoreValueID:    d.CoreValueID,
		PointsAwarded:  amount,
		IdempotencyKey: strings.TrimSpace(d.IdempotencyKey),
		CreatedAt:      Timestamp(now),
	}, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s RedemptionStatus) IsTerminal() bool {
	return s == RedemptionFulfilled || s == RedemptionCancelled
}

// CanTransition reports whether s -> to is a legal move:
// pending -> fulfilled | cancelled, nothing else.
func (s RedemptionStatus) CanTransition(to RedemptionStatus) bool {
	return s == RedemptionPending && to.IsTerminal()
}

// Valid reports whether s is one of the known statuses.
func (s RedemptionStatus) Valid() bool {
	switch s {
	case RedemptionPending, RedemptionFulfilled, RedemptionCancelled:
		return true
	}
	return false
}

type RedemptionEvent struct {
	ID             RedemptionID
	UserID         UserID
	RewardID       RewardID
	PointsSpent    int64 // reward cost snapshotted at creation
	Status         RedemptionStatus
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transition moves the event to the given terminal status.
func (r *RedemptionEvent) Transition(to RedemptionStatus, now time.Time) error {
	if !r.Status.CanTransition(to) {
		return &InvalidStateError{RedemptionID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	r.UpdatedAt = Timestamp(now)
	return nil
}

type RedemptionDraft struct {
	ID             RedemptionID // generated when empty
	RewardID       RewardID
	IdempotencyKey string
}

// ValidateDebit checks DebitPoints arguments without touching storage.
func ValidateDebit(userID UserID, amount int64, d RedemptionDraft) error {
	switch {
	case amount <= 0:
		return invalidArgument("amount must be positive, got %d", amount)
	case userID == "":
		return invalidArgument("user is required")
	case d.RewardID == "":
		return invalidArgument("reward is required")
	}
	return nil
}

// BuildRedemption validates the request and materializes a pending event.
func BuildRedemption(userID UserID, amount int64, d RedemptionDraft, now time.Time) (RedemptionEvent, error) {
	if err := ValidateDebit(userID, amount, d); err != nil {
		return RedemptionEvent{}, err
	}
	id := d.ID
	if id == "" {
		id = RedemptionID(NewID())
	}
	at := Timestamp(now)
	return RedemptionEvent{
		ID:             id,
		UserID:         userID,
		RewardID:       d.RewardID,
		PointsSpent:    amount,
		Status:         RedemptionPending,
		IdempotencyKey: strings.TrimSpace(d.IdempotencyKey),
		CreatedAt:      at,
		UpdatedAt:      at,
	}, nil
}

// =============================================================================
// BALANCE CHECK - cached balance next to the event-derived one
// =============================================================================

type BalanceCheck struct {
	UserID  UserID
	Cached  int64
	Derived int64
}

// Consistent reports whether the cached balance matches the event log.
func (c BalanceCheck) Consistent() bool {
	return c.Cached == c.Derived && c.Cached >= 0
}
