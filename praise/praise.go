/*
Package praise issues peer recognition.

FLOW:
  1. Validate the request (message, giver != receiver) without I/O
  2. Confirm the core value exists in the catalog
  3. Credit the receiver through the ledger with the policy's points

  The catalog lookup happens before any store transaction opens. Points
  always come from the Policy, never from the request.
*/
package praise

import (
	"context"

	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/ledger"
)

// Policy decides how many points one praise is worth.
type Policy struct {
	PointsPerPraise int64
}

// DefaultPolicy awards ledger.DefaultPraisePoints per praise.
func DefaultPolicy() Policy {
	return Policy{PointsPerPraise: ledger.DefaultPraisePoints}
}

func (p Policy) points() int64 {
	if p.PointsPerPraise <= 0 {
		return ledger.DefaultPraisePoints
	}
	return p.PointsPerPraise
}

// Ledger is the part of ledger.Ledger the service writes through.
type Ledger interface {
	CreditPoints(ctx context.Context, receiverID ledger.UserID, amount int64, draft ledger.PraiseDraft) (ledger.PraiseEvent, error)
	ListRecentPraise(ctx context.Context, limit int) ([]ledger.PraiseEvent, error)
}

type GiveInput struct {
	GiverID        ledger.UserID
	ReceiverID     ledger.UserID
	Message        string
	CoreValueID    ledger.CoreValueID
	IdempotencyKey string
}

type Service struct {
	ledger  Ledger
	catalog catalog.Provider
	policy  Policy
}

func NewService(l Ledger, c catalog.Provider, p Policy) *Service {
	return &Service{ledger: l, catalog: c, policy: p}
}

// Give records a praise from GiverID to ReceiverID and credits the receiver.
// Errors: ErrInvalidArgument for a bad request (including self-praise),
// ErrNotFound for an unknown core value or user.
func (s *Service) Give(ctx context.Context, in GiveInput) (ledger.PraiseEvent, error) {
	amount := s.policy.points()
	draft := ledger.PraiseDraft{
		GiverID:        in.GiverID,
		Message:        in.Message,
		CoreValueID:    in.CoreValueID,
		IdempotencyKey: in.IdempotencyKey,
	}
	if err := ledger.ValidateCredit(in.ReceiverID, amount, draft); err != nil {
		return ledger.PraiseEvent{}, err
	}

	if _, err := s.catalog.GetCoreValue(ctx, in.CoreValueID); err != nil {
		return ledger.PraiseEvent{}, err
	}

	return s.ledger.CreditPoints(ctx, in.ReceiverID, amount, draft)
}

// Recent returns the company-wide praise feed, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]ledger.PraiseEvent, error) {
	return s.ledger.ListRecentPraise(ctx, limit)
}
