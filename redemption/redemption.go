/*
Package redemption turns points into rewards.

LIFECYCLE:
  Redeem   -> pending     (points debited, reward cost snapshotted)
  Fulfill  -> fulfilled   (terminal, balance unchanged)
  Cancel   -> cancelled   (terminal, points re-credited)

  Reward lookup and the active check run before the ledger is touched, so an
  inactive or unknown reward never changes a balance.
*/
package redemption

import (
	"context"
	"fmt"

	"github.com/warp/praise-ledger/catalog"
	"github.com/warp/praise-ledger/ledger"
)

// Ledger is the part of ledger.Ledger the service writes through.
type Ledger interface {
	DebitPoints(ctx context.Context, userID ledger.UserID, amount int64, draft ledger.RedemptionDraft) (ledger.RedemptionEvent, error)
	FulfillRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error)
	CancelRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error)
	GetRedemption(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error)
	ListRedemptions(ctx context.Context, userID ledger.UserID) ([]ledger.RedemptionEvent, error)
}

type RedeemInput struct {
	UserID         ledger.UserID
	RewardID       ledger.RewardID
	IdempotencyKey string
}

type Service struct {
	ledger  Ledger
	catalog catalog.Provider
}

func NewService(l Ledger, c catalog.Provider) *Service {
	return &Service{ledger: l, catalog: c}
}

// Redeem debits the reward's current cost and records a pending redemption.
// Errors: ErrNotFound (user or reward), ErrRewardInactive,
// ErrInsufficientBalance, ErrDuplicate for a replayed idempotency key.
func (s *Service) Redeem(ctx context.Context, in RedeemInput) (ledger.RedemptionEvent, error) {
	if in.UserID == "" {
		return ledger.RedemptionEvent{}, fmt.Errorf("%w: user is required", ledger.ErrInvalidArgument)
	}
	if in.RewardID == "" {
		return ledger.RedemptionEvent{}, fmt.Errorf("%w: reward is required", ledger.ErrInvalidArgument)
	}

	reward, err := s.catalog.GetReward(ctx, in.RewardID)
	if err != nil {
		return ledger.RedemptionEvent{}, err
	}
	if !reward.Active {
		return ledger.RedemptionEvent{}, fmt.Errorf("reward %s: %w", reward.ID, ledger.ErrRewardInactive)
	}

	return s.ledger.DebitPoints(ctx, in.UserID, reward.Cost, ledger.RedemptionDraft{
		RewardID:       reward.ID,
		IdempotencyKey: in.IdempotencyKey,
	})
}

// Fulfill marks a pending redemption as delivered.
func (s *Service) Fulfill(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return s.ledger.FulfillRedemption(ctx, id)
}

// Cancel voids a pending redemption and returns its points to the user.
func (s *Service) Cancel(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return s.ledger.CancelRedemption(ctx, id)
}

func (s *Service) Get(ctx context.Context, id ledger.RedemptionID) (ledger.RedemptionEvent, error) {
	return s.ledger.GetRedemption(ctx, id)
}

func (s *Service) List(ctx context.Context, userID ledger.UserID) ([]ledger.RedemptionEvent, error) {
	return s.ledger.ListRedemptions(ctx, userID)
}
