/*
dto.go - JSON shapes for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

  Timestamps are RFC 3339 in UTC. Points are integers.
  Validation happens in the services, not here. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/warp/praise-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type GivePraiseRequest struct {
	ReceiverID  string `json:"receiver_id"`
	Message     string `json:"message"`
	CoreValueID string `json:"core_value_id"`
}

type RedeemRequest struct {
	RewardID string `json:"reward_id"`
}

type CreateUserRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
}

// DirectoryEntryDTO is the public view of a user, for picking a receiver.
type DirectoryEntryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

type PraiseDTO struct {
	ID            string `json:"id"`
	GiverID       string `json:"giver_id"`
	ReceiverID    string `json:"receiver_id"`
	Message       string `json:"message"`
	CoreValueID   string `json:"core_value_id"`
	PointsAwarded int64  `json:"points_awarded"`
	CreatedAt     string `json:"created_at"`
}

type RedemptionDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	RewardID    string `json:"reward_id"`
	PointsSpent int64  `json:"points_spent"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// HistoryEntryDTO carries exactly one of Praise or Redemption.
// Delta is the entry's current effect on the balance.
type HistoryEntryDTO struct {
	Kind       string         `json:"kind"`
	Delta      int64          `json:"delta"`
	Praise     *PraiseDTO     `json:"praise,omitempty"`
	Redemption *RedemptionDTO `json:"redemption,omitempty"`
}

type HistoryPageDTO struct {
	Entries    []HistoryEntryDTO `json:"entries"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type CoreValueDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type RewardDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Cost        int64  `json:"cost"`
	Active      bool   `json:"active"`
}

type DriftDTO struct {
	UserID  string `json:"user_id"`
	Cached  int64  `json:"cached"`
	Derived int64  `json:"derived"`
}

type AuditReportDTO struct {
	Checked int        `json:"checked"`
	Healthy bool       `json:"healthy"`
	Drifts  []DriftDTO `json:"drifts"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Balance:   u.Balance,
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func toDirectoryDTOs(us []ledger.User) []DirectoryEntryDTO {
	out := make([]DirectoryEntryDTO, len(us))
	for i, u := range us {
		out[i] = DirectoryEntryDTO{ID: string(u.ID), Name: u.Name}
	}
	return out
}

func toPraiseDTO(p ledger.PraiseEvent) PraiseDTO {
	return PraiseDTO{
		ID:            string(p.ID),
		GiverID:       string(p.GiverID),
		ReceiverID:    string(p.ReceiverID),
		Message:       p.Message,
		CoreValueID:   string(p.CoreValueID),
		PointsAwarded: p.PointsAwarded,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

func toPraiseDTOs(ps []ledger.PraiseEvent) []PraiseDTO {
	out := make([]PraiseDTO, len(ps))
	for i, p := range ps {
		out[i] = toPraiseDTO(p)
	}
	return out
}

func toRedemptionDTO(r ledger.RedemptionEvent) RedemptionDTO {
	return RedemptionDTO{
		ID:          string(r.ID),
		UserID:      string(r.UserID),
		RewardID:    string(r.RewardID),
		PointsSpent: r.PointsSpent,
		Status:      string(r.Status),
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
}

func toRedemptionDTOs(rs []ledger.RedemptionEvent) []RedemptionDTO {
	out := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		out[i] = toRedemptionDTO(r)
	}
	return out
}

func toHistoryPageDTO(p ledger.HistoryPage) HistoryPageDTO {
	entries := make([]HistoryEntryDTO, len(p.Entries))
	for i, e := range p.Entries {
		dto := HistoryEntryDTO{Kind: string(e.Kind), Delta: e.Delta()}
		if e.Praise != nil {
			pd := toPraiseDTO(*e.Praise)
			dto.Praise = &pd
		}
		if e.Redemption != nil {
			rd := toRedemptionDTO(*e.Redemption)
			dto.Redemption = &rd
		}
		entries[i] = dto
	}
	return HistoryPageDTO{Entries: entries, NextCursor: string(p.NextCursor)}
}

func toCoreValueDTOs(vs []ledger.CoreValue) []CoreValueDTO {
	out := make([]CoreValueDTO, len(vs))
	for i, v := range vs {
		out[i] = CoreValueDTO{ID: string(v.ID), Name: v.Name, Description: v.Description}
	}
	return out
}

func toRewardDTOs(rs []ledger.Reward) []RewardDTO {
	out := make([]RewardDTO, len(rs))
	for i, r := range rs {
		out[i] = RewardDTO{
			ID:          string(r.ID),
			Name:        r.Name,
			Description: r.Description,
			Cost:        r.Cost,
			Active:      r.Active,
		}
	}
	return out
}

func toAuditReportDTO(r ledger.Report) AuditReportDTO {
	drifts := make([]DriftDTO, len(r.Drifts))
	for i, d := range r.Drifts {
		drifts[i] = DriftDTO{UserID: string(d.UserID), Cached: d.Cached, Derived: d.Derived}
	}
	return AuditReportDTO{Checked: r.Checked, Healthy: r.Healthy(), Drifts: drifts}
}
