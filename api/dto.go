/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes for the HTTP surface, decoupled from the domain model so the
  wire contract can evolve without touching the engine. *DTO types go out,
  *Request types come in. DTOs are pure data carriers; validation lives in
  handlers.
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// LoginRequest exchanges a phone number for a bearer token.
type LoginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
}

// EarnRequest records a monetary spend. Amount is a decimal string to
// avoid float drift on the wire.
type EarnRequest struct {
	Amount         string `json:"amount"`
	Context        string `json:"context,omitempty"`
	Location       string `json:"location,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RedeemRequest spends points against a catalog reward.
type RedeemRequest struct {
	RewardID       string `json:"rewardId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type LoginResponse struct {
	Token    string `json:"token"`
	MemberID string `json:"memberId"`
}

type ProfileDTO struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	PhoneNumber    string       `json:"phoneNumber"`
	Email          string       `json:"email,omitempty"`
	PhotoURL       string       `json:"photoURL,omitempty"`
	JoinedAt       string       `json:"joinedAt"`
	Role           string       `json:"role"`
	PointBalance   int64        `json:"pointBalance"`
	LifetimePoints int64        `json:"lifetimePoints"`
	TierXP         int64        `json:"tierXp"`
	Tier           string       `json:"tier"`
	Vouchers       []VoucherDTO `json:"vouchers"`
}

type EventDTO struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Amount       int64  `json:"amount"`
	Kind         string `json:"kind"`
	TierEligible bool   `json:"tierEligible"`
	Context      string `json:"context,omitempty"`
	Location     string `json:"location,omitempty"`
}

type VoucherDTO struct {
	ID         string `json:"id"`
	RewardID   string `json:"rewardId"`
	Title      string `json:"title"`
	Code       string `json:"code"`
	RedeemedAt string `json:"redeemedAt"`
	ExpiresAt  string `json:"expiresAt"`
	IsUsed     bool   `json:"isUsed"`
	Expired    bool   `json:"expired"`
}

type RewardDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PointsCost  int64  `json:"pointsCost"`
	Category    string `json:"category,omitempty"`
	ImageURL    string `json:"imageURL,omitempty"`
}

// =============================================================================
// MAPPING
// =============================================================================

func toProfileDTO(p *ledger.Profile, now time.Time) ProfileDTO {
	vouchers := make([]VoucherDTO, len(p.Vouchers))
	for i, v := range p.Vouchers {
		vouchers[i] = toVoucherDTO(v, now)
	}
	return ProfileDTO{
		ID:             string(p.ID),
		Name:           p.Name,
		PhoneNumber:    p.PhoneNumber,
		Email:          p.Email,
		PhotoURL:       p.PhotoURL,
		JoinedAt:       p.JoinedAt.Format(time.RFC3339),
		Role:           string(p.Role),
		PointBalance:   p.PointBalance,
		LifetimePoints: p.LifetimePoints,
		TierXP:         p.TierXP,
		Tier:           string(p.Tier),
		Vouchers:       vouchers,
	}
}

func toVoucherDTO(v ledger.Voucher, now time.Time) VoucherDTO {
	return VoucherDTO{
		ID:         string(v.ID),
		RewardID:   v.RewardID,
		Title:      v.Title,
		Code:       v.Code,
		RedeemedAt: v.RedeemedAt.Format(time.RFC3339),
		ExpiresAt:  v.ExpiresAt.Format(time.RFC3339),
		IsUsed:     v.IsUsed,
		Expired:    !v.IsUsed && v.Expired(now),
	}
}

func toEventDTOs(events []ledger.LedgerEvent) []EventDTO {
	out := make([]EventDTO, len(events))
	for i, ev := range events {
		out[i] = EventDTO{
			ID:           string(ev.ID),
			Timestamp:    ev.Timestamp.Format(time.RFC3339),
			Amount:       ev.Amount,
			Kind:         string(ev.Kind),
			TierEligible: ev.TierEligible,
			Context:      ev.Context,
			Location:     ev.Location,
		}
	}
	return out
}

func toRewardDTOs(items []catalog.RewardItem) []RewardDTO {
	out := make([]RewardDTO, len(items))
	for i, it := range items {
		out[i] = RewardDTO{
			ID:          it.ID,
			Title:       it.Title,
			Description: it.Description,
			PointsCost:  it.PointsCost,
			Category:    it.Category,
			ImageURL:    it.ImageURL,
		}
	}
	return out
}
