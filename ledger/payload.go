/*
payload.go - Checkout payload for human verification

PURPOSE:
  Produces the serializable bundle a cashier scans at the point of sale.
  The engine does not validate this payload itself - verification is the
  verifier's responsibility. Regenerating the payload never mutates
  voucher state, so a member can re-open the QR screen freely.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckoutPayload is presented to a human verifier (QR/barcode). A fresh
// nonce is minted per presentation so replayed screenshots are detectable
// by the verifying side.
type CheckoutPayload struct {
	VoucherCode string    `json:"voucherCode"`
	VoucherID   VoucherID `json:"voucherId"`
	RewardID    string    `json:"rewardId"`
	MemberID    MemberID  `json:"memberId"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Nonce       string    `json:"nonce"`
}

// CheckoutPayload builds the presentation bundle for one of the member's
// vouchers. Read-only: the profile document is not written.
func (e *Engine) CheckoutPayload(ctx context.Context, id MemberID, voucherID VoucherID) (*CheckoutPayload, error) {
	now := e.clock.Now()
	p, err := e.loadNormalized(ctx, id, now)
	if err != nil {
		return nil, err
	}

	v := p.VoucherByID(voucherID)
	if v == nil {
		return nil, fmt.Errorf("voucher %s: %w", voucherID, ErrVoucherNotFound)
	}

	return &CheckoutPayload{
		VoucherCode: v.Code,
		VoucherID:   v.ID,
		RewardID:    v.RewardID,
		MemberID:    p.ID,
		IssuedAt:    now,
		ExpiresAt:   v.ExpiresAt,
		Nonce:       uuid.NewString(),
	}, nil
}
