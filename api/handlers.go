/*
handlers.go - HTTP handlers for the loyalty engine

PURPOSE:
  Exposes the ledger engine over REST. Handlers parse and validate input,
  resolve the member id from the auth middleware, call the engine, and
  map errors onto HTTP statuses.

ENDPOINTS:
  POST /api/auth/login                  Token exchange (thin auth stand-in)
  GET  /api/me                          Resolved profile (self-healing read)
  PATCH /api/me                         Identity fields only
  GET  /api/me/history                  Rolling-window event view
  POST /api/me/earn                     Record spend, credit XP
  POST /api/me/redeem                   Spend points, issue voucher
  GET  /api/me/vouchers                 Voucher list with derived state
  POST /api/me/vouchers/{id}/consume    One-way Used transition
  GET  /api/me/vouchers/{id}/payload    Cashier checkout payload
  GET  /api/catalog                     Offerable rewards
  GET  /ws                              Realtime profile push (websocket)

ERROR MAPPING:
  400 validation - correct the input and retry
  404 unknown reward / voucher
  409 voucher state, concurrent modification
  422 insufficient balance
  502 storage failures - transient, retry with idempotency key
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/realtime"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *ledger.Engine
	Catalog catalog.Catalog
	Auth    *Authenticator
	Hub     *realtime.Hub // nil when the backing store has no change feed
	Log     *logrus.Logger
}

// NewHandler creates a handler. Hub may be nil for the local-cache mode.
func NewHandler(engine *ledger.Engine, cat catalog.Catalog, auth *Authenticator, hub *realtime.Hub, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Engine: engine, Catalog: cat, Auth: auth, Hub: hub, Log: log}
}

// =============================================================================
// AUTH
// =============================================================================

// Login exchanges a phone number for a bearer token and seeds the profile
// identity on first access.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PhoneNumber == "" {
		writeError(w, http.StatusBadRequest, "phoneNumber is required", nil)
		return
	}

	id := MemberIDForPhone(req.PhoneNumber)
	if _, err := h.Engine.LoadProfileAs(r.Context(), ledger.Identity{
		ID:          id,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
	}); err != nil {
		h.fail(w, "login", err)
		return
	}

	token, err := h.Auth.IssueToken(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, MemberID: string(id)})
}

// =============================================================================
// PROFILE
// =============================================================================

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())
	p, err := h.Engine.LoadProfile(r.Context(), id)
	if err != nil {
		h.fail(w, "load profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p, nowFor(h.Engine)))
}

func (h *Handler) PatchProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())

	var patch ledger.IdentityPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.UpdateIdentity(r.Context(), id, patch)
	if err != nil {
		h.fail(w, "update identity", err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileDTO(p, nowFor(h.Engine)))
}

// GetHistory returns the rolling-window view of the event history - the
// same events that currently count toward (or sit alongside) tier XP.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())
	p, err := h.Engine.LoadProfile(r.Context(), id)
	if err != nil {
		h.fail(w, "load history", err)
		return
	}
	rules := h.Engine.Rules()
	status := ledger.ResolveTier(p.History, nowFor(h.Engine), rules.TierWindow, rules.Ladder)
	writeJSON(w, http.StatusOK, toEventDTOs(status.ActiveHistory))
}

// =============================================================================
// LEDGER OPERATIONS
// =============================================================================

func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())

	var req EarnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p, err := h.Engine.Earn(r.Context(), id, amount, ledger.EarnOptions{
		Context:        req.Context,
		Location:       req.Location,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, "earn", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"member":  id,
		"amount":  amount.String(),
		"balance": p.PointBalance,
		"tier":    p.Tier,
	}).Info("earn recorded")
	writeJSON(w, http.StatusOK, toProfileDTO(p, nowFor(h.Engine)))
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RewardID == "" {
		writeError(w, http.StatusBadRequest, "rewardId is required", nil)
		return
	}

	voucher, err := h.Engine.Redeem(r.Context(), id, req.RewardID, ledger.RedeemOptions{
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.fail(w, "redeem", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"member":  id,
		"reward":  req.RewardID,
		"voucher": voucher.ID,
	}).Info("voucher issued")
	writeJSON(w, http.StatusCreated, toVoucherDTO(*voucher, nowFor(h.Engine)))
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())
	p, err := h.Engine.LoadProfile(r.Context(), id)
	if err != nil {
		h.fail(w, "load vouchers", err)
		return
	}
	now := nowFor(h.Engine)
	out := make([]VoucherDTO, len(p.Vouchers))
	for i, v := range p.Vouchers {
		out[i] = toVoucherDTO(v, now)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ConsumeVoucher(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())
	voucherID := ledger.VoucherID(chi.URLParam(r, "id"))

	p, err := h.Engine.ConsumeVoucher(r.Context(), id, voucherID)
	if err != nil {
		h.fail(w, "consume voucher", err)
		return
	}

	h.Log.WithFields(logrus.Fields{"member": id, "voucher": voucherID}).Info("voucher consumed")
	writeJSON(w, http.StatusOK, toProfileDTO(p, nowFor(h.Engine)))
}

func (h *Handler) CheckoutPayload(w http.ResponseWriter, r *http.Request) {
	id, _ := MemberFromContext(r.Context())
	voucherID := ledger.VoucherID(chi.URLParam(r, "id"))

	payload, err := h.Engine.CheckoutPayload(r.Context(), id, voucherID)
	if err != nil {
		h.fail(w, "checkout payload", err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// =============================================================================
// CATALOG
// =============================================================================

func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Catalog unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTOs(items))
}

// =============================================================================
// REALTIME
// =============================================================================

// AttachWebsocket upgrades the connection and joins the member's room.
func (h *Handler) AttachWebsocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotImplemented, "Realtime push not available on this store", nil)
		return
	}
	id, _ := MemberFromContext(r.Context())
	if err := realtime.Attach(h.Hub, w, r, id); err != nil {
		h.Log.WithError(err).Warn("websocket attach failed")
	}
}

// =============================================================================
// ERROR MAPPING + JSON HELPERS
// =============================================================================

// fail maps engine errors onto statuses per the taxonomy in the package
// comment. Storage errors come back as 502 so clients treat them as
// transient; business rules come back as conflict-ish statuses that
// should not be blindly retried.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case ledger.IsValidation(err):
		status := http.StatusBadRequest
		if errors.Is(err, ledger.ErrRewardNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, ledger.ErrVoucherNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsBusinessRule(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Profile changed concurrently, reload and retry", err)
	default:
		h.Log.WithError(err).WithField("op", op).Error("storage failure")
		writeError(w, http.StatusBadGateway, "Storage unavailable, retry later", err)
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// nowFor keeps derived wire fields (voucher expiry) on the engine's clock.
func nowFor(e *ledger.Engine) time.Time { return e.Now() }

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
