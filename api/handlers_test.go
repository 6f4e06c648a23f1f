/*
handlers_test.go - HTTP surface tests

Tests drive the full router with httptest: auth middleware, handler
logic, engine semantics, and the error-to-status mapping.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/catalog"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testRig struct {
	handler *Handler
	router  http.Handler
	engine  *ledger.Engine
	clock   *ledger.FixedClock
	auth    *Authenticator
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	clock := &ledger.FixedClock{T: time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)}
	engine := ledger.NewEngine(store.NewMemory(), catalog.NewStatic(catalog.DefaultItems()...), ledger.DefaultRules()).
		WithClock(clock)
	auth := NewAuthenticator("test-secret")
	handler := NewHandler(engine, catalog.NewStatic(catalog.DefaultItems()...), auth, nil, log)

	return &testRig{
		handler: handler,
		router:  NewRouter(handler),
		engine:  engine,
		clock:   clock,
		auth:    auth,
	}
}

func (r *testRig) token(t *testing.T, id ledger.MemberID) string {
	t.Helper()
	token, err := r.auth.IssueToken(id)
	require.NoError(t, err)
	return token
}

func (r *testRig) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// =============================================================================
// AUTH
// =============================================================================

func TestLogin_ReturnsTokenAndSeedsProfile(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/auth/login", "",
		LoginRequest{PhoneNumber: "+1 (555) 010-2000", Name: "Ada"})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeAs[LoginResponse](t, rec)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "m-15550102000", resp.MemberID)

	// The identity was seeded on the profile.
	p, err := rig.engine.LoadProfile(context.Background(), ledger.MemberID(resp.MemberID))
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)
}

func TestLogin_MissingPhone(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodPost, "/api/auth/login", "", LoginRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = rig.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// PROFILE + EARN
// =============================================================================

func TestEarnEndpoint_CreditsPoints(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPost, "/api/me/earn", token,
		EarnRequest{Amount: "500000"})

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeAs[ProfileDTO](t, rec)
	assert.Equal(t, int64(5000), p.PointBalance)
	assert.Equal(t, "Mid", p.Tier)
}

func TestEarnEndpoint_RejectsBadAmounts(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "banana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "-100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProfile_FreshMember(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodGet, "/api/me", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeAs[ProfileDTO](t, rec)
	assert.Equal(t, "m-1", p.ID)
	assert.Equal(t, "Base", p.Tier)
	assert.Equal(t, int64(0), p.PointBalance)
}

func TestPatchProfile_UpdatesIdentity(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPatch, "/api/me", token,
		ledger.IdentityPatch{Name: "Grace", Email: "g@example.com"})

	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeAs[ProfileDTO](t, rec)
	assert.Equal(t, "Grace", p.Name)
	assert.Equal(t, "g@example.com", p.Email)
}

func TestGetHistory_ReturnsWindowedView(t *testing.T) {
	// GIVEN: One earn inside the window and one far outside it
	// WHEN: Fetching history
	// THEN: Only the in-window event is returned

	rig := newTestRig(t)
	token := rig.token(t, "m-1")
	ctx := context.Background()

	_, err := rig.engine.Earn(ctx, "m-1", decimal.NewFromInt(10000), ledger.EarnOptions{})
	require.NoError(t, err)

	rig.clock.Advance(400 * 24 * time.Hour)

	_, err = rig.engine.Earn(ctx, "m-1", decimal.NewFromInt(20000), ledger.EarnOptions{})
	require.NoError(t, err)

	rec := rig.do(t, http.MethodGet, "/api/me/history", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeAs[[]EventDTO](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, int64(200), events[0].Amount)
}

// =============================================================================
// REDEEM + VOUCHERS
// =============================================================================

func TestRedeemEndpoint_IssuesVoucher(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "500000"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r3"})

	require.Equal(t, http.StatusCreated, rec.Code)
	v := decodeAs[VoucherDTO](t, rec)
	assert.Equal(t, "r3", v.RewardID)
	assert.NotEmpty(t, v.Code)
	assert.False(t, v.IsUsed)
	assert.False(t, v.Expired)
}

func TestRedeemEndpoint_InsufficientBalance(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r1"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRedeemEndpoint_UnknownReward(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r999"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoucherLifecycleOverHTTP(t *testing.T) {
	// GIVEN: An issued voucher
	// WHEN: Consuming it twice, then after expiry reading the list
	// THEN: 200, then 409; the list reflects the state transitions

	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "500000"})
	rec := rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	v := decodeAs[VoucherDTO](t, rec)

	rec = rig.do(t, http.MethodPost, "/api/me/vouchers/"+v.ID+"/consume", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, http.MethodPost, "/api/me/vouchers/"+v.ID+"/consume", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = rig.do(t, http.MethodGet, "/api/me/vouchers", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeAs[[]VoucherDTO](t, rec)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsUsed)
}

func TestConsumeExpiredVoucher_Conflict(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "500000"})
	rec := rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r1"})
	v := decodeAs[VoucherDTO](t, rec)

	rig.clock.Advance(31 * 24 * time.Hour)

	rec = rig.do(t, http.MethodPost, "/api/me/vouchers/"+v.ID+"/consume", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCheckoutPayloadEndpoint(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rig.do(t, http.MethodPost, "/api/me/earn", token, EarnRequest{Amount: "500000"})
	rec := rig.do(t, http.MethodPost, "/api/me/redeem", token, RedeemRequest{RewardID: "r1"})
	v := decodeAs[VoucherDTO](t, rec)

	rec = rig.do(t, http.MethodGet, "/api/me/vouchers/"+v.ID+"/payload", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeAs[ledger.CheckoutPayload](t, rec)
	assert.Equal(t, v.Code, payload.VoucherCode)
	assert.NotEmpty(t, payload.Nonce)

	rec = rig.do(t, http.MethodGet, "/api/me/vouchers/v-missing/payload", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CATALOG + MISC
// =============================================================================

func TestCatalogEndpoint_Public(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodGet, "/api/catalog", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeAs[[]RewardDTO](t, rec)
	assert.Len(t, items, 4)
}

func TestWebsocket_WithoutHub_NotImplemented(t *testing.T) {
	rig := newTestRig(t)
	token := rig.token(t, "m-1")

	rec := rig.do(t, http.MethodGet, "/ws?token="+token, "", nil)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthz(t *testing.T) {
	rig := newTestRig(t)

	rec := rig.do(t, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
