package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/ledger"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuthenticator("secret")

	token, err := auth.IssueToken("m-42")
	require.NoError(t, err)

	id, err := auth.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, ledger.MemberID("m-42"), id)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	token, err := NewAuthenticator("secret-a").IssueToken("m-42")
	require.NoError(t, err)

	_, err = NewAuthenticator("secret-b").VerifyToken(token)
	assert.Error(t, err)
}

func TestVerifyToken_Garbage(t *testing.T) {
	_, err := NewAuthenticator("secret").VerifyToken("not.a.token")
	assert.Error(t, err)
}

func TestMiddleware_HeaderAndQueryParam(t *testing.T) {
	// GIVEN: The auth middleware in front of an echo handler
	// WHEN: Presenting the token in the Authorization header or ?token=
	// THEN: Both resolve the member id into the request context

	auth := NewAuthenticator("secret")
	token, err := auth.IssueToken("m-7")
	require.NoError(t, err)

	var got ledger.MemberID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = MemberFromContext(r.Context())
	})
	protected := auth.Middleware(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protected.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, ledger.MemberID("m-7"), got)

	got = ""
	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	protected.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, ledger.MemberID("m-7"), got)
}

func TestMiddleware_MissingToken(t *testing.T) {
	auth := NewAuthenticator("secret")
	called := false
	protected := auth.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestMemberIDForPhone_StableAndDigitsOnly(t *testing.T) {
	a := MemberIDForPhone("+1 (555) 010-2000")
	b := MemberIDForPhone("15550102000")

	assert.Equal(t, ledger.MemberID("m-15550102000"), a)
	assert.Equal(t, a, b)
}
