/*
auth.go - Thin authentication boundary

PURPOSE:
  The engine never sees credentials; it takes an explicit member id. This
  file is the one place the ambient "current user" is resolved: the login
  handler exchanges a phone number for a signed bearer token, and the
  middleware turns that token back into a member id which handlers pass
  into the engine as a parameter.

TOKENS:
  HS256 JWTs with the member id as subject. The websocket attach point
  cannot set headers, so a token query parameter is accepted there too.

SECURITY NOTE:
  Login is a stand-in for a real OTP/credential exchange - it verifies
  nothing beyond the phone number's shape. Swap the login handler, keep
  the middleware.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/loyalty-engine/ledger"
)

type contextKey string

const memberIDKey contextKey = "memberID"

const tokenTTL = 30 * 24 * time.Hour

// Authenticator signs and verifies bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken mints a bearer token for the member.
func (a *Authenticator) IssueToken(id ledger.MemberID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(id),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// VerifyToken returns the member id carried by a valid token.
func (a *Authenticator) VerifyToken(token string) (ledger.MemberID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	return ledger.MemberID(claims.Subject), nil
}

// Middleware resolves the bearer token once and stores the member id in
// the request context. Handlers read it with MemberFromContext and pass
// it explicitly into the engine.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		id, err := a.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid bearer token", err)
			return
		}
		ctx := context.WithValue(r.Context(), memberIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Websocket dials can't set headers from browsers.
	return r.URL.Query().Get("token")
}

// MemberFromContext returns the authenticated member id.
func MemberFromContext(ctx context.Context) (ledger.MemberID, bool) {
	id, ok := ctx.Value(memberIDKey).(ledger.MemberID)
	return id, ok
}

// MemberIDForPhone derives the opaque member id from a phone number. The
// mapping is stable so the same phone always lands on the same document.
func MemberIDForPhone(phone string) ledger.MemberID {
	digits := strings.Builder{}
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return ledger.MemberID("m-" + digits.String())
}
