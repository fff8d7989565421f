package sessionclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSessionExpired is returned instead of sending a request whose access
// token is already past its exp claim.
var ErrSessionExpired = errors.New("sessionclient: session expired")

// Guard wraps an http.RoundTripper with the token lifecycle rules: a
// pre-flight expiry check so doomed requests never leave the client, bearer
// header injection, and 401-driven cleanup. Expiry is always user-visible;
// there is no silent refresh here.
type Guard struct {
	manager *SessionManager
	next    http.RoundTripper
}

func NewGuard(manager *SessionManager, next http.RoundTripper) *Guard {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Guard{manager: manager, next: next}
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	token := g.manager.Token()
	if token == "" {
		// Unauthenticated request; pass through untouched.
		return g.next.RoundTrip(req)
	}

	if expired(token, time.Now()) {
		g.manager.invalidate(ReasonExpired)
		return nil, ErrSessionExpired
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.next.RoundTrip(out)
	if err != nil {
		// Network failure, not an auth failure. The session stays put so the
		// client never confuses "offline" with "logged out".
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		g.manager.invalidate(unauthorizedReason(resp))
	}
	return resp, nil
}

// expired reads the exp claim without verifying the signature. The check is
// purely informational; the server re-validates everything.
func expired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false // malformed tokens go to the server for a real verdict
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time)
}

// unauthorizedReason distinguishes an expired token from a revoked session
// using the server's reason field, defaulting to revocation. The body is
// restored so callers can still read the response.
func unauthorizedReason(resp *http.Response) Reason {
	if resp.Body == nil {
		return ReasonRevokedElsewhere
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ReasonRevokedElsewhere
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(data, &body) == nil && body.Reason == "token_expired" {
		return ReasonExpired
	}
	return ReasonRevokedElsewhere
}
