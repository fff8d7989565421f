package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/observability/metrics"
	"fintrack-auth/internal/service"
	"fintrack-auth/internal/store"

	"github.com/google/uuid"
)

// SessionReader is the slice of the registry the bearer middleware needs.
// GetByTokenID reports a missing row as store.ErrRecordNotFound; any other
// error means the registry could not be consulted.
type SessionReader interface {
	GetByTokenID(ctx context.Context, tokenID uuid.UUID) (*domain.Session, error)
	TouchLastAccessed(ctx context.Context, id domain.SessionID, at time.Time) error
}

// TokenVerifier performs the stateless half of request authentication.
type TokenVerifier interface {
	VerifyAccess(token string) (*service.AccessIdentity, error)
}

type identityKey struct{}

// Identity is what a valid, live session resolves to on the request context.
type Identity struct {
	UserID    domain.UserID
	SessionID domain.SessionID
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireSession validates the bearer token statelessly (signature, exp, iss,
// aud) and then checks the token's jti against the session registry, so a
// revoked session fails even while its access token is formally unexpired.
// Domain handlers behind this middleware implement no auth logic of their own.
func RequireSession(tokens TokenVerifier, sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeUnauthorized(w, "missing_token")
				return
			}

			ident, err := tokens.VerifyAccess(raw)
			if err != nil {
				if errors.Is(err, domain.ErrTokenExpired) {
					writeUnauthorized(w, "token_expired")
				} else {
					writeUnauthorized(w, "token_signature_invalid")
				}
				return
			}

			sess, err := sessions.GetByTokenID(r.Context(), ident.TokenID)
			if errors.Is(err, store.ErrRecordNotFound) {
				// Missing row: revoked-and-rotated, superseded by a newer
				// login, or never issued. All equally dead.
				metrics.SessionChecksTotal.WithLabelValues("revoked").Inc()
				writeUnauthorized(w, "session_revoked")
				return
			}
			if err != nil {
				// Registry unreachable is not a verdict on the session.
				// Answering 401 here would make clients clear live sessions
				// during a database outage.
				metrics.SessionChecksTotal.WithLabelValues("error").Inc()
				slog.Error("session registry lookup failed", "error", err)
				writeError(w, http.StatusInternalServerError, "session_lookup_failed")
				return
			}
			now := time.Now().UTC()
			if sess.RevokedAt != nil {
				metrics.SessionChecksTotal.WithLabelValues("revoked").Inc()
				writeUnauthorized(w, "session_revoked")
				return
			}
			if now.After(sess.ExpiresAt) {
				metrics.SessionChecksTotal.WithLabelValues("expired").Inc()
				writeUnauthorized(w, "token_expired")
				return
			}
			metrics.SessionChecksTotal.WithLabelValues("ok").Inc()

			// Best effort, off the request path.
			go func(id domain.SessionID) {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = sessions.TouchLastAccessed(ctx, id, now)
			}(sess.ID)

			ctx := WithIdentity(r.Context(), Identity{
				UserID:    sess.UserID,
				SessionID: sess.ID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func writeUnauthorized(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":  "unauthorized",
		"reason": reason,
	})
}
