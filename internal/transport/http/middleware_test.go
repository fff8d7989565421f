package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/observability/metrics"
	"fintrack-auth/internal/service"
	"fintrack-auth/internal/store"

	"github.com/google/uuid"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

type stubVerifier struct {
	identity *service.AccessIdentity
	err      error
}

func (s stubVerifier) VerifyAccess(token string) (*service.AccessIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

type stubSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	touched  []domain.SessionID
	// lookupErr simulates an unreachable registry.
	lookupErr error
}

func newStubSessions(sessions ...*domain.Session) *stubSessions {
	m := make(map[uuid.UUID]*domain.Session)
	for _, s := range sessions {
		m[s.TokenID] = s
	}
	return &stubSessions{sessions: m}
}

func (s *stubSessions) GetByTokenID(ctx context.Context, tokenID uuid.UUID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	sess, ok := s.sessions[tokenID]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *stubSessions) TouchLastAccessed(ctx context.Context, id domain.SessionID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func liveSession(userID uuid.UUID) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenID:   uuid.New(),
		RefreshID: uuid.New(),
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
	}
}

func requireSessionHandler(tokens TokenVerifier, sessions SessionReader) (http.Handler, *Identity) {
	captured := &Identity{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ident, ok := IdentityFrom(r.Context()); ok {
			*captured = ident
		}
		w.WriteHeader(http.StatusOK)
	})
	return RequireSession(tokens, sessions)(inner), captured
}

func decodeReason(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body.Reason
}

func TestRequireSessionAllowsLiveSession(t *testing.T) {
	userID := uuid.New()
	sess := liveSession(userID)
	sessions := newStubSessions(sess)
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: sess.ID,
		TokenID:   sess.TokenID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, captured := requireSessionHandler(tokens, sessions)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.UserID != userID || captured.SessionID != sess.ID {
		t.Fatalf("identity not propagated: %+v", captured)
	}
}

func TestRequireSessionMissingToken(t *testing.T) {
	handler, _ := requireSessionHandler(stubVerifier{}, newStubSessions())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeReason(t, rec); got != "missing_token" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestRequireSessionExpiredToken(t *testing.T) {
	handler, _ := requireSessionHandler(stubVerifier{err: domain.ErrTokenExpired}, newStubSessions())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeReason(t, rec); got != "token_expired" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestRequireSessionBadSignature(t *testing.T) {
	handler, _ := requireSessionHandler(stubVerifier{err: domain.ErrTokenInvalid}, newStubSessions())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := decodeReason(t, rec); got != "token_signature_invalid" {
		t.Fatalf("unexpected reason %q", got)
	}
}

// A formally valid token whose registry row is gone (superseded by a newer
// login) must fail, which is the whole point of the stateful check.
func TestRequireSessionRevokedRow(t *testing.T) {
	userID := uuid.New()
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: uuid.New(),
		TokenID:   uuid.New(), // no matching registry row
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, _ := requireSessionHandler(tokens, newStubSessions())

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer formally-valid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeReason(t, rec); got != "session_revoked" {
		t.Fatalf("unexpected reason %q", got)
	}
}

// An unreachable registry is an infrastructure failure, not a verdict on the
// session: it must answer 500, never a 401 that clients would treat as
// authoritative revocation.
func TestRequireSessionRegistryOutageIsNot401(t *testing.T) {
	userID := uuid.New()
	sessions := newStubSessions()
	sessions.lookupErr = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: uuid.New(),
		TokenID:   uuid.New(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, _ := requireSessionHandler(tokens, sessions)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	if body.Error == "unauthorized" {
		t.Fatalf("outage answered as an auth failure: %s", rec.Body.String())
	}
}

func TestRequireSessionExplicitlyRevoked(t *testing.T) {
	userID := uuid.New()
	sess := liveSession(userID)
	revokedAt := time.Now().UTC().Add(-time.Minute)
	sess.RevokedAt = &revokedAt
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: sess.ID,
		TokenID:   sess.TokenID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, _ := requireSessionHandler(tokens, newStubSessions(sess))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer still-signed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := decodeReason(t, rec); got != "session_revoked" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestRequireSessionExpiredRow(t *testing.T) {
	userID := uuid.New()
	sess := liveSession(userID)
	sess.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: sess.ID,
		TokenID:   sess.TokenID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, _ := requireSessionHandler(tokens, newStubSessions(sess))

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer old-session")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := decodeReason(t, rec); got != "token_expired" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestRequireSessionTouchesLastAccessed(t *testing.T) {
	userID := uuid.New()
	sess := liveSession(userID)
	sessions := newStubSessions(sess)
	tokens := stubVerifier{identity: &service.AccessIdentity{
		UserID:    userID,
		SessionID: sess.ID,
		TokenID:   sess.TokenID,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}}
	handler, _ := requireSessionHandler(tokens, sessions)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The touch runs off the request path; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions.mu.Lock()
		n := len(sessions.touched)
		sessions.mu.Unlock()
		if n == 1 {
			if sessions.touched[0] != sess.ID {
				t.Fatalf("touched wrong session: %v", sessions.touched)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("lastAccessedAt was never touched")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBearerTokenExtraction(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"  Bearer   abc123  ", "abc123"},
		{"Basic abc123", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Fatalf("header %q: got %q want %q", tc.header, got, tc.want)
		}
	}
}
