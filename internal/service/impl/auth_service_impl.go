package impl

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/dto"
	"fintrack-auth/internal/netutil"
	"fintrack-auth/internal/observability/metrics"
	"fintrack-auth/internal/security"
	"fintrack-auth/internal/service"
	"fintrack-auth/internal/store"

	"github.com/google/uuid"
)

// Policy holds the lifecycle knobs the issuer enforces outside of token TTLs.
type Policy struct {
	MaxLoginFailures int
	LockoutWindow    time.Duration
	RefreshTTL       time.Duration
	TwoFactorTTL     time.Duration
	ConfirmTTL       time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxLoginFailures: 5,
		LockoutWindow:    15 * time.Minute,
		RefreshTTL:       30 * 24 * time.Hour,
		TwoFactorTTL:     5 * time.Minute,
		ConfirmTTL:       48 * time.Hour,
	}
}

type AuthServiceImpl struct {
	Store           dataStore
	PasswordService service.PasswordService
	Tokens          service.TokenService
	Codes           service.CodeSender
	Policy          Policy

	nowF func() time.Time
}

func NewAuthServiceImpl(st *store.Store, passwords service.PasswordService, tokens service.TokenService, codes service.CodeSender, policy Policy) *AuthServiceImpl {
	return &AuthServiceImpl{
		Store:           gormStoreAdapter{store: st},
		PasswordService: passwords,
		Tokens:          tokens,
		Codes:           codes,
		Policy:          policy,
		nowF:            func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthServiceImpl) now() time.Time {
	if a.nowF != nil {
		return a.nowF()
	}
	return time.Now().UTC()
}

// ===== Store seams (kept narrow so tests can swap in memory stores) =====

type dataStore interface {
	storeTx
	WithTx(ctx context.Context, fn func(tx storeTx) error) error
}

type storeTx interface {
	Users() userStore
	Sessions() sessionStore
	TwoFactor() twoFactorStore
	Confirmations() confirmationStore
}

type userStore interface {
	Create(ctx context.Context, usr *domain.User) error
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	SetEmailConfirmed(ctx context.Context, userID domain.UserID) error
	RecordLoginFailure(ctx context.Context, userID domain.UserID, failures int, at time.Time, lockedUntil *time.Time) error
	ResetLoginFailures(ctx context.Context, userID domain.UserID) error
	UpdatePassword(ctx context.Context, usr *domain.User) error
}

type sessionStore interface {
	Create(ctx context.Context, sess *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	Revoke(ctx context.Context, id domain.SessionID, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID domain.UserID, at time.Time) (int64, error)
	Rotate(ctx context.Context, id domain.SessionID, tokenID, refreshID uuid.UUID, refreshHash, refreshSalt string, expiresAt time.Time) error
}

type twoFactorStore interface {
	CreateChallenge(ctx context.Context, c *domain.TwoFactorChallenge) error
	GetChallenge(ctx context.Context, id domain.ChallengeID) (*domain.TwoFactorChallenge, error)
	ConsumeChallenge(ctx context.Context, id domain.ChallengeID) error
}

type confirmationStore interface {
	Create(ctx context.Context, c *domain.EmailConfirmation) error
	GetByToken(ctx context.Context, token string) (*domain.EmailConfirmation, error)
	Consume(ctx context.Context, token string) error
}

type gormStoreAdapter struct {
	store *store.Store
}

func (g gormStoreAdapter) Users() userStore                 { return g.store.Users() }
func (g gormStoreAdapter) Sessions() sessionStore           { return g.store.Sessions() }
func (g gormStoreAdapter) TwoFactor() twoFactorStore        { return g.store.TwoFactor() }
func (g gormStoreAdapter) Confirmations() confirmationStore { return g.store.Confirmations() }

func (g gormStoreAdapter) WithTx(ctx context.Context, fn func(tx storeTx) error) error {
	if g.store == nil {
		return errors.New("nil store")
	}
	return g.store.WithTx(ctx, func(tx *store.Store) error {
		return fn(gormStoreAdapter{store: tx})
	})
}

// ===== Registration and email confirmation =====

func (a *AuthServiceImpl) Register(ctx context.Context, r dto.RegisterRequest) (*dto.RegisterResponse, error) {
	email := strings.TrimSpace(strings.ToLower(r.Email))
	if email == "" || r.Password == "" {
		return nil, ErrEmptyCredential
	}
	if len(r.Password) < 8 {
		return nil, ErrPasswordLength
	}
	if existing, err := a.Store.Users().GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, domain.ErrEmailTaken
	} else if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}

	hash, salt, paramsJSON, algo, ver, err := a.PasswordService.Hash(r.Password)
	if err != nil {
		return nil, err
	}

	now := a.now()
	u := &domain.User{
		ID:             uuid.New(),
		Email:          email,
		DisplayName:    strings.TrimSpace(r.DisplayName),
		EmailConfirmed: false,
		PasswordAlgo:   algo,
		PasswordHash:   hash,
		PasswordSalt:   salt,
		PasswordParams: paramsJSON,
		PasswordVer:    ver,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	confirmToken, err := randomToken()
	if err != nil {
		return nil, err
	}

	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		if err := tx.Users().Create(ctx, u); err != nil {
			return err // unique constraint on email bubbles up
		}
		return tx.Confirmations().Create(ctx, &domain.EmailConfirmation{
			UserID:    u.ID,
			Token:     confirmToken,
			ExpiresAt: now.Add(a.Policy.ConfirmTTL),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	// Delivery is an external collaborator; the token is only logged at debug
	// level for local development.
	slog.Debug("created email confirmation", "user_id", u.ID, "token", confirmToken)

	return &dto.RegisterResponse{
		UserID:                    u.ID.String(),
		RequiresEmailConfirmation: true,
	}, nil
}

func (a *AuthServiceImpl) ConfirmEmail(ctx context.Context, token string) error {
	c, err := a.Store.Confirmations().GetByToken(ctx, token)
	if err != nil {
		return domain.ErrTokenInvalid
	}
	if c.Consumed || a.now().After(c.ExpiresAt) {
		return domain.ErrTokenInvalid
	}
	if err := a.Store.Confirmations().Consume(ctx, token); err != nil {
		return err
	}
	return a.Store.Users().SetEmailConfirmed(ctx, c.UserID)
}

// ===== Login =====

func (a *AuthServiceImpl) Login(ctx context.Context, r dto.LoginRequest, ip, ua string) (*service.LoginResult, error) {
	result := "failure"
	defer func() {
		metrics.LoginsTotal.WithLabelValues(result).Inc()
	}()

	email := strings.TrimSpace(strings.ToLower(r.Email))
	if email == "" || r.Password == "" {
		return nil, ErrEmptyCredential
	}

	user, err := a.Store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials // don't leak whether the email exists
	}
	if user.IsDisabled {
		return nil, domain.ErrUserDisabled
	}
	now := a.now()
	if user.LockedAt(now) {
		return nil, domain.ErrAccountLocked
	}

	rehashNeeded, ok := a.PasswordService.Verify(r.Password, user)
	if !ok {
		a.recordFailure(ctx, user, now)
		return nil, domain.ErrInvalidCredentials
	}
	if !user.EmailConfirmed {
		return nil, domain.ErrEmailNotConfirmed
	}
	if user.FailedLogins > 0 || user.LockedUntil != nil {
		_ = a.Store.Users().ResetLoginFailures(ctx, user.ID)
	}

	// Transparent policy upgrade; failure here must not block the login.
	if rehashNeeded {
		if newHash, newSalt, newParams, algo, ver, err := a.PasswordService.Hash(r.Password); err == nil {
			user.PasswordAlgo = algo
			user.PasswordHash = newHash
			user.PasswordSalt = newSalt
			user.PasswordParams = newParams
			user.PasswordVer = ver
			_ = a.Store.Users().UpdatePassword(ctx, user)
		}
	}

	if user.TwoFactorEnabled {
		marker, err := a.beginTwoFactor(ctx, user, now)
		if err != nil {
			return nil, err
		}
		result = "two_factor_pending"
		return &service.LoginResult{TwoFactor: marker}, nil
	}

	tokens, err := a.issueSession(ctx, user, ip, ua)
	if err != nil {
		return nil, err
	}
	result = "success"
	return &service.LoginResult{Tokens: tokens}, nil
}

func (a *AuthServiceImpl) recordFailure(ctx context.Context, user *domain.User, now time.Time) {
	failures := user.FailedLogins + 1
	// Failures outside the lockout window don't accumulate.
	if user.LastFailedLogin != nil && now.Sub(*user.LastFailedLogin) > a.Policy.LockoutWindow {
		failures = 1
	}
	var lockedUntil *time.Time
	if failures >= a.Policy.MaxLoginFailures {
		t := now.Add(a.Policy.LockoutWindow)
		lockedUntil = &t
		slog.Warn("account locked after repeated failures", "user_id", user.ID, "until", t)
	}
	if err := a.Store.Users().RecordLoginFailure(ctx, user.ID, failures, now, lockedUntil); err != nil {
		slog.Error("record login failure", "user_id", user.ID, "error", err)
	}
}

func (a *AuthServiceImpl) beginTwoFactor(ctx context.Context, user *domain.User, now time.Time) (*dto.TwoFactorResponse, error) {
	code, err := security.GenerateCode()
	if err != nil {
		return nil, err
	}
	challenge := &domain.TwoFactorChallenge{
		ID:        uuid.New(),
		UserID:    user.ID,
		CodeHash:  security.HashCode(code),
		ExpiresAt: now.Add(a.Policy.TwoFactorTTL),
		CreatedAt: now,
	}
	if err := a.Store.TwoFactor().CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	if err := a.Codes.SendCode(ctx, user.Email, code); err != nil {
		return nil, err
	}
	tempToken, err := a.Tokens.SignTempToken(challenge.ID, user.ID, now)
	if err != nil {
		return nil, err
	}
	return &dto.TwoFactorResponse{RequiresTwoFactor: true, TempToken: tempToken}, nil
}

func (a *AuthServiceImpl) LoginTwoFactor(ctx context.Context, r dto.LoginTwoFactorRequest, ip, ua string) (*dto.TokenResponse, error) {
	challengeID, userID, err := a.Tokens.ParseTempToken(r.TempToken)
	if err != nil {
		return nil, domain.ErrTwoFactorInvalidCode
	}
	challenge, err := a.Store.TwoFactor().GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, domain.ErrTwoFactorInvalidCode
	}
	now := a.now()
	if challenge.Consumed || now.After(challenge.ExpiresAt) || challenge.UserID != userID {
		return nil, domain.ErrTwoFactorInvalidCode
	}
	if !security.CodeEqual(r.Code, challenge.CodeHash) {
		return nil, domain.ErrTwoFactorInvalidCode
	}
	if err := a.Store.TwoFactor().ConsumeChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	user, err := a.Store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	return a.issueSession(ctx, user, ip, ua)
}

// issueSession is the enforcement point of the single-active-session policy:
// revoking every prior row and inserting the new one share one transaction,
// so no instant exists with two active sessions for the user.
func (a *AuthServiceImpl) issueSession(ctx context.Context, user *domain.User, ip, ua string) (*dto.TokenResponse, error) {
	now := a.now()
	salt, err := security.NewRefreshSalt()
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenID:   uuid.New(),
		RefreshID: uuid.New(),
		ExpiresAt: now.Add(a.Policy.RefreshTTL),
		CreatedAt: now,
		IP:        normalizeIP(ip),
		UserAgent: netutil.TruncateUserAgent(ua),
	}

	access, accessExp, err := a.Tokens.SignAccess(user, sess, now)
	if err != nil {
		return nil, err
	}
	refresh, err := a.Tokens.SignRefresh(user, sess, now)
	if err != nil {
		return nil, err
	}
	sess.RefreshSalt = salt
	sess.RefreshHash = security.HashRefreshToken(salt, refresh)

	var superseded int64
	err = a.Store.WithTx(ctx, func(tx storeTx) error {
		n, err := tx.Sessions().RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			return err
		}
		superseded = n
		return tx.Sessions().Create(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	if superseded > 0 {
		metrics.SessionsRevokedTotal.WithLabelValues("superseded").Add(float64(superseded))
	}
	metrics.TokensIssuedTotal.WithLabelValues("issue", "success").Inc()
	slog.Info("issued session",
		"session_id", sess.ID, "user_id", user.ID, "superseded", superseded)

	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
		User:         userToDTO(user),
	}, nil
}

// ===== Refresh =====

func (a *AuthServiceImpl) Refresh(ctx context.Context, r dto.RefreshRequest, ip, ua string) (*dto.TokenResponse, error) {
	result := "failure"
	defer func() {
		metrics.TokensIssuedTotal.WithLabelValues("refresh", result).Inc()
	}()

	sessionID, refreshID, err := a.Tokens.ParseRefresh(r.RefreshToken)
	if err != nil {
		return nil, domain.ErrRefreshTokenInvalid
	}
	sess, err := a.Store.Sessions().GetByID(ctx, sessionID)
	if err != nil {
		return nil, domain.ErrRefreshTokenInvalid
	}
	if sess.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	now := a.now()
	if now.After(sess.ExpiresAt) {
		return nil, domain.ErrRefreshTokenInvalid
	}
	// A stale jti means this refresh token was already rotated away: either a
	// replayed request or a stolen token. Revoke everything for the user.
	if sess.RefreshID != refreshID {
		if n, err := a.Store.Sessions().RevokeAllForUser(ctx, sess.UserID, now); err == nil && n > 0 {
			metrics.SessionsRevokedTotal.WithLabelValues("refresh_reuse").Add(float64(n))
		}
		slog.Warn("refresh token reuse detected", "session_id", sess.ID, "user_id", sess.UserID)
		return nil, domain.ErrRefreshTokenInvalid
	}
	if !security.RefreshHashEqual(sess.RefreshSalt, r.RefreshToken, sess.RefreshHash) {
		return nil, domain.ErrRefreshTokenInvalid
	}

	user, err := a.Store.Users().GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, domain.ErrRefreshTokenInvalid
	}

	// Rotate-on-use: next access jti, next refresh credential, extended expiry.
	sess.TokenID = uuid.New()
	sess.RefreshID = uuid.New()
	sess.ExpiresAt = now.Add(a.Policy.RefreshTTL)
	sess.IP = normalizeIP(ip)
	sess.UserAgent = netutil.TruncateUserAgent(ua)

	access, accessExp, err := a.Tokens.SignAccess(user, sess, now)
	if err != nil {
		return nil, err
	}
	refresh, err := a.Tokens.SignRefresh(user, sess, now)
	if err != nil {
		return nil, err
	}
	newSalt, err := security.NewRefreshSalt()
	if err != nil {
		return nil, err
	}
	newHash := security.HashRefreshToken(newSalt, refresh)
	if err := a.Store.Sessions().Rotate(ctx, sess.ID, sess.TokenID, sess.RefreshID, newHash, newSalt, sess.ExpiresAt); err != nil {
		return nil, err
	}

	result = "success"
	slog.Info("refreshed session", "session_id", sess.ID, "user_id", user.ID)

	return &dto.TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExp,
	}, nil
}

// ===== Logout / identity =====

func (a *AuthServiceImpl) Logout(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return domain.ErrTokenInvalid
	}
	if err := a.Store.Sessions().Revoke(ctx, id, a.now()); err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.WithLabelValues("logout").Inc()
	return nil
}

func (a *AuthServiceImpl) CurrentUser(ctx context.Context, userID string) (*dto.UserResponse, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	user, err := a.Store.Users().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return userToDTO(user), nil
}

// ===== Helpers =====

func userToDTO(u *domain.User) *dto.UserResponse {
	return &dto.UserResponse{
		ID:               u.ID.String(),
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
	}
}

func normalizeIP(ip string) string {
	if normalized, ok := netutil.NormalizeIP(ip); ok {
		return normalized
	}
	return strings.TrimSpace(ip)
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// LogCodeSender logs the code instead of delivering it; the default wiring
// until an email/SMS collaborator is configured.
type LogCodeSender struct{}

func (LogCodeSender) SendCode(ctx context.Context, email, code string) error {
	slog.Info("two-factor code issued", "email", email)
	slog.Debug("two-factor code value", "code", code)
	return nil
}
