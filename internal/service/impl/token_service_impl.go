package impl

import (
	"errors"
	"time"

	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenConfig struct {
	Issuer     string        // e.g. "http://localhost:8081"
	Audience   string        // e.g. "fintrack-clients"
	AccessTTL  time.Duration // e.g. 15 * time.Minute
	RefreshTTL time.Duration // e.g. 30 * 24h
	TempTTL    time.Duration // two-factor temp token, e.g. 5m
	SigningKey []byte        // HS256 secret
}

type AccessClaims struct {
	SID   string `json:"sid"` // session id
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	SID                  string `json:"sid"` // session id
	jwt.RegisteredClaims        // jti == session refresh_id
}

// tempClaims carry a pending two-factor challenge between the two login steps.
// Purpose claim keeps them from being replayed as access tokens.
type tempClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

const tempPurpose = "2fa"

type TokenServiceImpl struct {
	cfg TokenConfig
}

func NewTokenServiceHS256(cfg TokenConfig) *TokenServiceImpl {
	return &TokenServiceImpl{cfg: cfg}
}

func (t *TokenServiceImpl) SignAccess(user *domain.User, sess *domain.Session, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(t.cfg.AccessTTL)
	claims := AccessClaims{
		SID:   sess.ID.String(),
		Scope: "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sess.TokenID.String(), // registry lookup key
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.SigningKey)
	return signed, expiresAt, err
}

func (t *TokenServiceImpl) SignRefresh(user *domain.User, sess *domain.Session, now time.Time) (string, error) {
	claims := RefreshClaims{
		SID: sess.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        sess.RefreshID.String(), // binds JWT to the DB row
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

func (t *TokenServiceImpl) VerifyAccess(tokenStr string) (*service.AccessIdentity, error) {
	claims := &AccessClaims{}
	if err := t.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	sid, err := uuid.Parse(claims.SID)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, domain.ErrTokenInvalid
	}
	return &service.AccessIdentity{
		UserID:    sub,
		SessionID: sid,
		TokenID:   jti,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (t *TokenServiceImpl) ParseRefresh(tokenStr string) (domain.SessionID, uuid.UUID, error) {
	claims := &RefreshClaims{}
	if err := t.parse(tokenStr, claims); err != nil {
		return uuid.Nil, uuid.Nil, domain.ErrRefreshTokenInvalid
	}
	sid, err := uuid.Parse(claims.SID)
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.ErrRefreshTokenInvalid
	}
	rid, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.ErrRefreshTokenInvalid
	}
	return sid, rid, nil
}

func (t *TokenServiceImpl) SignTempToken(challengeID domain.ChallengeID, userID domain.UserID, now time.Time) (string, error) {
	claims := tempClaims{
		Purpose: tempPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(t.cfg.TempTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        challengeID.String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.cfg.SigningKey)
}

func (t *TokenServiceImpl) ParseTempToken(tokenStr string) (domain.ChallengeID, domain.UserID, error) {
	claims := &tempClaims{}
	if err := t.parse(tokenStr, claims); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if claims.Purpose != tempPurpose {
		return uuid.Nil, uuid.Nil, domain.ErrTokenInvalid
	}
	cid, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.ErrTokenInvalid
	}
	sub, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, uuid.Nil, domain.ErrTokenInvalid
	}
	return cid, sub, nil
}

// parse validates signature, exp, issuer and audience into claims. Expired
// tokens are reported distinctly so the middleware can answer token_expired
// rather than a generic 401.
func (t *TokenServiceImpl) parse(tokenStr string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
	)
	tok, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.ErrTokenExpired
		}
		return domain.ErrTokenInvalid
	}
	if !tok.Valid {
		return domain.ErrTokenInvalid
	}
	return nil
}
