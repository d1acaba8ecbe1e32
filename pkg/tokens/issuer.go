package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/auth_backend/internal/apperr"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidAccessToken = errors.New("invalid or expired access token")
	errWrongTokenType     = errors.New("unexpected token type")
	errMissingUserID      = errors.New("token has no user id")
)

type Issuer struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

// NewIssuer builds an Issuer with default lifetimes. An empty refreshSecret falls back
// to accessSecret.
func NewIssuer(accessSecret, refreshSecret []byte) *Issuer {
	if len(refreshSecret) == 0 {
		refreshSecret = accessSecret
	}
	return &Issuer{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		AccessTTL:     DefaultAccessTTL,
		RefreshTTL:    DefaultRefreshTTL,
		Now:           time.Now,
	}
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) refreshSecret() []byte {
	if len(i.RefreshSecret) == 0 {
		return i.AccessSecret
	}
	return i.RefreshSecret
}

func (i *Issuer) IssueAccessToken(userID string) (string, error) {
	return i.sign(userID, TypeAccess, i.AccessTTL, i.AccessSecret)
}

func (i *Issuer) IssueRefreshToken(userID string) (string, error) {
	return i.sign(userID, TypeRefresh, i.RefreshTTL, i.refreshSecret())
}

func (i *Issuer) sign(userID, typ string, ttl time.Duration, secret []byte) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return token, nil
}

// VerifyRefreshToken checks signature, expiry and type against the refresh secret.
// Every failure is reported as apperr.ErrInvalidToken.
func (i *Issuer) VerifyRefreshToken(token string) (*Claims, error) {
	claims, err := i.parse(token, TypeRefresh, i.refreshSecret())
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInvalidToken, err)
	}
	return claims, nil
}

func (i *Issuer) VerifyAccessToken(token string) (*Claims, error) {
	claims, err := i.parse(token, TypeAccess, i.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	return claims, nil
}

func (i *Issuer) RefreshAccessToken(refreshToken string) (string, error) {
	claims, err := i.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", err
	}
	return i.IssueAccessToken(claims.UserID)
}

func (i *Issuer) parse(tokenStr, typ string, secret []byte) (*Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Type != typ {
		return nil, errWrongTokenType
	}
	if claims.UserID == "" {
		return nil, errMissingUserID
	}
	return &claims, nil
}
