package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/layer-3/xcafe/core"
	"github.com/layer-3/xcafe/ports"
)

const Issuer = "xcafe"

// DefaultTokenTTL is the lifetime of an access token.
const DefaultTokenTTL = 7 * 24 * time.Hour

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte, ttl time.Duration) *JWTTokenizer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTTokenizer{secret: secret, ttl: ttl, now: time.Now}
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// WithClock replaces the token clock
func (j *JWTTokenizer) WithClock(now func() time.Time) *JWTTokenizer {
	j.now = now
	return j
}

// IdentityToToken signs an access token for identity. IssuedAt and
// ExpiresAt are filled in when zero.
func (j *JWTTokenizer) IdentityToToken(identity *core.Identity) (string, error) {
	issued := identity.IssuedAt
	if issued.IsZero() {
		issued = j.now()
	}
	expires := identity.ExpiresAt
	if expires.IsZero() {
		expires = issued.Add(j.ttl)
	}

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   identity.Address,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID:   identity.UserID,
		Address:  identity.Address,
		UserType: identity.UserType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToIdentity validates a token and returns its identity
func (j *JWTTokenizer) TokenToIdentity(tokenStr string) (*core.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, core.ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	identity := &core.Identity{
		UserID:    claims.UserID,
		Address:   claims.Address,
		UserType:  claims.UserType,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	return identity, nil
}

// Inspector reads token claims without a key. The result is only fit for
// local bookkeeping such as scheduling a re-login.
type Inspector struct{}

// TokenExpiry returns the exp claim of an unverified token, zero when absent.
func (Inspector) TokenExpiry(tokenStr string) (time.Time, error) {
	var claims AccessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to inspect token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
