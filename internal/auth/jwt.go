package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "rerankd"
	defaultExpiry = 24 * time.Hour
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims are the bearer token claims. Subject names the API client.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTConfig configures token signing. Issuer must match between the
// process minting tokens and the server checking them.
type JWTConfig struct {
	Secret        string
	Expiry        time.Duration
	Issuer        string
	SigningMethod jwt.SigningMethod
}

// DefaultJWTConfig signs with HS256 for a day under the rerankd issuer.
func DefaultJWTConfig(secret string) *JWTConfig {
	return &JWTConfig{
		Secret:        secret,
		Expiry:        defaultExpiry,
		Issuer:        defaultIssuer,
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// JWTManager mints and checks bearer tokens for the HTTP API.
type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
	method jwt.SigningMethod
}

func NewJWTManager(config *JWTConfig) *JWTManager {
	m := &JWTManager{
		secret: []byte(config.Secret),
		expiry: config.Expiry,
		issuer: config.Issuer,
		method: config.SigningMethod,
	}
	if m.method == nil {
		m.method = jwt.SigningMethodHS256
	}
	if m.expiry <= 0 {
		m.expiry = defaultExpiry
	}
	return m
}

// GenerateToken mints a token for subject with the configured lifetime.
func (m *JWTManager) GenerateToken(subject string) (string, error) {
	return m.GenerateTokenWithExpiry(subject, m.expiry)
}

// GenerateTokenWithExpiry mints a token valid for expiry from now. A
// negative expiry yields an already expired token.
func (m *JWTManager) GenerateTokenWithExpiry(subject string, expiry time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidClaims)
	}

	issuedAt := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
	}}

	signed, err := jwt.NewWithClaims(m.method, &claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, issuer and time claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims, token, err := m.parse(tokenString,
		jwt.WithIssuer(m.issuer),
		jwt.WithValidMethods([]string{m.method.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case !token.Valid || claims.Subject == "":
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// TokenExpiry reads the expiry of a correctly signed token, expired or not.
func (m *JWTManager) TokenExpiry(tokenString string) (time.Time, error) {
	claims, _, err := m.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no expiry", ErrInvalidClaims)
	}
	return claims.ExpiresAt.Time, nil
}

func (m *JWTManager) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, *jwt.Token, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	return claims, token, err
}
