package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the lifetime of every issued access token.
const TokenTTL = time.Hour

var (
	// ErrInvalidToken covers malformed tokens, signature mismatches and
	// unexpected signing methods.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the verified payload of an access token.
// Roles is a snapshot taken at issuance and is not refreshed.
type Claims struct {
	UserID int      `json:"id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry the named role.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager constructs a TokenManager signing with secret.
func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    TokenTTL,
		now:    time.Now,
	}
}

// Issue signs a token embedding the user's id, email and current role names.
func (m *TokenManager) Issue(userID int, email string, roles []string) (string, time.Time, error) {
	if roles == nil {
		roles = []string{}
	}
	now := m.now()
	expiresAt := now.Add(m.ttl)
	claims := Claims{
		UserID: userID,
		Email:  email,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry and returns the embedded claims.
func (m *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID < 1 {
		return nil, ErrInvalidToken
	}
	if claims.Roles == nil {
		claims.Roles = []string{}
	}
	return claims, nil
}
