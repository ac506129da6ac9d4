package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrUnknownRole  = errors.New("token carries no known role")
)

const sessionAudience = "authenticated"

type AppMetadata struct {
	Role string `json:"role"`
}

// UserClaims mirrors the access tokens issued by the identity provider.
type UserClaims struct {
	Email       string      `json:"email,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

type TokenManager interface {
	GenerateAccessToken(userID uuid.UUID, email string, role Role, ttl time.Duration) (string, error)
	ValidateToken(tokenString string) (*UserClaims, error)
	ResolveSession(tokenString string) (*Session, error)
}

type tokenManager struct {
	secret []byte
}

func NewTokenManager(secret string) TokenManager {
	return &tokenManager{
		secret: []byte(secret),
	}
}

// GenerateAccessToken mints a token shaped like the identity provider's.
// Used by tests and operator tooling.
func (m *tokenManager) GenerateAccessToken(userID uuid.UUID, email string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		Email:       email,
		AppMetadata: AppMetadata{Role: string(role)},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{sessionAudience},
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithAudience(sessionAudience))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// ResolveSession validates the token and turns its claims into a Session.
func (m *tokenManager) ResolveSession(tokenString string) (*Session, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	role, ok := ParseRole(claims.AppMetadata.Role)
	if !ok {
		return nil, ErrUnknownRole
	}
	return &Session{UserID: userID, Email: claims.Email, Role: role}, nil
}
