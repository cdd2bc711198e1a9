package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the JWT claims. Tokens are issued by the
// identity collaborator; this service only validates them.
const (
	TokenTypeStudent  = "student"
	TokenTypeExaminer = "examiner"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	StudentCode string    `json:"student_code,omitempty"`
	TokenType   string    `json:"token_type"`
	jwt.RegisteredClaims
}

// AuthService validates and (for tooling) issues JWTs.
type AuthService struct {
	secret []byte
	expiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string, expiry time.Duration) *AuthService {
	return &AuthService{secret: []byte(secret), expiry: expiry}
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// GenerateToken issues a signed JWT. Used by the seeding tool and tests;
// production tokens come from the identity service.
func (s *AuthService) GenerateToken(userID uuid.UUID, studentCode, tokenType string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		StudentCode: studentCode,
		TokenType:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
