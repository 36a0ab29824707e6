package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// The role-hint cookie lets the frontend render admin navigation without a
// round trip. It is display-only: every privileged route re-checks the role
// from the server-side session.

var (
	roleHintSecret = []byte("change-me-in-production")
	roleHintTTL    = 24 * time.Hour
)

type RoleHintClaims struct {
	UserID uuid.UUID `json:"userID"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

func ConfigureRoleHint(secret string, ttl time.Duration) {
	if secret != "" {
		roleHintSecret = []byte(secret)
	}
	if ttl > 0 {
		roleHintTTL = ttl
	}
}

func GenerateRoleHint(userID uuid.UUID, role string) (string, error) {
	now := time.Now()
	claims := RoleHintClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(roleHintTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(roleHintSecret)
}

func ValidateRoleHint(tokenString string) (*RoleHintClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoleHintClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return roleHintSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*RoleHintClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid role hint")
	}

	return claims, nil
}
