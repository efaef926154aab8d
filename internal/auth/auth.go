package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permissions granted to back-office operators.
const (
	PermissionApprovePayments = "approve_payments"
	PermissionRejectPayments  = "reject_payments"
	PermissionManagePurchases = "manage_purchases"
	PermissionAdmin           = "admin"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type AuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Claims represents JWT token claims
type Claims struct {
	OperatorID string `json:"operator_id"`
	Email      string `json:"email"`
	TokenType  string `json:"typ"`
	jwt.RegisteredClaims
}

// Credentials is what the store keeps for password checks.
type Credentials struct {
	OperatorID   int64
	PasswordHash string
	IsActive     bool
}

// TokenGenerator issues and verifies signed tokens.
type TokenGenerator interface {
	GenerateAccessToken(operatorID, email string) (string, time.Time, error)
	GenerateRefreshToken(operatorID, email string) (string, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}
