package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data needed to mint a JWT.
type AccessTokenPayload struct {
	UserID string
	Email  string
	Phone  string
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by app clients. Tokens
// are issued by the account service; this backend only verifies them.
type AccessTokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}
