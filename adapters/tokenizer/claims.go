package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the user fields the
// frontend reads without a round trip
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"id"`
	Address  string `json:"address"`
	UserType string `json:"userType"`
}
