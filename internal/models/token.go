package models

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of access tokens issued by the auth service.
// Only the subject user id is consumed here.
type TokenClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}
