package tokens

import "github.com/golang-jwt/jwt/v5"

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the payload shared by access and refresh tokens. Type keeps the two
// variants from being accepted in place of each other even when they share a secret.
type Claims struct {
	UserID string `json:"userId"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}
