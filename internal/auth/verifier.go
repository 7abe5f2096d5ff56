// internal/auth/verifier.go
// Token verification. Issuance lives in the auth service; this side only
// maps a bearer credential to an identity.

package auth

import (
	"context"
	"strings"

	"github.com/imadgeboyega/kiekky-realtime/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-realtime/internal/common/utils"
)

var (
	ErrMissingToken = apperr.Authentication("missing or invalid authorization credential")
	ErrInvalidToken = apperr.Authentication("invalid or expired token")
)

// Identity is the authenticated user bound to a request or connection
type Identity struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Verifier maps a credential to an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier validates HS256 access tokens
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := utils.ValidateJWT(token, v.secret)
	if err != nil {
		return nil, ErrInvalidToken.Wrap(err)
	}

	// Refresh tokens must not open sessions
	if claims.Type != "" && claims.Type != "access" {
		return nil, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = "user"
	}

	return &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   role,
	}, nil
}
