package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/putto11262002/studyroom/pkg/proto"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrUnrecognizedToken = errors.New("unrecognized token")
)

const tokenIssuer = "studyroom"

// Identity is what a validated token says about its holder.
type Identity struct {
	UserID string
	Name   string
}

// TokenValidator validates the auth token presented at handshake.
// Implementations return errors wrapping proto.ErrAuth.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Identity, error)
}

type AuthClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for userID.
func NewToken(userID, name string, expiration time.Duration, secret []byte) (string, time.Time, error) {
	exp := time.Now().Add(expiration)
	claims := &AuthClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", exp, fmt.Errorf("SignedString: %w", err)
	}
	return signed, exp, nil
}

func VerifyToken(token string, secret []byte) (*AuthClaims, error) {
	claims := &AuthClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithIssuer(tokenIssuer))

	switch {
	case err == nil && parsed.Valid:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrTokenInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	default:
		return nil, ErrUnrecognizedToken
	}
}

// JWTValidator validates HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

func (v *JWTValidator) ValidateToken(_ context.Context, token string) (Identity, error) {
	claims, err := VerifyToken(token, v.secret)
	if err != nil {
		return Identity{}, NewInsensitiveError(proto.ErrAuth, err.Error())
	}
	if claims.Subject == "" {
		return Identity{}, NewInsensitiveError(proto.ErrAuth, "token has no subject")
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, nil
}
