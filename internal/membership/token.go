package membership

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Claims is the session token payload issued on login.
type Claims struct {
	AsociacionID string `json:"asociacion_id"`
	jwt.RegisteredClaims
}

// issueToken signs an HS256 session token for a socio.
func issueToken(secret []byte, socio *Socio, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AsociacionID: socio.AsociacionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   socio.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "fidelya",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken parses and validates a session token, returning the socio id.
func VerifyToken(secret []byte, raw string) (uuid.UUID, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return uuid.Nil, nil, fmt.Errorf("invalid token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("parse subject: %w", err)
	}
	return id, claims, nil
}
