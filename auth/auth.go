// Package auth provides ready-made admission predicates for endpoints:
// JWT bearer tokens and HMAC-signed connect URLs.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/aydenstechdungeon/sockmux/endpoint"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the identity a JWT admits.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for the given identity, valid for ttl.
func GenerateToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a JWT and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// JWTHandler builds an admission predicate accepting requests that
// carry a valid JWT in the "token" query parameter or as a bearer
// Authorization header. A malformed or expired token is an auth
// rejection, not an internal error.
func JWTHandler(secret []byte) endpoint.AuthHandler {
	return func(ctx context.Context, req *endpoint.Request) (bool, error) {
		tokenString := req.Param("token")
		if tokenString == "" {
			tokenString = strings.TrimPrefix(req.Authorization, "Bearer ")
		}
		if tokenString == "" {
			return false, nil
		}
		_, err := ParseToken(secret, tokenString)
		return err == nil, nil
	}
}

// Sign computes the hex HMAC-SHA256 signature of a route path.
func Sign(secret []byte, path string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedHandler builds an admission predicate requiring the named query
// parameter to carry the HMAC signature of the route path.
func SignedHandler(secret []byte, param string) endpoint.AuthHandler {
	return func(ctx context.Context, req *endpoint.Request) (bool, error) {
		got, err := hex.DecodeString(req.Param(param))
		if err != nil {
			return false, nil
		}
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(req.Path))
		return hmac.Equal(got, mac.Sum(nil)), nil
	}
}
