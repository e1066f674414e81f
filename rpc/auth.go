package rpc

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role labels what a JWT subject is allowed to do. Only RoleAdmin unlocks the
// admin-gated methods today.
type Role string

const RoleAdmin Role = "admin"

const adminTokenHeader = "X-Admin-Token"

type adminClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// requireAdmin validates the HMAC-signed admin JWT carried in X-Admin-Token.
// Admin methods still pass through requireAuth first; the JWT proves the role
// on top of the shared bearer token.
func (s *Server) requireAdmin(r *http.Request) *RPCError {
	if len(s.adminSecret) == 0 {
		return &RPCError{Code: codeUnauthorized, Message: "admin secret not configured"}
	}
	raw := strings.TrimSpace(r.Header.Get(adminTokenHeader))
	if raw == "" {
		return &RPCError{Code: codeUnauthorized, Message: fmt.Sprintf("missing %s header", adminTokenHeader)}
	}
	claims := &adminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.adminSecret, nil
	})
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin token"}
	}
	if claims.Role != RoleAdmin {
		return &RPCError{Code: codeUnauthorized, Message: "admin role required", Data: string(claims.Role)}
	}
	return nil
}

// MintAdminToken issues a short-lived admin JWT signed with the server secret.
// Exposed for operator tooling and tests.
func MintAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := adminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
