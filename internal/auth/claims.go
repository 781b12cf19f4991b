package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin grants access to operational endpoints.
const RoleAdmin = "admin"

// AdminClaims is the JWT payload of an operator token.
type AdminClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c AdminClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}
