package jwttoken

import (
	id "tumi/pkg/domain"
	dErrors "tumi/pkg/domain-errors"
	authmw "tumi/pkg/platform/middleware/auth"
	"tumi/pkg/requestcontext"
)

// ToMiddlewareClaims parses the string claims into typed ids. Unknown roles
// fall back to USER.
func ToMiddlewareClaims(claims *Claims) (*authmw.JWTClaims, error) {
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token tenant")
	}
	role := requestcontext.Role(claims.Role)
	if role != requestcontext.RoleAdmin {
		role = requestcontext.RoleUser
	}
	return &authmw.JWTClaims{UserID: userID, TenantID: tenantID, Role: role}, nil
}

// JWTServiceAdapter satisfies the auth middleware's validator interface.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims)
}
