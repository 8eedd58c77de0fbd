package jwttoken

import (
	authmw "consent-manager/pkg/platform/middleware/auth"
)

func ToMiddlewareClaims(claims *Claims) *authmw.CallerClaims {
	return &authmw.CallerClaims{
		CallerID: claims.CallerID,
		Kind:     string(claims.Kind),
		JTI:      claims.ID,
	}
}

// JWTServiceAdapter satisfies authmw.TokenValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.CallerClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
