package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest holds the public registration payload. The role is always
// derived server-side; any client-supplied role hint is ignored.
type RegisterRequest struct {
	Email      string     `json:"email" validate:"required,email"`
	Password   string     `json:"password" validate:"required,min=6"`
	FirstName  string     `json:"firstName" validate:"required"`
	LastName   string     `json:"lastName" validate:"required"`
	Phone      string     `json:"phone,omitempty"`
	Address    string     `json:"address,omitempty"`
	Profession string     `json:"profession,omitempty"`
	BirthDate  *time.Time `json:"dateOfBirth,omitempty"`
	BirthPlace string     `json:"birthPlace,omitempty"`
	IP         string     `json:"-"`
	UserAgent  string     `json:"-"`
}

// Principal describes the authenticated actor in responses. For agents the
// commissariat reference is resolved into a full entity.
type Principal struct {
	ID             string        `json:"id"`
	Email          string        `json:"email"`
	FirstName      string        `json:"firstName"`
	LastName       string        `json:"lastName"`
	Role           Role          `json:"role"`
	CommissariatID *string       `json:"commissariatId,omitempty"`
	Commissariat   *Commissariat `json:"commissariat,omitempty"`
}

// AuthResponse returns the issued token alongside the principal fields.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	IssuedAt  time.Time `json:"issued_at"`
	Principal
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID         string  `json:"user_id"`
	Role           Role    `json:"role"`
	Email          string  `json:"email"`
	FullName       string  `json:"full_name"`
	CommissariatID *string `json:"commissariat_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenState classifies the outcome of credential inspection.
type TokenState int

const (
	TokenMalformed TokenState = iota
	TokenExpired
	TokenValid
)

// TokenInspection is the typed result of decoding a credential. It is shared
// by the server middleware and the client session store so both sides agree
// on what "expired" and "malformed" mean.
type TokenInspection struct {
	State     TokenState
	Claims    *JWTClaims
	ExpiresAt time.Time
}

// InspectToken decodes a credential without verifying its signature and
// classifies it as valid, expired, or malformed. Signature verification is
// the server's job; callers that hold the signing secret must still verify.
func InspectToken(raw string) TokenInspection {
	if raw == "" {
		return TokenInspection{State: TokenMalformed}
	}

	claims := &JWTClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return TokenInspection{State: TokenMalformed}
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if expiresAt.IsZero() || time.Now().After(expiresAt) {
		return TokenInspection{State: TokenExpired, Claims: claims, ExpiresAt: expiresAt}
	}

	return TokenInspection{State: TokenValid, Claims: claims, ExpiresAt: expiresAt}
}
