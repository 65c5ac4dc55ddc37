package dto

import "github.com/abidjan-digital/declaration-api/internal/models"

// CreateCommissariatRequest payload for registering a new station.
type CreateCommissariatRequest struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
	City    string `json:"city" validate:"required"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
}

// CreateUserRequest is the admin-side account creation payload. Unlike the
// public registration endpoint it may assign a role, and agents must name
// their commissariat.
type CreateUserRequest struct {
	Email          string      `json:"email" validate:"required,email"`
	Password       string      `json:"password" validate:"required,min=6"`
	FirstName      string      `json:"firstName" validate:"required"`
	LastName       string      `json:"lastName" validate:"required"`
	Phone          string      `json:"phone,omitempty"`
	Role           models.Role `json:"role" validate:"required"`
	CommissariatID *string     `json:"commissariat,omitempty"`
}
