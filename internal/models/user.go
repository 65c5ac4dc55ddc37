package models

import "time"

// Role represents the closed set of principal roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "commissariat_agent"
	RoleAdmin Role = "admin"
)

// Known reports whether the role is one of the declared constants.
func (r Role) Known() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// Frontend route targets used by the authorization guard when a principal
// reaches a view outside its role.
const (
	RouteHome           = "/"
	RouteLogin          = "/auth"
	RouteUserDashboard  = "/user-dashboard"
	RouteAgentDashboard = "/commissariat-dashboard"
	RouteAdminDashboard = "/admin-dashboard"
)

// DefaultRouteFor returns the dashboard route a principal of the given role
// is redirected to. Unknown roles fall back to the home route.
func DefaultRouteFor(r Role) string {
	switch r {
	case RoleUser:
		return RouteUserDashboard
	case RoleAgent:
		return RouteAgentDashboard
	case RoleAdmin:
		return RouteAdminDashboard
	default:
		return RouteHome
	}
}

// User represents an application user stored in the users table. Agents carry
// a commissariat reference; citizens and admins do not.
type User struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	FirstName      string     `db:"first_name" json:"firstName"`
	LastName       string     `db:"last_name" json:"lastName"`
	Phone          string     `db:"phone" json:"phone,omitempty"`
	Address        string     `db:"address" json:"address,omitempty"`
	Profession     string     `db:"profession" json:"profession,omitempty"`
	BirthDate      *time.Time `db:"birth_date" json:"dateOfBirth,omitempty"`
	BirthPlace     string     `db:"birth_place" json:"birthPlace,omitempty"`
	Role           Role       `db:"role" json:"role"`
	CommissariatID *string    `db:"commissariat_id" json:"commissariatId,omitempty"`
	Active         bool       `db:"active" json:"active"`
	LastLogin      *time.Time `db:"last_login" json:"lastLogin,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// FullName joins the name parts for display and audit purposes.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role           *Role
	CommissariatID *string
	Active         *bool
	Search         string
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
