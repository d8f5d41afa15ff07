package models

import "time"

// user roles
const (
	RoleSuperAdmin = "superadmin"
	RoleOrders     = "orders"
	RoleMarketing  = "marketing"
	RoleCustomer   = "customer"
)

// User is user entity
type User struct {
	ID        string
	Name      string
	Email     string
	Password  string
	IsAdmin   bool
	Role      string
	CreatedAt time.Time
}

// TokenPayload is the authenticated actor extracted from token
type TokenPayload struct {
	UserID  string
	Name    string
	Email   string
	Role    string
	IsAdmin bool
}

// HasRole reports whether the actor has one of roles. Admins have every role.
func (p *TokenPayload) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin || p.Role == RoleSuperAdmin {
		return true
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Customer returns actor as order customer
func (p *TokenPayload) Customer() Customer {
	return Customer{ID: p.UserID, Name: p.Name, Email: p.Email}
}
