package entities

import (
	"time"

	"github.com/google/uuid"
)

// Principal identifies the caller of a request: the token subject plus
// its role set. The core receives it as an explicit parameter, never
// from ambient state.
type Principal struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

const (
	RoleAdmin           = "ADMIN"
	RoleInternalService = "INTERNAL_SERVICE"
	RoleUser            = "USER"
)

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether owner checks are bypassed for this
// principal.
func (p Principal) IsPrivileged() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleInternalService)
}

// Owns reports whether the principal owns the account with the given
// owner id.
func (p Principal) Owns(ownerID string) bool {
	return p.Name != "" && p.Name == ownerID
}

// User is a read-side record backing the authorization tables.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Role is a named authority grantable to users.
type Role struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}
