// Package roles manages role records and the route capabilities they carry.
package roles

import "time"

// Role is a named bundle of capabilities and resource grants.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRoleRequest carries the fields accepted on create.
type CreateRoleRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// SetCapabilitiesRequest replaces the role's capability names wholesale.
type SetCapabilitiesRequest struct {
	Capabilities []string `json:"capabilities" validate:"dive,required,max=160"`
}
