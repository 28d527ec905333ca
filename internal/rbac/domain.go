// Package rbac authorizes admin routes from role-held capability names.
// This axis is role based and independent of the group based page ACL.
package rbac

import "time"

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability, e.g. "admin.page.edit".
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// grantSet is the cached route-authorization state for one principal.
type grantSet struct {
	RoleIDs     []int64  `json:"role_ids"`
	Permissions []string `json:"permissions"`
}
