// Package permissions is the single writer of permission grants. Every
// mutation reconciles state inside one transaction, leaves a change-log row
// per difference, and invalidates the affected cache scopes after commit.
package permissions

import (
	"time"

	"github.com/meridian-cms/meridian/internal/permission"
)

// GrantInput is one desired (resourceType, resourceId) -> mask entry.
type GrantInput struct {
	ResourceType string `json:"resource_type" validate:"required"`
	ResourceID   int64  `json:"resource_id" validate:"min=0"`
	CrudMask     int    `json:"crud_mask" validate:"min=0,max=15"`
}

// DiffSummary reports what a reconciliation changed.
type DiffSummary struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// Change is one row of the permission change log: what changed in the
// permission model, distinct from the decision audit trail.
type Change struct {
	ID             int64
	RoleID         int64
	ResourceTypeID int64
	ResourceID     int64
	Op             string // "add", "update", "remove"
	OldMask        permission.Bitmask
	NewMask        permission.Bitmask
	ChangedAt      time.Time
}
