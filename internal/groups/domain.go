// Package groups manages reader groups, their memberships, and the page ACL
// rules attached to them. Membership and rule writes invalidate the affected
// cache scopes so frontend access decisions recompute immediately.
package groups

import "time"

// Group is a named set of users on the frontend access axis.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is one user's membership row.
type Member struct {
	UserID  int64     `json:"user_id"`
	GroupID int64     `json:"group_id"`
	AddedAt time.Time `json:"added_at"`
}

// CreateGroupRequest carries the fields accepted on create.
type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"max=500"`
}

// RuleInput is the request shape for writing one (group, page) ACL rule.
type RuleInput struct {
	PageID int64 `json:"page_id" validate:"required,min=1"`
	Select bool  `json:"select"`
	Insert bool  `json:"insert"`
	Update bool  `json:"update"`
	Delete bool  `json:"delete"`
}
