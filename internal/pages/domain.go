// Package pages manages the content tree: slugs, bodies, the open-access
// flag, and parent/child nesting. Delivery-side reads go through the group
// ACL; admin-side listings go through the resource grant filter.
package pages

import "time"

// ResourceTypeName is the resource type under which pages are granted.
const ResourceTypeName = "pages"

// Page is one node of the content tree.
type Page struct {
	ID         int64      `json:"id"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	Slug       string     `json:"slug"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	OpenAccess bool       `json:"open_access"`
	SortOrder  int        `json:"sort_order"`
	CreatedBy  int64      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"-"`
}

// CreatePageRequest carries the fields accepted on create.
type CreatePageRequest struct {
	ParentID   *int64 `json:"parent_id"`
	Slug       string `json:"slug" validate:"required,max=160"`
	Title      string `json:"title" validate:"required,max=200"`
	Body       string `json:"body"`
	OpenAccess bool   `json:"open_access"`
	SortOrder  int    `json:"sort_order"`
}

// UpdatePageRequest carries partial updates; nil fields stay untouched.
type UpdatePageRequest struct {
	ParentID   *int64  `json:"parent_id"`
	Slug       *string `json:"slug" validate:"omitempty,max=160"`
	Title      *string `json:"title" validate:"omitempty,max=200"`
	Body       *string `json:"body"`
	OpenAccess *bool   `json:"open_access"`
	SortOrder  *int    `json:"sort_order"`
}
