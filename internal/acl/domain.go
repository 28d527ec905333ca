// Package acl resolves frontend page access from group membership. Rules are
// group scoped and OR-aggregated: being in one group that allows an action is
// enough, regardless of how many silent or denying groups the user is also in.
package acl

import "github.com/meridian-cms/meridian/internal/permission"

// Rule is one (group, page) ACL row with four 0/1 flags.
type Rule struct {
	GroupID int64
	PageID  int64
	Select  bool
	Insert  bool
	Update  bool
	Delete  bool
}

// Flags is the aggregate of every matched rule for a (user, page) pair.
type Flags struct {
	Select bool `json:"select"`
	Insert bool `json:"insert"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// decision is the cached resolution for a (user, page) pair.
type decision struct {
	OpenAccess bool  `json:"open_access"`
	Flags      Flags `json:"flags"`
}

// Allows reports whether the aggregate permits the action.
func (f Flags) Allows(action permission.Action) bool {
	switch action {
	case permission.ActionSelect:
		return f.Select
	case permission.ActionInsert:
		return f.Insert
	case permission.ActionUpdate:
		return f.Update
	case permission.ActionDelete:
		return f.Delete
	}
	return false
}

// merge ORs another rule into the aggregate.
func (f Flags) merge(r Rule) Flags {
	return Flags{
		Select: f.Select || r.Select,
		Insert: f.Insert || r.Insert,
		Update: f.Update || r.Update,
		Delete: f.Delete || r.Delete,
	}
}
