// Package permission defines the CRUD bitmask vocabulary shared by the
// authorization resolvers.
package permission

import (
	"fmt"
	"strings"
)

// Bitmask is an aggregate of CRUD permission bits.
type Bitmask uint8

// Individual permission bits. Stored in postgres as a small unsigned integer.
const (
	None   Bitmask = 0
	Create Bitmask = 1 << 0
	Read   Bitmask = 1 << 1
	Update Bitmask = 1 << 2
	Delete Bitmask = 1 << 3

	// Full grants every CRUD bit.
	Full = Create | Read | Update | Delete
)

// AllResources is the resource id wildcard: a grant stored against it applies
// to every resource of its type.
const AllResources int64 = 0

// FromInt converts a persisted integer into a Bitmask. Values outside [0,15]
// are rejected so corrupt rows never widen access.
func FromInt(v int) (Bitmask, error) {
	if v < 0 || v > int(Full) {
		return None, fmt.Errorf("permission: bitmask %d out of range", v)
	}
	return Bitmask(v), nil
}

// Has reports whether every bit in req is present.
func (b Bitmask) Has(req Bitmask) bool {
	return req != None && b&req == req
}

// Union returns the bitwise OR of both masks.
func (b Bitmask) Union(other Bitmask) Bitmask {
	return b | other
}

// Int returns the persistable integer form.
func (b Bitmask) Int() int {
	return int(b)
}

// String renders the mask as "create|read|update|delete" style flags.
func (b Bitmask) String() string {
	if b == None {
		return "none"
	}
	parts := make([]string, 0, 4)
	if b.Has(Create) {
		parts = append(parts, "create")
	}
	if b.Has(Read) {
		parts = append(parts, "read")
	}
	if b.Has(Update) {
		parts = append(parts, "update")
	}
	if b.Has(Delete) {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, "|")
}

// Action identifies a page-level ACL operation on the frontend axis.
type Action string

// ACL actions mirror the four flag columns on acl_rules.
const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action names a known ACL column.
func (a Action) Valid() bool {
	switch a {
	case ActionSelect, ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Bit maps an ACL action onto the equivalent CRUD bit, used when the two
// axes need a common representation (audit records, metrics labels).
func (a Action) Bit() Bitmask {
	switch a {
	case ActionSelect:
		return Read
	case ActionInsert:
		return Create
	case ActionUpdate:
		return Update
	case ActionDelete:
		return Delete
	}
	return None
}
