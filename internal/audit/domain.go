// Package audit persists one immutable record per permission decision. The
// write happens in its own unit of work so the record survives a rollback of
// the business transaction that asked for the decision, and a failed audit
// write never disturbs the decision already handed to the caller.
package audit

import "time"

// Result states the outcome of a permission decision.
type Result string

// Decision outcomes.
const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
)

// Record is an immutable permission decision fact.
type Record struct {
	ID           int64
	PrincipalID  int64
	ResourceType string
	ResourceID   int64
	Action       string
	// Bit is the CRUD bit that was checked, nil for ACL/route decisions
	// that have no bitmask representation.
	Bit        *int
	Result     Result
	Note       string
	HTTPMethod string
	RequestURI string
	IP         string
	UserAgent  string
	BodySHA256 string
	OccurredAt time.Time
}

// TimelineFilters narrows the decision log listing.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	PrincipalID  int64
	ResourceType string
	Result       Result
	Page         int
	PageSize     int
}

// PagingInfo carries pagination metadata for timeline responses.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}
