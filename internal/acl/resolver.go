package acl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-cms/meridian/internal/audit"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
)

const cacheCategory = "acl"

// DecisionRecorder receives one signal per page access decision.
type DecisionRecorder interface {
	CountDecision(axis, result string)
}

// Resolver answers page-level access questions on the frontend axis.
type Resolver struct {
	repo    Repository
	cache   *permcache.Cache
	audits  *audit.Logger
	logger  *slog.Logger
	metrics DecisionRecorder
}

// Option customises resolver construction.
type Option func(*Resolver)

// WithDecisionRecorder wires granted/denied decision metrics.
func WithDecisionRecorder(rec DecisionRecorder) Option {
	return func(r *Resolver) { r.metrics = rec }
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, cache *permcache.Cache, audits *audit.Logger, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{repo: repo, cache: cache, audits: audits, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasPageAccess reports whether the principal may perform action on the page.
// Denial is the answer to every internal fault: a caller can never tell a
// missing rule from a broken lookup, both come back false.
func (r *Resolver) HasPageAccess(ctx context.Context, principalID, pageID int64, action permission.Action) bool {
	if !action.Valid() {
		r.record(ctx, principalID, pageID, string(action), audit.ResultDenied, "unknown acl action")
		return false
	}

	dec, err := r.resolve(ctx, principalID, pageID)
	if err != nil {
		r.logger.Warn("acl resolve failed, denying",
			slog.Int64("principal", principalID),
			slog.Int64("page", pageID),
			slog.Any("error", err))
		r.record(ctx, principalID, pageID, string(action), audit.ResultDenied, fmt.Sprintf("lookup failed: %v", err))
		return false
	}

	// Open-access pages grant select to everyone; mutations still need rules.
	if dec.OpenAccess && action == permission.ActionSelect {
		r.record(ctx, principalID, pageID, string(action), audit.ResultGranted, "open access")
		return true
	}

	if dec.Flags.Allows(action) {
		r.record(ctx, principalID, pageID, string(action), audit.ResultGranted, "")
		return true
	}
	r.record(ctx, principalID, pageID, string(action), audit.ResultDenied, "")
	return false
}

// Resolve returns the aggregated flags for a (principal, page) pair, for
// callers that want the whole row of toggles at once.
func (r *Resolver) Resolve(ctx context.Context, principalID, pageID int64) (Flags, error) {
	dec, err := r.resolve(ctx, principalID, pageID)
	if err != nil {
		return Flags{}, err
	}
	flags := dec.Flags
	if dec.OpenAccess {
		flags.Select = true
	}
	return flags, nil
}

func (r *Resolver) resolve(ctx context.Context, principalID, pageID int64) (decision, error) {
	key := fmt.Sprintf("u%d:p%d", principalID, pageID)
	scopes := []permcache.Scope{permcache.UserScope(principalID), permcache.PageScope(pageID)}

	var dec decision
	err := r.cache.GetOrCompute(ctx, cacheCategory, key, scopes, &dec, func(ctx context.Context) (any, error) {
		return r.compute(ctx, principalID, pageID)
	})
	return dec, err
}

func (r *Resolver) compute(ctx context.Context, principalID, pageID int64) (decision, error) {
	open, err := r.repo.PageOpenAccess(ctx, pageID)
	if err != nil {
		return decision{}, fmt.Errorf("acl: page %d: %w", pageID, err)
	}

	groups, err := r.repo.GroupsForUser(ctx, principalID)
	if err != nil {
		return decision{}, fmt.Errorf("acl: groups for user %d: %w", principalID, err)
	}

	rules, err := r.repo.RulesForPage(ctx, groups, pageID)
	if err != nil {
		return decision{}, fmt.Errorf("acl: rules for page %d: %w", pageID, err)
	}

	var flags Flags
	for _, rule := range rules {
		flags = flags.merge(rule)
	}
	return decision{OpenAccess: open, Flags: flags}, nil
}

func (r *Resolver) record(ctx context.Context, principalID, pageID int64, action string, result audit.Result, note string) {
	if r.metrics != nil {
		r.metrics.CountDecision(cacheCategory, string(result))
	}
	if r.audits == nil {
		return
	}
	r.audits.Record(ctx, audit.Record{
		PrincipalID:  principalID,
		ResourceType: "page",
		ResourceID:   pageID,
		Action:       action,
		Result:       result,
		Note:         note,
	})
}
