package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-cms/meridian/internal/audit"
	"github.com/meridian-cms/meridian/internal/permcache"
)

const cacheCategory = "route"

// DecisionRecorder receives one signal per route authorization decision.
type DecisionRecorder interface {
	CountDecision(axis, result string)
}

// Authorizer decides whether a principal's roles satisfy a route's
// required capability set.
type Authorizer struct {
	repo    Repository
	cache   *permcache.Cache
	audits  *audit.Logger
	logger  *slog.Logger
	metrics DecisionRecorder
}

// Option customises authorizer construction.
type Option func(*Authorizer)

// WithDecisionRecorder wires granted/denied decision metrics.
func WithDecisionRecorder(rec DecisionRecorder) Option {
	return func(a *Authorizer) { a.metrics = rec }
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(repo Repository, cache *permcache.Cache, audits *audit.Logger, logger *slog.Logger, opts ...Option) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authorizer{repo: repo, cache: cache, audits: audits, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AuthorizeRoute allows when required is empty, otherwise when any single
// required capability is held (OR policy). A principal with no roles is
// denied, and so is any principal whose lookup fails.
func (a *Authorizer) AuthorizeRoute(ctx context.Context, principalID int64, required []string) bool {
	normalized := normalize(required)
	if len(normalized) == 0 {
		a.record(ctx, principalID, normalized, audit.ResultGranted, "no requirement")
		return true
	}

	grants, err := a.resolve(ctx, principalID)
	if err != nil {
		a.logger.Warn("route authorization lookup failed, denying",
			slog.Int64("principal", principalID),
			slog.Any("error", err))
		a.record(ctx, principalID, normalized, audit.ResultDenied, fmt.Sprintf("lookup failed: %v", err))
		return false
	}
	if len(grants.RoleIDs) == 0 {
		a.record(ctx, principalID, normalized, audit.ResultDenied, "no roles")
		return false
	}

	held := make(map[string]struct{}, len(grants.Permissions))
	for _, p := range grants.Permissions {
		held[strings.ToLower(p)] = struct{}{}
	}
	for _, req := range normalized {
		if _, ok := held[req]; ok {
			a.record(ctx, principalID, normalized, audit.ResultGranted, "")
			return true
		}
	}
	a.record(ctx, principalID, normalized, audit.ResultDenied, "")
	return false
}

// EffectivePermissions returns the principal's capability names, cached under
// the user scope and one scope per held role so editing a role's capability
// set invalidates every holder at once.
func (a *Authorizer) EffectivePermissions(ctx context.Context, principalID int64) ([]string, error) {
	grants, err := a.resolve(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return grants.Permissions, nil
}

func (a *Authorizer) resolve(ctx context.Context, principalID int64) (grantSet, error) {
	// Two-step fetch: role ids first (cheap, cached under the user scope),
	// then the full grant set tagged with each role scope.
	roleIDs, err := a.repo.RoleIDsForUser(ctx, principalID)
	if err != nil {
		return grantSet{}, fmt.Errorf("rbac: roles for user %d: %w", principalID, err)
	}

	scopes := make([]permcache.Scope, 0, len(roleIDs)+1)
	scopes = append(scopes, permcache.UserScope(principalID))
	for _, id := range roleIDs {
		scopes = append(scopes, permcache.RoleScope(id))
	}

	var grants grantSet
	key := fmt.Sprintf("u%d", principalID)
	err = a.cache.GetOrCompute(ctx, cacheCategory, key, scopes, &grants, func(ctx context.Context) (any, error) {
		perms, err := a.repo.PermissionNamesForUser(ctx, principalID)
		if err != nil {
			return nil, fmt.Errorf("rbac: permissions for user %d: %w", principalID, err)
		}
		return grantSet{RoleIDs: roleIDs, Permissions: perms}, nil
	})
	return grants, err
}

func (a *Authorizer) record(ctx context.Context, principalID int64, required []string, result audit.Result, note string) {
	if a.metrics != nil {
		a.metrics.CountDecision(cacheCategory, string(result))
	}
	if a.audits == nil {
		return
	}
	a.audits.Record(ctx, audit.Record{
		PrincipalID:  principalID,
		ResourceType: "route",
		Action:       strings.Join(required, ","),
		Result:       result,
		Note:         note,
	})
}

func normalize(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	ordered := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		ordered = append(ordered, p)
	}
	return ordered
}
