package dataaccess

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-cms/meridian/internal/audit"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
)

const cacheCategory = "dataaccess"

// DecisionRecorder receives one signal per CRUD grant decision.
type DecisionRecorder interface {
	CountDecision(axis, result string)
}

// Resolver answers resource-scoped CRUD questions on the admin axis.
type Resolver struct {
	repo      Repository
	cache     *permcache.Cache
	audits    *audit.Logger
	logger    *slog.Logger
	metrics   DecisionRecorder
	adminRole string
}

// Option customises resolver construction.
type Option func(*Resolver)

// WithDecisionRecorder wires granted/denied decision metrics.
func WithDecisionRecorder(rec DecisionRecorder) Option {
	return func(r *Resolver) { r.metrics = rec }
}

// NewResolver constructs a Resolver. adminRole names the role whose holders
// bypass grant checks entirely.
func NewResolver(repo Repository, cache *permcache.Cache, audits *audit.Logger, logger *slog.Logger, adminRole string, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if adminRole == "" {
		adminRole = "admin"
	}
	r := &Resolver{repo: repo, cache: cache, audits: audits, logger: logger, adminRole: adminRole}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HasPermission reports whether the principal holds the required bit on
// (resourceType, resourceID). Internal faults resolve to deny.
func (r *Resolver) HasPermission(ctx context.Context, principalID int64, resourceType string, resourceID int64, bit permission.Bitmask) bool {
	rec := audit.Record{
		PrincipalID:  principalID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       bit.String(),
	}
	recordBit := bit.Int()
	rec.Bit = &recordBit

	admin, err := r.isAdmin(ctx, principalID)
	if err != nil {
		r.deny(ctx, rec, fmt.Sprintf("admin lookup failed: %v", err))
		return false
	}
	if admin {
		rec.Result = audit.ResultGranted
		rec.Note = "admin override"
		r.record(ctx, rec)
		return true
	}

	mask, err := r.EffectiveMask(ctx, principalID, resourceType, resourceID)
	if err != nil {
		r.deny(ctx, rec, fmt.Sprintf("lookup failed: %v", err))
		return false
	}
	if mask.Has(bit) {
		rec.Result = audit.ResultGranted
		r.record(ctx, rec)
		return true
	}
	r.deny(ctx, rec, "")
	return false
}

// EffectiveMask aggregates the principal's grants on the exact resource id
// OR'd with any wildcard grant for the type. The cached value is tagged with
// the user scope and one scope per held role, so editing a role's grants
// invalidates every holder without enumerating users.
func (r *Resolver) EffectiveMask(ctx context.Context, principalID int64, resourceType string, resourceID int64) (permission.Bitmask, error) {
	rt, err := r.repo.ResourceTypeByName(ctx, resourceType)
	if err != nil {
		return permission.None, fmt.Errorf("dataaccess: resource type %q: %w", resourceType, err)
	}

	roleIDs, err := r.repo.RoleIDsForUser(ctx, principalID)
	if err != nil {
		return permission.None, fmt.Errorf("dataaccess: roles for user %d: %w", principalID, err)
	}
	if len(roleIDs) == 0 {
		return permission.None, nil
	}

	scopes := scopesFor(principalID, roleIDs)
	key := fmt.Sprintf("u%d:%s:%d", principalID, resourceType, resourceID)

	var raw int
	err = r.cache.GetOrCompute(ctx, cacheCategory, key, scopes, &raw, func(ctx context.Context) (any, error) {
		ids := []int64{resourceID}
		if resourceID != permission.AllResources {
			ids = append(ids, permission.AllResources)
		}
		mask, err := r.repo.GrantMask(ctx, roleIDs, rt.ID, ids)
		if err != nil {
			return nil, err
		}
		return mask.Int(), nil
	})
	if err != nil {
		return permission.None, err
	}
	return permission.FromInt(raw)
}

func (r *Resolver) isAdmin(ctx context.Context, principalID int64) (bool, error) {
	key := fmt.Sprintf("admin:u%d", principalID)
	var admin bool
	err := r.cache.GetOrCompute(ctx, cacheCategory, key, []permcache.Scope{permcache.UserScope(principalID)}, &admin, func(ctx context.Context) (any, error) {
		return r.repo.UserHasRole(ctx, principalID, r.adminRole)
	})
	return admin, err
}

func (r *Resolver) deny(ctx context.Context, rec audit.Record, note string) {
	if note != "" {
		r.logger.Warn("data access denied",
			slog.Int64("principal", rec.PrincipalID),
			slog.String("resource_type", rec.ResourceType),
			slog.Int64("resource_id", rec.ResourceID),
			slog.String("note", note))
	}
	rec.Result = audit.ResultDenied
	rec.Note = note
	r.record(ctx, rec)
}

func (r *Resolver) record(ctx context.Context, rec audit.Record) {
	if r.metrics != nil {
		r.metrics.CountDecision(cacheCategory, string(rec.Result))
	}
	if r.audits == nil {
		return
	}
	r.audits.Record(ctx, rec)
}

func scopesFor(principalID int64, roleIDs []int64) []permcache.Scope {
	scopes := make([]permcache.Scope, 0, len(roleIDs)+1)
	scopes = append(scopes, permcache.UserScope(principalID))
	for _, id := range roleIDs {
		scopes = append(scopes, permcache.RoleScope(id))
	}
	return scopes
}
