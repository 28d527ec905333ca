package permissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-cms/meridian/internal/dataaccess"
	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/permission"
	"github.com/meridian-cms/meridian/internal/shared"
)

// ErrReconcileBusy reports that another reconciliation for the same role is
// in flight.
var ErrReconcileBusy = errors.New("permissions: reconciliation in progress for role")

const lockTTL = 15 * time.Second

// Service is the single writer of resource grants. Reads go through the
// resolvers; every write lands here so invalidation cannot be forgotten.
type Service struct {
	repo   Repository
	cache  *permcache.Cache
	locks  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache *permcache.Cache, locks *redis.Client, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}
}

type grantKey struct {
	typeID     int64
	resourceID int64
}

// SetRolePermissions reconciles the role's grant set against desired: grants
// absent from desired are removed, present-but-different masks are updated,
// new pairs are inserted. The whole diff commits in one transaction with a
// change-log row per difference, then the role scope and cached collection
// lists are invalidated. Calling it again with the same set is a no-op diff.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, desired []GrantInput) (DiffSummary, error) {
	var summary DiffSummary

	if roleID <= 0 {
		return summary, fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}
	exists, err := s.repo.RoleExists(ctx, roleID)
	if err != nil {
		return summary, err
	}
	if !exists {
		return summary, fmt.Errorf("role %d: %w", roleID, shared.ErrNotFound)
	}

	want, err := s.resolveInputs(ctx, roleID, desired)
	if err != nil {
		return summary, err
	}

	unlock, err := s.acquireLock(ctx, roleID)
	if err != nil {
		return summary, err
	}
	defer unlock()

	err = s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.GrantsForRole(ctx, roleID)
		if err != nil {
			return err
		}
		have := make(map[grantKey]dataaccess.Grant, len(existing))
		for _, g := range existing {
			have[grantKey{g.ResourceTypeID, g.ResourceID}] = g
		}

		changedAt := s.now().UTC()
		for _, k := range sortedKeys(want) {
			g := want[k]
			old, ok := have[k]
			switch {
			case !ok:
				if err := tx.InsertGrant(ctx, g); err != nil {
					return err
				}
				if err := tx.LogChange(ctx, change(g, "add", permission.None, changedAt)); err != nil {
					return err
				}
				summary.Added++
			case old.Mask != g.Mask:
				if err := tx.UpdateGrantMask(ctx, roleID, k.typeID, k.resourceID, g.Mask); err != nil {
					return err
				}
				if err := tx.LogChange(ctx, change(g, "update", old.Mask, changedAt)); err != nil {
					return err
				}
				summary.Updated++
			}
			delete(have, k)
		}

		for _, k := range sortedKeys(have) {
			old := have[k]
			if err := tx.DeleteGrant(ctx, roleID, k.typeID, k.resourceID); err != nil {
				return err
			}
			removed := old
			removed.Mask = permission.None
			if err := tx.LogChange(ctx, change(removed, "remove", old.Mask, changedAt)); err != nil {
				return err
			}
			summary.Removed++
		}
		return nil
	})
	if err != nil {
		return DiffSummary{}, err
	}

	summary.Total = len(want)

	if summary.Added+summary.Updated+summary.Removed > 0 {
		s.invalidate(ctx, roleID)
	}

	s.logger.Info("role grants reconciled",
		slog.Int64("role_id", roleID),
		slog.Int("added", summary.Added),
		slog.Int("updated", summary.Updated),
		slog.Int("removed", summary.Removed),
		slog.Int("total", summary.Total))
	return summary, nil
}

// RoleChangeLog returns the most recent change-log rows for the role.
func (s *Service) RoleChangeLog(ctx context.Context, roleID int64, limit int) ([]Change, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.Changes(ctx, roleID, limit)
}

// resolveInputs maps resource type names to ids and collapses duplicate
// (type, resource) pairs by OR-ing their masks.
func (s *Service) resolveInputs(ctx context.Context, roleID int64, desired []GrantInput) (map[grantKey]dataaccess.Grant, error) {
	typeIDs := make(map[string]int64)
	want := make(map[grantKey]dataaccess.Grant, len(desired))

	for _, in := range desired {
		mask, err := permission.FromInt(in.CrudMask)
		if err != nil {
			return nil, err
		}
		typeID, ok := typeIDs[in.ResourceType]
		if !ok {
			typeID, err = s.repo.ResourceTypeIDByName(ctx, in.ResourceType)
			if err != nil {
				return nil, err
			}
			typeIDs[in.ResourceType] = typeID
		}

		k := grantKey{typeID, in.ResourceID}
		g, ok := want[k]
		if !ok {
			g = dataaccess.Grant{RoleID: roleID, ResourceTypeID: typeID, ResourceID: in.ResourceID}
		}
		g.Mask = g.Mask.Union(mask)
		want[k] = g
	}
	return want, nil
}

// acquireLock serialises reconciliation per role so a concurrent write cannot
// interleave its invalidation with ours and resurrect stale cache entries.
func (s *Service) acquireLock(ctx context.Context, roleID int64) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	key := shared.RoleGrantLockKey(roleID)
	ok, err := s.locks.SetNX(ctx, key, "1", lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("permissions: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrReconcileBusy, roleID)
	}
	return func() {
		if err := s.locks.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			s.logger.Warn("release grant lock", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) invalidate(ctx context.Context, roleID int64) {
	if err := s.cache.InvalidateScope(ctx, permcache.RoleScope(roleID)); err != nil {
		s.logger.Warn("invalidate role scope", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	for _, category := range []string{"dataaccess", "route"} {
		if err := s.cache.InvalidateCategoryLists(ctx, category); err != nil {
			s.logger.Warn("invalidate category lists", slog.String("category", category), slog.Any("error", err))
		}
	}
}

func change(g dataaccess.Grant, op string, old permission.Bitmask, at time.Time) Change {
	return Change{
		RoleID:         g.RoleID,
		ResourceTypeID: g.ResourceTypeID,
		ResourceID:     g.ResourceID,
		Op:             op,
		OldMask:        old,
		NewMask:        g.Mask,
		ChangedAt:      at,
	}
}

func sortedKeys(m map[grantKey]dataaccess.Grant) []grantKey {
	keys := make([]grantKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].typeID != keys[j].typeID {
			return keys[i].typeID < keys[j].typeID
		}
		return keys[i].resourceID < keys[j].resourceID
	})
	return keys
}
