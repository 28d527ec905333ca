package groups

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridian-cms/meridian/internal/acl"
	"github.com/meridian-cms/meridian/internal/permcache"
)

// Service manages groups and the frontend access rules hanging off them.
type Service struct {
	repo   Repository
	cache  *permcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache *permcache.Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Create inserts a new group.
func (s *Service) Create(ctx context.Context, req CreateGroupRequest) (*Group, error) {
	g := Group{Name: req.Name, Description: req.Description, CreatedAt: s.now().UTC()}
	id, err := s.repo.Insert(ctx, g)
	if err != nil {
		return nil, err
	}
	g.ID = id
	return &g, nil
}

// Delete removes a group; rules and memberships cascade in the schema, so
// every member's cached decisions must recompute.
func (s *Service) Delete(ctx context.Context, groupID int64) error {
	members, err := s.repo.Members(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, groupID); err != nil {
		return err
	}

	scopes := []permcache.Scope{permcache.GroupScope(groupID)}
	for _, m := range members {
		scopes = append(scopes, permcache.UserScope(m.UserID))
	}
	s.invalidate(ctx, scopes...)
	return nil
}

// Get retrieves a group by id.
func (s *Service) Get(ctx context.Context, id int64) (*Group, error) {
	return s.repo.Group(ctx, id)
}

// List returns every group.
func (s *Service) List(ctx context.Context) ([]Group, error) {
	return s.repo.Groups(ctx)
}

// Members lists a group's membership.
func (s *Service) Members(ctx context.Context, groupID int64) ([]Member, error) {
	return s.repo.Members(ctx, groupID)
}

// AddMember puts a user in the group. The user's cached decisions recompute
// so newly granted pages open up without waiting for expiry.
func (s *Service) AddMember(ctx context.Context, groupID, userID int64) error {
	if _, err := s.repo.Group(ctx, groupID); err != nil {
		return err
	}
	if err := s.repo.AddMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, permcache.UserScope(userID))
	return nil
}

// RemoveMember takes a user out of the group with the same invalidation.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID int64) error {
	if err := s.repo.RemoveMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, permcache.UserScope(userID))
	return nil
}

// Rules lists the group's ACL rules.
func (s *Service) Rules(ctx context.Context, groupID int64) ([]acl.Rule, error) {
	return s.repo.Rules(ctx, groupID)
}

// SetRule writes one (group, page) rule, replacing any previous flags for
// the pair, and invalidates the group and page scopes.
func (s *Service) SetRule(ctx context.Context, groupID int64, in RuleInput) error {
	if _, err := s.repo.Group(ctx, groupID); err != nil {
		return err
	}
	rule := acl.Rule{
		GroupID: groupID,
		PageID:  in.PageID,
		Select:  in.Select,
		Insert:  in.Insert,
		Update:  in.Update,
		Delete:  in.Delete,
	}
	if err := s.repo.UpsertRule(ctx, rule); err != nil {
		return err
	}
	s.invalidate(ctx, permcache.GroupScope(groupID), permcache.PageScope(in.PageID))
	return nil
}

// RemoveRule deletes one (group, page) rule with the same invalidation.
func (s *Service) RemoveRule(ctx context.Context, groupID, pageID int64) error {
	if err := s.repo.DeleteRule(ctx, groupID, pageID); err != nil {
		return err
	}
	s.invalidate(ctx, permcache.GroupScope(groupID), permcache.PageScope(pageID))
	return nil
}

func (s *Service) invalidate(ctx context.Context, scopes ...permcache.Scope) {
	if err := s.cache.InvalidateScopes(ctx, scopes...); err != nil {
		s.logger.Warn("invalidate scopes", slog.Any("error", err))
	}
	if err := s.cache.InvalidateCategoryLists(ctx, "acl"); err != nil {
		s.logger.Warn("invalidate acl lists", slog.Any("error", err))
	}
}
