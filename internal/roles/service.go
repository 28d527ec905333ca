package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/meridian-cms/meridian/internal/permcache"
)

// ErrNameTaken reports a role name collision.
var ErrNameTaken = errors.New("roles: name already in use")

// Service manages roles and their route capabilities. Capability changes
// invalidate the role scope so every holder's cached decisions recompute.
type Service struct {
	repo   Repository
	cache  *permcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache *permcache.Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Create inserts a new role.
func (s *Service) Create(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	taken, err := s.repo.NameTaken(ctx, name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	}

	role := Role{Name: name, Description: req.Description, CreatedAt: s.now().UTC()}
	role.UpdatedAt = role.CreatedAt

	id, err := s.repo.Insert(ctx, role)
	if err != nil {
		return nil, err
	}
	role.ID = id
	return &role, nil
}

// Delete removes a role; assignments and grants cascade in the schema.
func (s *Service) Delete(ctx context.Context, roleID int64) error {
	if err := s.repo.Delete(ctx, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, roleID)
	return nil
}

// Get retrieves one role.
func (s *Service) Get(ctx context.Context, id int64) (*Role, error) {
	return s.repo.Role(ctx, id)
}

// List returns every role.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.Roles(ctx)
}

// Capabilities lists the route capability names the role carries.
func (s *Service) Capabilities(ctx context.Context, roleID int64) ([]string, error) {
	return s.repo.Capabilities(ctx, roleID)
}

// SetCapabilities replaces the role's capability names wholesale. Names are
// trimmed, lowercased, and deduplicated before the swap.
func (s *Service) SetCapabilities(ctx context.Context, roleID int64, names []string) ([]string, error) {
	if _, err := s.repo.Role(ctx, roleID); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(names))
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cleaned = append(cleaned, name)
	}
	sort.Strings(cleaned)

	if err := s.repo.ReplaceCapabilities(ctx, roleID, cleaned); err != nil {
		return nil, err
	}
	s.invalidate(ctx, roleID)
	return cleaned, nil
}

func (s *Service) invalidate(ctx context.Context, roleID int64) {
	if err := s.cache.InvalidateScope(ctx, permcache.RoleScope(roleID)); err != nil {
		s.logger.Warn("invalidate role scope", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	for _, category := range []string{"route", "dataaccess"} {
		if err := s.cache.InvalidateCategoryLists(ctx, category); err != nil {
			s.logger.Warn("invalidate category lists", slog.String("category", category), slog.Any("error", err))
		}
	}
}
