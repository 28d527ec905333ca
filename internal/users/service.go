package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-cms/meridian/internal/permcache"
	"github.com/meridian-cms/meridian/internal/shared"
)

// ErrEmailTaken reports an email collision on create.
var ErrEmailTaken = errors.New("users: email already registered")

// Service handles account management. Role assignment changes invalidate the
// user's cache scope so route and grant decisions recompute.
type Service struct {
	repo   Repository
	cache  *permcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cache *permcache.Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now}
}

// Create registers an active account with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	taken, err := s.repo.EmailTaken(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("users: hash password: %w", err)
	}

	u := User{
		Email:        email,
		Name:         req.Name,
		IsActive:     true,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	u.UpdatedAt = u.CreatedAt

	id, err := s.repo.Insert(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	return &u, nil
}

// Get retrieves one account.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.repo.User(ctx, id)
}

// List returns one page of accounts with paging metadata.
func (s *Service) List(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	paging := shared.NewPagination(page, perPage, total)
	list, err := s.repo.Users(ctx, paging.PerPage, paging.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, paging, nil
}

// SetActive flips the account's active flag. Deactivation also drops the
// user's cached decisions so a disabled account loses access immediately.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	if !active {
		s.invalidate(ctx, id)
	}
	return nil
}

// RoleIDs lists ids of the user's assigned roles.
func (s *Service) RoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.repo.RoleIDs(ctx, userID)
}

// AssignRole adds a role to the user and invalidates the user scope.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.User(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// RemoveRole takes a role away with the same invalidation.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateScope(ctx, permcache.UserScope(userID)); err != nil {
		s.logger.Warn("invalidate user scope", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	for _, category := range []string{"dataaccess", "route"} {
		if err := s.cache.InvalidateCategoryLists(ctx, category); err != nil {
			s.logger.Warn("invalidate category lists", slog.String("category", category), slog.Any("error", err))
		}
	}
}
