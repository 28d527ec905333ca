package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/meridian-cms/meridian/internal/dataaccess"
	"github.com/meridian-cms/meridian/internal/permcache"
)

// ErrSlugTaken reports a slug collision with another live page.
var ErrSlugTaken = errors.New("pages: slug already in use")

// ErrHasChildren blocks deleting a page that still has live children.
var ErrHasChildren = errors.New("pages: page has children")

// ErrCycle blocks re-parenting a page under its own subtree.
var ErrCycle = errors.New("pages: parent would create a cycle")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Service provides content tree operations. Mutations invalidate the page's
// cache scope so ACL and grant decisions recompute against fresh data.
type Service struct {
	repo   Repository
	access *dataaccess.Resolver
	cache  *permcache.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, access *dataaccess.Resolver, cache *permcache.Cache, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		access: access,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Create inserts a new page under the optional parent.
func (s *Service) Create(ctx context.Context, req CreatePageRequest, createdBy int64) (*Page, error) {
	slug := normalizeSlug(req.Slug)
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("pages: invalid slug %q", req.Slug)
	}
	taken, err := s.repo.SlugTaken(ctx, slug, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrSlugTaken, slug)
	}
	if req.ParentID != nil {
		if _, err := s.repo.Page(ctx, *req.ParentID); err != nil {
			return nil, fmt.Errorf("verify parent: %w", err)
		}
	}

	page := Page{
		ParentID:   req.ParentID,
		Slug:       slug,
		Title:      req.Title,
		Body:       req.Body,
		OpenAccess: req.OpenAccess,
		SortOrder:  req.SortOrder,
		CreatedBy:  createdBy,
		CreatedAt:  s.now().UTC(),
	}
	page.UpdatedAt = page.CreatedAt

	id, err := s.repo.Insert(ctx, page)
	if err != nil {
		return nil, err
	}
	page.ID = id

	s.invalidate(ctx, id)
	return &page, nil
}

// Update applies the non-nil fields of req to the page.
func (s *Service) Update(ctx context.Context, id int64, req UpdatePageRequest) (*Page, error) {
	page, err := s.repo.Page(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Slug != nil {
		slug := normalizeSlug(*req.Slug)
		if !slugPattern.MatchString(slug) {
			return nil, fmt.Errorf("pages: invalid slug %q", *req.Slug)
		}
		taken, err := s.repo.SlugTaken(ctx, slug, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", ErrSlugTaken, slug)
		}
		page.Slug = slug
	}
	if req.ParentID != nil {
		if err := s.checkParent(ctx, id, *req.ParentID); err != nil {
			return nil, err
		}
		page.ParentID = req.ParentID
	}
	if req.Title != nil {
		page.Title = *req.Title
	}
	if req.Body != nil {
		page.Body = *req.Body
	}
	if req.OpenAccess != nil {
		page.OpenAccess = *req.OpenAccess
	}
	if req.SortOrder != nil {
		page.SortOrder = *req.SortOrder
	}
	page.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, *page); err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	return page, nil
}

// Delete soft-deletes a leaf page.
func (s *Service) Delete(ctx context.Context, id int64) error {
	has, err := s.repo.HasChildren(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: %d", ErrHasChildren, id)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	return nil
}

// Get retrieves a page by id.
func (s *Service) Get(ctx context.Context, id int64) (*Page, error) {
	return s.repo.Page(ctx, id)
}

// GetBySlug retrieves a page by its slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Page, error) {
	return s.repo.PageBySlug(ctx, normalizeSlug(slug))
}

// Tree returns the content tree visible to the principal, nested under
// "children" and annotated with the effective crud mask per node. Nodes the
// principal cannot read are pruned together with their subtrees.
func (s *Service) Tree(ctx context.Context, principalID int64) ([]dataaccess.Item, error) {
	return s.access.FilterCollection(ctx, principalID, ResourceTypeName, func(ctx context.Context) ([]dataaccess.Item, error) {
		pages, err := s.repo.Pages(ctx)
		if err != nil {
			return nil, err
		}
		return buildTree(pages), nil
	})
}

// checkParent rejects unknown parents and re-parenting into the page's own
// subtree.
func (s *Service) checkParent(ctx context.Context, id, parentID int64) error {
	if parentID == id {
		return fmt.Errorf("%w: %d", ErrCycle, id)
	}
	pages, err := s.repo.Pages(ctx)
	if err != nil {
		return err
	}
	parents := make(map[int64]*int64, len(pages))
	found := false
	for _, p := range pages {
		parents[p.ID] = p.ParentID
		if p.ID == parentID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("verify parent %d: not found", parentID)
	}
	for cur := &parentID; cur != nil; cur = parents[*cur] {
		if *cur == id {
			return fmt.Errorf("%w: %d", ErrCycle, id)
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, pageID int64) {
	if err := s.cache.InvalidateScope(ctx, permcache.PageScope(pageID)); err != nil {
		s.logger.Warn("invalidate page scope", slog.Int64("page_id", pageID), slog.Any("error", err))
	}
	for _, category := range []string{"dataaccess", "acl"} {
		if err := s.cache.InvalidateCategoryLists(ctx, category); err != nil {
			s.logger.Warn("invalidate category lists", slog.String("category", category), slog.Any("error", err))
		}
	}
}

// buildTree nests pages by parent id, ordered by sort order then id.
func buildTree(pages []Page) []dataaccess.Item {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].SortOrder != pages[j].SortOrder {
			return pages[i].SortOrder < pages[j].SortOrder
		}
		return pages[i].ID < pages[j].ID
	})

	nodes := make(map[int64]dataaccess.Item, len(pages))
	for _, p := range pages {
		nodes[p.ID] = dataaccess.Item{
			"id":          p.ID,
			"slug":        p.Slug,
			"title":       p.Title,
			"open_access": p.OpenAccess,
			"sort_order":  p.SortOrder,
		}
	}

	var roots []dataaccess.Item
	for _, p := range pages {
		node := nodes[p.ID]
		if p.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*p.ParentID]
		if !ok {
			// Orphaned by a deleted ancestor, surface at the root.
			roots = append(roots, node)
			continue
		}
		children, _ := parent[dataaccess.ChildrenField].([]dataaccess.Item)
		parent[dataaccess.ChildrenField] = append(children, node)
	}
	return roots
}

func normalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
