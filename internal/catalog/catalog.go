// Package catalog lists the apps of a category and lays them out as hero and grid tiles.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
)

// Installed is the category listing the apps installed on this machine.
const Installed = "installed"

// Backend is the part of the snapd client a listing needs.
type Backend interface {
	Find(ctx context.Context, opts snapd.FindOptions) ([]snapd.Snap, error)
	ListInstalled(ctx context.Context) ([]snapd.Snap, error)
	Sections(ctx context.Context) ([]string, error)
}

// Service fetches category listings, falling back to the last cached listing.
type Service struct {
	backend Backend
	cache   cache.Cache
	logger  *slog.Logger
}

// NewService creates a category service.
func NewService(backend Backend, c cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{backend: backend, cache: c, logger: logger.With("component", "catalog")}
}

// Categories returns the browsable categories: the installed listing followed by the
// store sections in backend order.
func (s *Service) Categories(ctx context.Context) ([]model.CategoryLink, error) {
	sections, err := s.backend.Sections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	links := make([]model.CategoryLink, 0, len(sections)+1)
	links = append(links, model.CategoryLink{Name: Installed, Title: Title(Installed)})
	for _, name := range sections {
		if name == "" || name == Installed {
			continue
		}
		links = append(links, model.CategoryLink{Name: name, Title: Title(name)})
	}
	return links, nil
}

// Category returns the listing for name.
// stale is true when the backend failed and the cached listing is returned instead.
func (s *Service) Category(ctx context.Context, name string) (cat model.Category, stale bool, err error) {
	if name == "" {
		return model.Category{}, false, fmt.Errorf("category name is required")
	}

	cat, err = s.fetch(ctx, name)
	if err == nil {
		if err := cache.InsertJSON(ctx, s.cache, cache.NamespaceCategories, name, cat); err != nil {
			s.logger.Warn("Failed to cache category", "category", name, "error", err)
		}
		return cat, false, nil
	}
	if ctx.Err() != nil {
		return model.Category{}, false, ctx.Err()
	}

	var cached model.Category
	found, lerr := cache.LookupJSON(ctx, s.cache, cache.NamespaceCategories, name, &cached)
	if lerr != nil {
		s.logger.Warn("Ignoring cached category", "category", name, "error", lerr)
	}
	if found && lerr == nil {
		s.logger.Warn("Failed to list category, using cached listing", "category", name, "error", err)
		return cached, true, nil
	}
	return model.Category{}, false, err
}

func (s *Service) fetch(ctx context.Context, name string) (model.Category, error) {
	cat := model.Category{Name: name, Title: Title(name), Apps: []model.App{}}

	if name == Installed {
		snaps, err := s.backend.ListInstalled(ctx)
		if err != nil {
			return model.Category{}, fmt.Errorf("failed to list installed snaps: %w", err)
		}
		for _, snap := range snaps {
			cat.Apps = append(cat.Apps, snapd.FromInstalled(snap))
		}
		return cat, nil
	}

	snaps, err := s.backend.Find(ctx, snapd.FindOptions{Section: name})
	if err != nil {
		if errors.Is(err, snapd.ErrNotFound) {
			return model.Category{}, fmt.Errorf("unknown category %q: %w", name, err)
		}
		return model.Category{}, fmt.Errorf("failed to list section %s: %w", name, err)
	}
	for _, snap := range snaps {
		cat.Apps = append(cat.Apps, snapd.UpdateFromSearch(model.App{}, snap))
	}
	return cat, nil
}

// Title turns a section name such as "art-and-design" into "Art and Design".
func Title(name string) string {
	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i > 0 && (w == "and" || w == "of" || w == "the") {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Layout places apps on the category grid. The first app is also the hero.
func Layout(apps []model.App) (hero *model.App, tiles []model.Tile) {
	tiles = make([]model.Tile, 0, len(apps))
	for i, app := range apps {
		tiles = append(tiles, model.Tile{
			App:    app,
			Column: i % model.CategoryColumns,
			Row:    i / model.CategoryColumns,
		})
	}
	if len(apps) > 0 {
		h := apps[0]
		hero = &h
	}
	return hero, tiles
}
