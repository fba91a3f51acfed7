package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
)

type fakeBackend struct {
	sections  map[string][]snapd.Snap
	installed []snapd.Snap
	err       error
}

func (f *fakeBackend) Find(_ context.Context, opts snapd.FindOptions) ([]snapd.Snap, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sections[opts.Section], nil
}

func (f *fakeBackend) Sections(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var names []string
	for name := range f.sections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeBackend) ListInstalled(context.Context) ([]snapd.Snap, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.installed, nil
}

func TestCategoryFromSection(t *testing.T) {
	b := &fakeBackend{sections: map[string][]snapd.Snap{
		"games": {{ID: "g1", Name: "chess", Title: "Chess"}, {ID: "g2", Name: "go"}},
	}}
	c := cache.NewMemory()
	s := NewService(b, c, nil)

	cat, stale, err := s.Category(context.Background(), "games")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, "Games", cat.Title)
	require.Len(t, cat.Apps, 2)
	assert.Equal(t, "Chess", cat.Apps[0].Title)
	assert.Equal(t, "go", cat.Apps[1].Title)

	var cached model.Category
	found, err := cache.LookupJSON(context.Background(), c, cache.NamespaceCategories, "games", &cached)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, cached.Apps, 2)
}

func TestCategoryInstalled(t *testing.T) {
	b := &fakeBackend{installed: []snapd.Snap{{ID: "h1", Name: "hello", Version: "2.10", Status: "active"}}}
	s := NewService(b, cache.NewMemory(), nil)

	cat, _, err := s.Category(context.Background(), Installed)
	require.NoError(t, err)
	require.Len(t, cat.Apps, 1)
	assert.True(t, cat.Apps[0].Installed)
	assert.Equal(t, "2.10", cat.Apps[0].InstalledVersion)
	assert.False(t, cat.Apps[0].UpdateAvailable)
}

func TestCategoryFallsBackToCache(t *testing.T) {
	c := cache.NewMemory()
	prev := model.Category{Name: "games", Title: "Games", Apps: []model.App{{Name: "chess", Title: "Chess"}}}
	require.NoError(t, cache.InsertJSON(context.Background(), c, cache.NamespaceCategories, "games", prev))

	s := NewService(&fakeBackend{err: errors.New("snapd down")}, c, nil)
	cat, stale, err := s.Category(context.Background(), "games")
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, prev, cat)

	_, _, err = s.Category(context.Background(), "music")
	assert.Error(t, err)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Art and Design", Title("art-and-design"))
	assert.Equal(t, "Installed", Title("installed"))
}

func TestLayout(t *testing.T) {
	hero, tiles := Layout(nil)
	assert.Nil(t, hero)
	assert.Empty(t, tiles)

	apps := make([]model.App, 7)
	for i := range apps {
		apps[i] = model.App{Name: string(rune('a' + i))}
	}
	hero, tiles = Layout(apps)
	require.NotNil(t, hero)
	assert.Equal(t, "a", hero.Name)
	require.Len(t, tiles, 7)
	assert.Equal(t, model.Tile{App: apps[4], Column: 1, Row: 1}, tiles[4])
	assert.Equal(t, model.Tile{App: apps[6], Column: 0, Row: 2}, tiles[6])
}

func TestCategories(t *testing.T) {
	b := &fakeBackend{sections: map[string][]snapd.Snap{"art-and-design": nil}}
	s := NewService(b, cache.NewMemory(), nil)

	links, err := s.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.CategoryLink{
		{Name: Installed, Title: "Installed"},
		{Name: "art-and-design", Title: "Art and Design"},
	}, links)

	b.err = errors.New("snapd down")
	_, err = s.Categories(context.Background())
	assert.Error(t, err)
}
