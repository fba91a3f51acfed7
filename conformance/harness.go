// Package conformance provides a test harness that runs the store client against fake
// snapd and ratings services and checks the app page workflows end to end.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SnapStoreCommunity/snap-store-go/internal/auth"
	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	"github.com/SnapStoreCommunity/snap-store-go/internal/catalog"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/odrs"
	"github.com/SnapStoreCommunity/snap-store-go/internal/page"
	"github.com/SnapStoreCommunity/snap-store-go/internal/schema"
	"github.com/SnapStoreCommunity/snap-store-go/internal/server"
	"github.com/SnapStoreCommunity/snap-store-go/internal/snapd"
)

// Fixture apps served by a seeded fake snapd.
const (
	HelloApp   = "hello"     // Installed, three reviews, two screenshots and a banner
	QuietApp   = "quiet"     // No reviews
	HelloID    = "hello-id"  // Store id of HelloApp
	QuietID    = "quiet-id"  // Store id of QuietApp
	DevSection = "development"
)

// Harness runs the HTTP surface over fake backends.
type Harness struct {
	Snapd  *FakeSnapd
	ODRS   *FakeODRS
	Cache  cache.Cache
	Page   *page.Page
	Events *RecordingPublisher

	server     *httptest.Server
	ownsFakes  bool
	httpClient *http.Client
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// CacheDir selects the file cache in that directory; empty uses the in-memory cache.
	CacheDir string

	// Snapd and ODRS reuse running fakes, e.g. across a simulated restart.
	// When both are nil the harness starts seeded fakes and closes them on Close.
	Snapd *FakeSnapd
	ODRS  *FakeODRS

	// Verifier enables bearer auth on POST routes.
	Verifier *auth.Verifier
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	h := &Harness{Snapd: cfg.Snapd, ODRS: cfg.ODRS, Events: &RecordingPublisher{}}
	if h.Snapd == nil && h.ODRS == nil {
		h.Snapd, h.ODRS = NewFakeSnapd(), NewFakeODRS()
		h.ownsFakes = true
		Seed(h.Snapd, h.ODRS)
	}
	if h.Snapd == nil || h.ODRS == nil {
		return nil, fmt.Errorf("both fakes must be given together")
	}

	if cfg.CacheDir != "" {
		c, err := cache.NewFile(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file cache: %w", err)
		}
		h.Cache = c
	} else {
		h.Cache = cache.NewMemory()
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema validator: %w", err)
	}

	sd := snapd.NewWithBaseURL(h.Snapd.URL, h.Snapd.Client())
	ratings := odrs.New(odrs.Options{BaseURL: h.ODRS.URL, UserHash: "conformance", HTTP: h.ODRS.Client()})

	h.Page, err = page.New(page.Options{
		Refresher: odrs.WithRatings(snapd.NewBackend(sd), ratings, nil),
		Reviews:   ratings,
		Cache:     h.Cache,
		Validator: validator,
		Publisher: h.Events,
	})
	if err != nil {
		return nil, err
	}

	h.server = httptest.NewServer(server.NewMux(server.Deps{
		Page:      h.Page,
		Catalog:   catalog.NewService(sd, h.Cache, nil),
		Installer: sd,
		Cache:     h.Cache,
		Verifier:  cfg.Verifier,
	}))
	h.httpClient = &http.Client{Timeout: 10 * time.Second}
	return h, nil
}

// Seed loads the fixture apps and reviews into the fakes.
func Seed(sd *FakeSnapd, rs *FakeODRS) {
	sd.AddSnap(snapd.Snap{
		ID:          HelloID,
		Name:        HelloApp,
		Title:       "Hello World",
		Summary:     "Prints a friendly greeting",
		Description: "GNU hello prints a greeting.",
		Publisher:   &snapd.Publisher{ID: "canonical", Username: "canonical", DisplayName: "Canonical", Validation: "verified"},
		Media: []snapd.SnapMedia{
			{Type: "icon", URL: "https://dashboard.snapcraft.io/icon.png", Width: 256, Height: 256},
			{Type: "screenshot", URL: "https://dashboard.snapcraft.io/screenshot-1.png", Width: 1280, Height: 720},
			{Type: "screenshot", URL: "https://dashboard.snapcraft.io/banner_a1b2c3d.png", Width: 1920, Height: 640},
			{Type: "screenshot", URL: "https://dashboard.snapcraft.io/screenshot-2.png", Width: 1000, Height: 1000},
		},
		Version: "2.10",
		License: "GPL-3.0+",
		Status:  "active",
		Channel: "latest/stable",
	}, DevSection)
	sd.AddSnap(snapd.Snap{
		ID:      QuietID,
		Name:    QuietApp,
		Summary: "Nobody has reviewed this yet",
		Version: "0.1",
		Status:  "available",
	}, DevSection)

	rs.SetReviews(snapd.AppstreamID(HelloApp, HelloID), []model.Review{
		{ID: 3, Rating: 100, Summary: "Great", Description: "Says hello."},
		{ID: 2, Rating: 80, Summary: "Good", Description: "Works."},
		{ID: 1, Rating: 40, Summary: "Meh", Description: "Only says hello."},
	}, [6]int{0, 0, 1, 0, 1, 1})
	rs.SetReviews(snapd.AppstreamID(QuietApp, QuietID), nil, [6]int{})
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.Page.Close()
	h.server.Close()
	cache.Close(h.Cache)
	if h.ownsFakes {
		h.Snapd.Close()
		h.ODRS.Close()
	}
}

// Do sends a request and decodes the data of a successful response into out.
// It returns the response status.
func (h *Harness) Do(t *testing.T, method, path string, body any, header http.Header, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.URL()+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("%s %s: invalid response: %v", method, path, err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("%s %s: invalid data: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// Select selects name on the page and returns the snapshot taken right after.
func (h *Harness) Select(t *testing.T, name string) page.State {
	t.Helper()
	var st page.State
	if status := h.Do(t, "POST", "/v1/page/select", model.SelectAppRequest{Name: name}, nil, &st); status != http.StatusOK {
		t.Fatalf("select %s: status %d", name, status)
	}
	return st
}

// Settle waits for the workflows of the current selection and returns the page.
func (h *Harness) Settle(t *testing.T) page.State {
	t.Helper()
	h.Page.Wait()
	var st page.State
	if status := h.Do(t, "GET", "/v1/page", nil, nil, &st); status != http.StatusOK {
		t.Fatalf("get page: status %d", status)
	}
	return st
}

// CachedReviews returns the raw reviews entry cached for name, or "" when absent.
func (h *Harness) CachedReviews(t *testing.T, name string) string {
	t.Helper()
	raw, err := h.Cache.Lookup(context.Background(), cache.NamespaceReviews, name)
	if err != nil {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		t.Fatalf("cached reviews for %s are not JSON: %v", name, err)
	}
	return compact.String()
}

// RecordingPublisher records published events.
type RecordingPublisher struct {
	mu        sync.Mutex
	Refreshed []string       // App names in publish order
	Reviews   map[string]int // App name -> last published review count
}

func (p *RecordingPublisher) PublishAppRefreshed(_ context.Context, app model.App) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Refreshed = append(p.Refreshed, app.Name)
	return nil
}

func (p *RecordingPublisher) PublishReviewsUpdated(_ context.Context, name string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Reviews == nil {
		p.Reviews = map[string]int{}
	}
	p.Reviews[name] = count
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// ReviewCount returns the last published review count for name.
func (p *RecordingPublisher) ReviewCount(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.Reviews[name]
	return n, ok
}

// RefreshedApps returns the names of refreshed apps in publish order.
func (p *RecordingPublisher) RefreshedApps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Refreshed...)
}

// RunConformanceTests runs the app page workflow checks against a seeded harness.
// The subtests share the harness and run in order.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("SelectRefreshesAndCaches", h.testSelectRefreshesAndCaches)
	t.Run("ReviewsStaleThenFresh", h.testReviewsStaleThenFresh)
	t.Run("EmptyReviewList", h.testEmptyReviewList)
	t.Run("UnknownApp", h.testUnknownApp)
	t.Run("Media", h.testMedia)
	t.Run("Categories", h.testCategories)
	t.Run("Actions", h.testActions)
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := h.httpClient.Get(h.URL() + path)
		if err != nil {
			t.Fatalf("failed to GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

// testSelectRefreshesAndCaches selects an app known only by name and checks the
// refreshed record, the reviews and both cache entries.
func (h *Harness) testSelectRefreshesAndCaches(t *testing.T) {
	st := h.Select(t, HelloApp)
	if st.App.Name != HelloApp || st.DetailsTitle != "Details for "+HelloApp {
		t.Errorf("unexpected initial page: %+v", st)
	}
	if st.ReviewsVisible {
		t.Error("reviews visible before any fetch")
	}

	st = h.Settle(t)
	if st.Refresh != page.Completed || st.ReviewFetch != page.Completed {
		t.Fatalf("workflows did not complete: refresh=%v reviews=%v", st.Refresh, st.ReviewFetch)
	}
	if st.App.Title != "Hello World" || st.DetailsTitle != "Details for Hello World" {
		t.Errorf("unexpected title: %q / %q", st.App.Title, st.DetailsTitle)
	}
	if !st.App.PublisherValidated || st.App.Publisher != "Canonical" {
		t.Errorf("unexpected publisher: %q validated=%v", st.App.Publisher, st.App.PublisherValidated)
	}
	if len(st.Screenshots) != 2 {
		t.Errorf("expected 2 screenshots without the banner, got %d", len(st.Screenshots))
	}
	if st.App.Ratings.Total != 3 {
		t.Errorf("expected 3 ratings, got %+v", st.App.Ratings)
	}
	if len(st.Reviews) != 3 || !st.ReviewsVisible || st.ReviewsFromCache {
		t.Errorf("unexpected reviews: %d visible=%v fromCache=%v", len(st.Reviews), st.ReviewsVisible, st.ReviewsFromCache)
	}
	if st.ReviewSessionKey == "" {
		t.Error("missing review session key")
	}

	var cached model.App
	found, err := cache.LookupJSON(context.Background(), h.Cache, cache.NamespaceApps, HelloApp, &cached)
	if err != nil || !found || cached.Title != "Hello World" {
		t.Errorf("refreshed app not cached: found=%v err=%v", found, err)
	}
	var cachedReviews []model.Review
	found, err = cache.LookupJSON(context.Background(), h.Cache, cache.NamespaceReviews, HelloApp, &cachedReviews)
	if err != nil || !found || len(cachedReviews) != 3 {
		t.Errorf("reviews not cached: found=%v err=%v n=%d", found, err, len(cachedReviews))
	}

	if n, ok := h.Events.ReviewCount(HelloApp); !ok || n != 3 {
		t.Errorf("reviews event = %d (%v), want 3", n, ok)
	}
}

// testReviewsStaleThenFresh reselects an app with cached reviews while the ratings
// service is held, so the cached list shows first and the fetched list replaces it.
func (h *Harness) testReviewsStaleThenFresh(t *testing.T) {
	h.Select(t, QuietApp)
	h.Settle(t)

	release := h.ODRS.Hold()
	defer release()

	st := h.Select(t, HelloApp)
	if len(st.Reviews) != 3 || !st.ReviewsVisible || !st.ReviewsFromCache {
		t.Fatalf("cached reviews not shown first: %d visible=%v fromCache=%v", len(st.Reviews), st.ReviewsVisible, st.ReviewsFromCache)
	}
	if st.App.Title != "Hello World" {
		t.Errorf("cached record not used: title %q", st.App.Title)
	}
	if st.App.Ratings.Total != 3 || st.App.Ratings.Stars != [5]int{0, 1, 0, 1, 1} {
		t.Errorf("cached ratings not kept: %+v", st.App.Ratings)
	}

	release()
	st = h.Settle(t)
	if st.ReviewsFromCache || st.ReviewFetch != page.Completed {
		t.Errorf("fresh reviews did not replace cached ones: fromCache=%v state=%v", st.ReviewsFromCache, st.ReviewFetch)
	}
}

// testEmptyReviewList checks that an empty list hides the section and is cached as [].
func (h *Harness) testEmptyReviewList(t *testing.T) {
	h.Select(t, QuietApp)
	st := h.Settle(t)
	if st.ReviewsVisible || len(st.Reviews) != 0 {
		t.Errorf("empty review list shown: %+v", st.Reviews)
	}
	if got := h.CachedReviews(t, QuietApp); got != "[]" {
		t.Errorf("cached reviews = %q, want []", got)
	}
	if st.App.Title != QuietApp {
		t.Errorf("untitled app should display its name, got %q", st.App.Title)
	}
}

// testUnknownApp checks that a failed refresh keeps the displayed record.
func (h *Harness) testUnknownApp(t *testing.T) {
	h.Select(t, "missing")
	st := h.Settle(t)
	if st.Refresh != page.Failed {
		t.Errorf("refresh = %v, want failed", st.Refresh)
	}
	if st.ReviewFetch != page.Idle {
		t.Errorf("reviews = %v, want idle without an appstream id", st.ReviewFetch)
	}
	if st.App.Name != "missing" || st.App.Title != "missing" {
		t.Errorf("record changed after failed refresh: %+v", st.App)
	}
	if _, err := h.Cache.Lookup(context.Background(), cache.NamespaceApps, "missing"); err == nil {
		t.Error("failed refresh wrote the cache")
	}
}

// testMedia checks the media of the displayed app.
func (h *Harness) testMedia(t *testing.T) {
	h.Select(t, HelloApp)
	h.Settle(t)

	var resp model.MediaResponse
	if status := h.Do(t, "GET", "/v1/page/media", nil, nil, &resp); status != http.StatusOK {
		t.Fatalf("media: status %d", status)
	}
	if resp.Icon == nil || resp.Icon.Height != 64 {
		t.Errorf("unexpected icon: %+v", resp.Icon)
	}
	if len(resp.Screenshots) != 2 || resp.Screenshots[0].Width != 888 || resp.Screenshots[1].Width != 500 {
		t.Errorf("unexpected screenshots: %+v", resp.Screenshots)
	}
}

// testCategories checks a section listing and the installed listing.
func (h *Harness) testCategories(t *testing.T) {
	var links []model.CategoryLink
	if status := h.Do(t, "GET", "/v1/categories", nil, nil, &links); status != http.StatusOK {
		t.Fatalf("categories: status %d", status)
	}
	if len(links) != 2 || links[0].Name != catalog.Installed || links[1].Name != DevSection {
		t.Errorf("unexpected categories: %+v", links)
	}

	var resp model.CategoryResponse
	if status := h.Do(t, "GET", "/v1/categories/"+DevSection, nil, nil, &resp); status != http.StatusOK {
		t.Fatalf("category: status %d", status)
	}
	if resp.Category.Title != "Development" || len(resp.Tiles) != 2 || resp.Hero == nil || resp.Hero.Name != HelloApp {
		t.Errorf("unexpected listing: %+v", resp)
	}

	if status := h.Do(t, "GET", "/v1/categories/"+catalog.Installed, nil, nil, &resp); status != http.StatusOK {
		t.Fatalf("installed: status %d", status)
	}
	if len(resp.Category.Apps) != 1 || !resp.Category.Apps[0].Installed {
		t.Errorf("unexpected installed listing: %+v", resp.Category.Apps)
	}

	if status := h.Do(t, "GET", "/v1/categories/no-such-section", nil, nil, nil); status != http.StatusNotFound {
		t.Errorf("unknown section: status %d, want 404", status)
	}
}

// testActions checks install and remove.
func (h *Harness) testActions(t *testing.T) {
	var change model.ChangeResponse
	if status := h.Do(t, "POST", "/v1/apps/"+QuietApp+"/install", model.InstallRequest{Channel: "latest/edge"}, nil, &change); status != http.StatusAccepted {
		t.Fatalf("install: status %d", status)
	}
	if change.Change == "" || change.Action != "install" {
		t.Errorf("unexpected change: %+v", change)
	}

	if status := h.Do(t, "POST", "/v1/apps/"+HelloApp+"/remove", nil, nil, &change); status != http.StatusAccepted {
		t.Errorf("remove: status %d", status)
	}
	if status := h.Do(t, "POST", "/v1/apps/"+QuietApp+"/remove", nil, nil, nil); status != http.StatusNotFound {
		t.Errorf("remove of an app that is not installed: status %d, want 404", status)
	}
	if status := h.Do(t, "POST", "/v1/apps/missing/install", nil, nil, nil); status != http.StatusNotFound {
		t.Errorf("install of an unknown app: status %d, want 404", status)
	}
}

// RunAcceptanceTests checks the API surface and the published events.
func (h *Harness) RunAcceptanceTests(t *testing.T) {
	t.Run("APICompliance", h.testAPICompliance)
	t.Run("EventingCompliance", h.testEventingCompliance)
}

// testAPICompliance tests that every route exists and rejects the wrong method.
func (h *Harness) testAPICompliance(t *testing.T) {
	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/v1/page/select"},
		{"GET", "/v1/page"},
		{"GET", "/v1/page/media"},
		{"GET", "/v1/categories/" + DevSection},
		{"POST", "/v1/apps/" + HelloApp + "/install"},
		{"POST", "/v1/apps/" + HelloApp + "/remove"},
	}
	for _, e := range endpoints {
		wrong := "GET"
		if e.method == "GET" {
			wrong = "POST"
		}
		if status := h.Do(t, wrong, e.path, nil, nil, nil); status != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status %d, want 405", wrong, e.path, status)
		}
	}
}

// testEventingCompliance tests that completed refreshes were announced.
func (h *Harness) testEventingCompliance(t *testing.T) {
	refreshed := map[string]bool{}
	for _, name := range h.Events.RefreshedApps() {
		refreshed[name] = true
	}
	for _, name := range []string{HelloApp, QuietApp} {
		if !refreshed[name] {
			t.Errorf("no refresh event for %s", name)
		}
	}
	if refreshed["missing"] {
		t.Error("refresh event published for a failed refresh")
	}
}
