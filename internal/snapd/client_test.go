package snapd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

func writeEnvelope(w http.ResponseWriter, status int, typ string, result any, change string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":        typ,
		"status-code": status,
		"result":      result,
		"change":      change,
	})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithBaseURL(srv.URL, srv.Client())
}

func TestFindByName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/find", r.URL.Path)
		if r.URL.Query().Get("name") != "hello" {
			writeEnvelope(w, http.StatusNotFound, "error", map[string]string{"kind": "snap-not-found", "message": "snap not found"}, "")
			return
		}
		writeEnvelope(w, http.StatusOK, "sync", []Snap{{ID: "abc", Name: "hello", Version: "2.10"}}, "")
	})

	snaps, err := c.Find(context.Background(), FindOptions{Name: "hello"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "abc", snaps[0].ID)

	_, err = c.Find(context.Background(), FindOptions{Name: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	_, err = c.Find(context.Background(), FindOptions{})
	assert.Error(t, err)
}

func TestInstallAndRemove(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/snaps/hello", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["action"] == "install" {
			assert.Equal(t, "latest/beta", body["channel"])
			writeEnvelope(w, http.StatusAccepted, "async", nil, "17")
			return
		}
		writeEnvelope(w, http.StatusAccepted, "async", nil, "18")
	})

	change, err := c.Install(context.Background(), "hello", "latest/beta")
	require.NoError(t, err)
	assert.Equal(t, "17", change)

	change, err = c.Remove(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "18", change)
}

func TestActionWithoutChangeFails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "sync", nil, "")
	})
	_, err := c.Install(context.Background(), "hello", "")
	assert.Error(t, err)
}

func TestUpdateFromSearch(t *testing.T) {
	installed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := Snap{
		ID:          "abc",
		Name:        "hello",
		Summary:     "Says hello",
		Description: "A friendly program",
		Publisher:   &Publisher{Username: "canonical", Validation: "verified"},
		Media: []SnapMedia{
			{Type: "icon", URL: "https://example.com/icon.png", Width: 256, Height: 256},
			{Type: "screenshot", URL: "https://example.com/shot.png", Width: 1280, Height: 720},
			{Type: "screenshot", URL: "https://example.com/banner.png"},
			{Type: "screenshot", URL: "https://example.com/banner_a1B2c3D.jpg"},
			{Type: "screenshot", URL: "https://example.com/banner-icon.png"},
			{Type: "video", URL: "https://example.com/video.mp4"},
		},
		Version:       "2.10",
		License:       "MIT",
		Status:        "active",
		InstalledSize: 1024,
		DownloadSize:  512,
		InstallDate:   &installed,
	}

	app := UpdateFromSearch(model.App{Name: "hello", Title: "hello"}, snap)

	assert.Equal(t, "hello", app.Title, "untitled snaps display their name")
	assert.Equal(t, "canonical", app.Publisher)
	assert.True(t, app.PublisherValidated)
	assert.Equal(t, "io.snapcraft.hello-abc", app.AppstreamID)
	require.NotNil(t, app.Icon)
	assert.Equal(t, "https://example.com/icon.png", app.Icon.URL)
	require.Len(t, app.Screenshots, 1)
	assert.Equal(t, "https://example.com/shot.png", app.Screenshots[0].URL)
	assert.True(t, app.Installed)
	assert.Equal(t, int64(1024), app.InstalledSize)
	assert.Equal(t, int64(512), app.DownloadSize)
	assert.Equal(t, installed, app.LastUpdated)
	assert.False(t, app.UpdateAvailable)
}

func TestUpdateFromSearchKeepsExistingIcon(t *testing.T) {
	existing := model.Media{URL: "https://example.com/old.png"}
	orig := model.App{Name: "hello", Icon: &existing}
	snap := Snap{Name: "hello", Title: "Hello", Developer: "dev", Media: []SnapMedia{{Type: "icon", URL: "https://example.com/new.png"}}}

	app := UpdateFromSearch(orig, snap)
	require.NotNil(t, app.Icon)
	assert.Equal(t, "https://example.com/old.png", app.Icon.URL)
	assert.Equal(t, "dev", app.Publisher)
	assert.Empty(t, app.AppstreamID, "no store id, no appstream id")

	// The original record is untouched
	app.Icon.URL = "changed"
	assert.Equal(t, "https://example.com/old.png", orig.Icon.URL)
}

func TestUpdateAvailable(t *testing.T) {
	app := UpdateFromSearch(model.App{Name: "hello", InstalledVersion: "1.2.0"}, Snap{Name: "hello", Version: "1.10.0", Status: "installed"})
	assert.True(t, app.UpdateAvailable)

	app = UpdateFromSearch(model.App{Name: "hello", InstalledVersion: "1.2.0"}, Snap{Name: "hello", Version: "1.10.0", Status: "available"})
	assert.False(t, app.UpdateAvailable, "not installed")
}

func TestIsVersionNewer(t *testing.T) {
	tests := []struct {
		candidate, current string
		want               bool
	}{
		{"1.10.0", "1.2.0", true},
		{"1.2.0", "1.10.0", false},
		{"2.0", "2.0", false},
		{"2024.01", "2023.12", true},
		{"git-abc", "git-def", true},
		{"git-abc", "git-abc", false},
		{"", "1.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isVersionNewer(tt.candidate, tt.current), "%s > %s", tt.candidate, tt.current)
	}
}

func TestFromInstalled(t *testing.T) {
	app := FromInstalled(Snap{ID: "abc", Name: "hello", Version: "2.10", Status: "active"})
	assert.True(t, app.Installed)
	assert.Equal(t, "2.10", app.InstalledVersion)
	assert.False(t, app.UpdateAvailable)
}

func TestBackendRefresh(t *testing.T) {
	results := []Snap{{ID: "abc", Name: "hello", Title: "Hello"}, {ID: "def", Name: "hello-world"}}
	var n atomic.Int32
	n.Store(1)
	b := NewBackend(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "sync", results[:n.Load()], "")
	}))

	app, err := b.Refresh(context.Background(), model.App{Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", app.Title)

	n.Store(2)
	_, err = b.Refresh(context.Background(), model.App{Name: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 2 results")
}

func TestBackendRefreshCancelled(t *testing.T) {
	block := make(chan struct{})
	b := NewBackend(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := b.Refresh(ctx, model.App{Name: "hello"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListInstalledAndSections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/snaps":
			writeEnvelope(w, http.StatusOK, "sync", []Snap{{ID: "abc", Name: "hello", Status: "active"}}, "")
		case "/v2/sections":
			writeEnvelope(w, http.StatusOK, "sync", []string{"featured", "games"}, "")
		default:
			http.NotFound(w, r)
		}
	})

	snaps, err := c.ListInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "hello", snaps[0].Name)

	sections, err := c.Sections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"featured", "games"}, sections)
}

func TestBaseURLPathPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snapd/v2/find" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "hello", r.URL.Query().Get("name"))
		writeEnvelope(w, http.StatusOK, "sync", []Snap{{ID: "abc", Name: "hello"}}, "")
	}))
	t.Cleanup(srv.Close)

	c := NewWithBaseURL(srv.URL+"/snapd/", srv.Client())
	snaps, err := c.Find(context.Background(), FindOptions{Name: "hello"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "hello", snaps[0].Name)
}
