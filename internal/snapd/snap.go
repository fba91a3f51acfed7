package snapd

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// Snap is a snap as described by the snapd find and snaps endpoints.
type Snap struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Title         string      `json:"title,omitempty"`
	Summary       string      `json:"summary"`
	Description   string      `json:"description"`
	Publisher     *Publisher  `json:"publisher,omitempty"`
	Developer     string      `json:"developer,omitempty"` // Legacy publisher username
	Media         []SnapMedia `json:"media,omitempty"`
	Version       string      `json:"version"`
	License       string      `json:"license,omitempty"`
	Status        string      `json:"status"` // "available", "installed" or "active"
	InstalledSize int64       `json:"installed-size,omitempty"`
	DownloadSize  int64       `json:"download-size,omitempty"`
	InstallDate   *time.Time  `json:"install-date,omitempty"`
	Channel       string      `json:"channel,omitempty"`
}

// Publisher is the store account that published a snap.
type Publisher struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display-name"`
	Validation  string `json:"validation"` // "verified", "starred" or "unproven"
}

// SnapMedia is an icon, screenshot or video attached to a snap.
type SnapMedia struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Legacy promotion images uploaded as screenshots; they are not shown.
var (
	bannerPattern     = regexp.MustCompile(`^banner(?:_[a-zA-Z0-9]{7})?\.(?:png|jpg)$`)
	bannerIconPattern = regexp.MustCompile(`^banner-icon(?:_[a-zA-Z0-9]{7})?\.(?:png|jpg)$`)
)

func isScreenshot(m SnapMedia) bool {
	if m.Type != "screenshot" {
		return false
	}
	base := path.Base(m.URL)
	return !bannerPattern.MatchString(base) && !bannerIconPattern.MatchString(base)
}

// AppstreamID derives the id the review service knows a snap by.
func AppstreamID(name, id string) string {
	return fmt.Sprintf("io.snapcraft.%s-%s", name, id)
}

// UpdateFromSearch returns a copy of app updated with the data of a search result.
// The icon is only taken from the result when app has none yet.
func UpdateFromSearch(app model.App, snap Snap) model.App {
	updated := app.Clone()

	updated.Name = snap.Name
	updated.SnapID = snap.ID
	if snap.Title != "" {
		updated.Title = snap.Title
	} else {
		updated.Title = snap.Name
	}

	switch {
	case snap.Publisher != nil && snap.Publisher.DisplayName != "":
		updated.Publisher = snap.Publisher.DisplayName
	case snap.Publisher != nil:
		updated.Publisher = snap.Publisher.Username
	default:
		updated.Publisher = snap.Developer
	}
	updated.PublisherValidated = snap.Publisher != nil && snap.Publisher.Validation == "verified"

	updated.Summary = snap.Summary
	updated.Description = snap.Description
	updated.License = snap.License
	updated.Version = snap.Version
	if snap.DownloadSize > 0 {
		updated.DownloadSize = snap.DownloadSize
	}

	screenshots := []model.Media{}
	for _, m := range snap.Media {
		switch {
		case m.Type == "icon" && updated.Icon == nil:
			icon := model.NewMedia(m.URL, m.Width, m.Height)
			updated.Icon = &icon
		case isScreenshot(m):
			screenshots = append(screenshots, model.NewMedia(m.URL, m.Width, m.Height))
		}
	}
	updated.Screenshots = screenshots

	if snap.ID != "" {
		updated.AppstreamID = AppstreamID(snap.Name, snap.ID)
	}

	updated.Installed = snap.Status == "installed" || snap.Status == "active"
	if updated.Installed {
		if snap.InstalledSize > 0 {
			updated.InstalledSize = snap.InstalledSize
		}
		if snap.InstallDate != nil {
			updated.LastUpdated = snap.InstallDate.UTC()
		}
	}
	updated.UpdateAvailable = updated.Installed && updated.InstalledVersion != "" && isVersionNewer(updated.Version, updated.InstalledVersion)

	return updated
}

// FromInstalled converts an entry of the installed-snaps listing.
func FromInstalled(snap Snap) model.App {
	app := UpdateFromSearch(model.App{}, snap)
	app.Installed = true
	app.InstalledVersion = snap.Version
	app.UpdateAvailable = false
	return app
}

// isVersionNewer reports whether candidate is newer than current.
// Versions that are not semantic versions are compared for inequality only.
func isVersionNewer(candidate, current string) bool {
	v1, err1 := semver.NewVersion(candidate)
	v2, err2 := semver.NewVersion(current)
	if err1 != nil || err2 != nil {
		return candidate != "" && candidate != current
	}
	return v1.GreaterThan(v2)
}

// Backend refreshes app records from snapd.
type Backend struct {
	client *Client
}

// NewBackend creates a refresh backend on top of a snapd client.
func NewBackend(client *Client) *Backend {
	return &Backend{client: client}
}

// Refresh looks the app up by exact name and returns the updated record.
// A cancelled ctx is reported as context.Canceled.
func (b *Backend) Refresh(ctx context.Context, app model.App) (model.App, error) {
	snaps, err := b.client.Find(ctx, FindOptions{Name: app.Name})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.App{}, ctxErr
		}
		return model.App{}, fmt.Errorf("failed to get snap information: %w", err)
	}
	if len(snaps) != 1 {
		return model.App{}, fmt.Errorf("snap find returned %d results, expected 1", len(snaps))
	}
	return UpdateFromSearch(app, snaps[0]), nil
}
