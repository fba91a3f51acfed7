// internal/model/app.go
// Package model defines the records shared by the store client: apps, media references,
// reviews and category listings.
// Values are passed by copy; a record handed to the presentation layer is a snapshot and is
// only ever replaced wholesale by a completed refresh.
package model

import (
	"slices"
	"time"
)

// App is the store's view of a single snap.
// Name is the stable identifier: it never changes once assigned and keys both the
// refresh request and the cache entries for the app.
type App struct {
	Name               string      `json:"name"`                  // Snap name (stable identifier)
	SnapID             string      `json:"snapId,omitempty"`      // Store-assigned snap id
	AppstreamID        string      `json:"appstreamId,omitempty"` // External id used by the review service
	Title              string      `json:"title"`                 // Display title
	Publisher          string      `json:"publisher"`             // Publisher display name
	PublisherValidated bool        `json:"publisherValidated"`    // Publisher identity verified by the store
	Summary            string      `json:"summary"`               // One line summary
	Description        string      `json:"description"`           // Long description
	Icon               *Media      `json:"icon,omitempty"`        // App icon, if any
	Screenshots        []Media     `json:"screenshots"`           // Screenshots in store order
	Installed          bool        `json:"installed"`             // Installed on this machine
	Version            string      `json:"version,omitempty"`     // Version offered by the store
	InstalledVersion   string      `json:"installedVersion,omitempty"`
	UpdateAvailable    bool        `json:"updateAvailable"`
	License            string      `json:"license,omitempty"`
	InstalledSize      int64       `json:"installedSize,omitempty"` // Bytes on disk
	DownloadSize       int64       `json:"downloadSize,omitempty"`  // Bytes to download
	LastUpdated        time.Time   `json:"lastUpdated"`
	Ratings            ReviewStats `json:"ratings"`
}

// Clone returns a deep copy so the caller can build an updated record without
// touching a snapshot that is already on display.
func (a App) Clone() App {
	c := a
	if a.Icon != nil {
		icon := *a.Icon
		c.Icon = &icon
	}
	c.Screenshots = slices.Clone(a.Screenshots)
	return c
}

// DisplayTitle falls back to the name when the store gave no title.
func (a App) DisplayTitle() string {
	if a.Title != "" {
		return a.Title
	}
	return a.Name
}

// Field names a displayed property of an App.
type Field string

const (
	FieldTitle       Field = "title"
	FieldPublisher   Field = "publisher"
	FieldSummary     Field = "summary"
	FieldDescription Field = "description"
	FieldIcon        Field = "icon"
	FieldScreenshots Field = "screenshots"
	FieldInstalled   Field = "installed"
	FieldVersion     Field = "version"
	FieldLicense     Field = "license"
	FieldSize        Field = "size"
	FieldUpdated     Field = "updated"
	FieldRatings     Field = "ratings"
	FieldReviews     Field = "reviews"

	// FieldState is not a record field: it marks refresh and review workflow transitions.
	FieldState Field = "state"
)

// Diff reports which displayed fields differ between two records.
// It drives field-level subscriptions: a listener bound to FieldTitle is only
// notified when Diff includes FieldTitle.
func Diff(old, new App) []Field {
	var changed []Field
	if old.Title != new.Title {
		changed = append(changed, FieldTitle)
	}
	if old.Publisher != new.Publisher || old.PublisherValidated != new.PublisherValidated {
		changed = append(changed, FieldPublisher)
	}
	if old.Summary != new.Summary {
		changed = append(changed, FieldSummary)
	}
	if old.Description != new.Description {
		changed = append(changed, FieldDescription)
	}
	if !equalIcon(old.Icon, new.Icon) {
		changed = append(changed, FieldIcon)
	}
	if !slices.Equal(old.Screenshots, new.Screenshots) {
		changed = append(changed, FieldScreenshots)
	}
	if old.Installed != new.Installed {
		changed = append(changed, FieldInstalled)
	}
	if old.Version != new.Version || old.InstalledVersion != new.InstalledVersion || old.UpdateAvailable != new.UpdateAvailable {
		changed = append(changed, FieldVersion)
	}
	if old.License != new.License {
		changed = append(changed, FieldLicense)
	}
	if old.InstalledSize != new.InstalledSize || old.DownloadSize != new.DownloadSize {
		changed = append(changed, FieldSize)
	}
	if !old.LastUpdated.Equal(new.LastUpdated) {
		changed = append(changed, FieldUpdated)
	}
	if old.Ratings != new.Ratings {
		changed = append(changed, FieldRatings)
	}
	return changed
}

func equalIcon(a, b *Media) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
