// internal/model/api.go
package model

// SelectAppRequest represents the request body for selecting the displayed app.
type SelectAppRequest struct {
	Name string `json:"name"` // Snap name of the app to display
}

// InstallRequest represents the request body for installing an app.
type InstallRequest struct {
	Channel string `json:"channel,omitempty"` // Optional channel, e.g. "latest/stable"
}

// ChangeResponse is returned for install and remove requests.
// Change is the backend change id that tracks the asynchronous operation.
type ChangeResponse struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Change string `json:"change"`
}

// Thumbnail is a media reference resolved to a URL the front-end can load,
// together with the box it should be displayed in.
type Thumbnail struct {
	Source Media  `json:"source"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// MediaResponse lists the resolved media of the displayed app.
type MediaResponse struct {
	Icon        *Thumbnail  `json:"icon,omitempty"`
	Screenshots []Thumbnail `json:"screenshots"`
}

// CategoryLink names a category the front-end can open.
type CategoryLink struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// CategoryResponse is a category listing laid out for display.
type CategoryResponse struct {
	Category Category `json:"category"`
	Hero     *App     `json:"hero,omitempty"` // First app of the listing, shown large
	Tiles    []Tile   `json:"tiles"`
	Stale    bool     `json:"stale"` // Served from cache after a failed refresh
}
