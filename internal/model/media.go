package model

// DefaultScreenshotHeight is the display height screenshots are scaled to.
const DefaultScreenshotHeight = 500

// Media references an icon or screenshot hosted by the store.
type Media struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// NewMedia builds a media reference. Non-positive dimensions are recorded as unknown.
func NewMedia(url string, width, height int) Media {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Media{URL: url, Width: width, Height: height}
}

// ScaledSize returns the box the media is displayed in at the given height.
// The width keeps the aspect ratio when both dimensions are known; otherwise the box is square.
func (m Media) ScaledSize(height int) (int, int) {
	if m.Width > 0 && m.Height > 0 {
		return m.Width * height / m.Height, height
	}
	return height, height
}
