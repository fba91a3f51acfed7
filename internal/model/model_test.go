package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsDeep(t *testing.T) {
	icon := NewMedia("https://example.com/icon.png", 64, 64)
	app := App{Name: "hello", Icon: &icon, Screenshots: []Media{NewMedia("https://example.com/1.png", 100, 50)}}

	c := app.Clone()
	c.Icon.URL = "changed"
	c.Screenshots[0].URL = "changed"

	assert.Equal(t, "https://example.com/icon.png", app.Icon.URL)
	assert.Equal(t, "https://example.com/1.png", app.Screenshots[0].URL)
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "hello", App{Name: "hello"}.DisplayTitle())
	assert.Equal(t, "Hello World", App{Name: "hello", Title: "Hello World"}.DisplayTitle())
}

func TestDiff(t *testing.T) {
	icon := NewMedia("https://example.com/icon.png", 64, 64)
	old := App{Name: "hello", Title: "hello", Screenshots: []Media{}}
	updated := old.Clone()
	updated.Title = "Hello World"
	updated.Icon = &icon
	updated.Version = "2.10"
	updated.LastUpdated = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	updated.Ratings = NewReviewStats(1, [5]int{0, 0, 0, 0, 1})

	assert.Equal(t, []Field{FieldTitle, FieldIcon, FieldVersion, FieldUpdated, FieldRatings}, Diff(old, updated))
	assert.Empty(t, Diff(updated, updated.Clone()))

	sameIcon := NewMedia("https://example.com/icon.png", 64, 64)
	again := updated.Clone()
	again.Icon = &sameIcon
	assert.NotContains(t, Diff(updated, again), FieldIcon, "icons compare by value")
}

func TestNewMediaClampsDimensions(t *testing.T) {
	m := NewMedia("https://example.com/x.png", -1, -5)
	assert.Zero(t, m.Width)
	assert.Zero(t, m.Height)
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		media      Media
		wantWidth  int
		wantHeight int
	}{
		{NewMedia("a", 1280, 720), 888, 500},
		{NewMedia("b", 1000, 1000), 500, 500},
		{NewMedia("c", 0, 0), 500, 500},
		{NewMedia("d", 800, 0), 500, 500},
	}
	for _, tt := range tests {
		w, h := tt.media.ScaledSize(DefaultScreenshotHeight)
		assert.Equal(t, tt.wantWidth, w, tt.media.URL)
		assert.Equal(t, tt.wantHeight, h, tt.media.URL)
	}
}

func TestReviewStars(t *testing.T) {
	for rating, want := range map[int]int{0: 0, 20: 1, 40: 2, 60: 3, 80: 4, 100: 5, 90: 5, 150: 5, -20: 0} {
		assert.Equal(t, want, Review{Rating: rating}.Stars(), "rating %d", rating)
	}
}

func TestNewReviewStats(t *testing.T) {
	s := NewReviewStats(0, [5]int{1, 0, 0, 0, 3})
	assert.Equal(t, 4, s.Total, "total is at least the number of rated reviews")
	assert.InDelta(t, 4.0, s.Average, 0.001)

	assert.Zero(t, NewReviewStats(2, [5]int{}).Average)
}

func TestReviewWireNames(t *testing.T) {
	var r Review
	require.NoError(t, json.Unmarshal([]byte(`{"review_id":5,"rating":60,"summary":"OK","reviewer_name":"Bo","date_created":1700000000.5,"karma_up":2}`), &r))
	assert.Equal(t, int64(5), r.ID)
	assert.Equal(t, 3, r.Stars())
	assert.Equal(t, "Bo", r.ReviewerName)
	assert.Equal(t, 2, r.KarmaUp)

	// Cached reviews use the same names
	raw, err := json.Marshal([]Review{r})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"review_id":5`)
}
