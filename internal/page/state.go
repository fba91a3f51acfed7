package page

import (
	"fmt"
	"slices"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// WorkflowState is the lifecycle of one workflow invocation.
// A workflow only returns to InFlight through a new selection.
type WorkflowState int

const (
	Idle WorkflowState = iota
	InFlight
	Completed
	Cancelled
	Failed
)

func (s WorkflowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in-flight"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("WorkflowState(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s WorkflowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is what the app page displays.
type State struct {
	SessionID        string            `json:"sessionId"`
	App              model.App         `json:"app"`
	DetailsTitle     string            `json:"detailsTitle"`
	Screenshots      []model.Thumbnail `json:"screenshots"`
	Reviews          []model.Review    `json:"reviews"`
	ReviewsVisible   bool              `json:"reviewsVisible"`
	ReviewsFromCache bool              `json:"reviewsFromCache"` // Showing the cached list; the live fetch has not completed
	ReviewSessionKey string            `json:"reviewSessionKey,omitempty"`
	Refresh          WorkflowState     `json:"refresh"`
	ReviewFetch      WorkflowState     `json:"reviewFetch"`
}

func (s State) clone() State {
	c := s
	c.App = s.App.Clone()
	c.Screenshots = slices.Clone(s.Screenshots)
	c.Reviews = slices.Clone(s.Reviews)
	return c
}

// setApp replaces the displayed record and everything derived from it.
func (s *State) setApp(app model.App) {
	s.App = app.Clone()
	s.DetailsTitle = "Details for " + app.DisplayTitle()
	s.Screenshots = make([]model.Thumbnail, 0, len(app.Screenshots))
	for _, m := range app.Screenshots {
		w, h := m.ScaledSize(model.DefaultScreenshotHeight)
		s.Screenshots = append(s.Screenshots, model.Thumbnail{Source: m, URL: m.URL, Width: w, Height: h})
	}
}

// setReviews replaces the displayed review list wholesale.
func (s *State) setReviews(reviews []model.Review, fromCache bool) {
	if reviews == nil {
		reviews = []model.Review{}
	}
	s.Reviews = slices.Clone(reviews)
	s.ReviewsVisible = len(reviews) > 0
	s.ReviewsFromCache = fromCache
}

// allFields is reported when a new selection resets the page.
var allFields = []model.Field{
	model.FieldTitle, model.FieldPublisher, model.FieldSummary, model.FieldDescription,
	model.FieldIcon, model.FieldScreenshots, model.FieldInstalled, model.FieldVersion,
	model.FieldLicense, model.FieldSize, model.FieldUpdated, model.FieldRatings, model.FieldReviews,
	model.FieldState,
}

// stateOnly is reported when only a workflow state changed.
var stateOnly = []model.Field{model.FieldState}
