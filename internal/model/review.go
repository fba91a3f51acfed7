package model

// Review is a single review from the Open Desktop Ratings Service.
// The JSON field names are the service's own, so the cached form is the wire form.
type Review struct {
	ID           int64   `json:"review_id"`               // Service-assigned review id
	AppID        string  `json:"app_id,omitempty"`        // Appstream id the review belongs to
	Rating       int     `json:"rating"`                  // 0-100, in steps of 20
	Summary      string  `json:"summary"`                 // Review headline
	Description  string  `json:"description"`             // Review text
	ReviewerName string  `json:"reviewer_name,omitempty"` // Free-form author name
	Version      string  `json:"version,omitempty"`       // App version reviewed
	Distro       string  `json:"distro,omitempty"`
	Locale       string  `json:"locale,omitempty"`
	DateCreated  float64 `json:"date_created,omitempty"` // Unix seconds
	KarmaUp      int     `json:"karma_up,omitempty"`
	KarmaDown    int     `json:"karma_down,omitempty"`
}

// Stars converts the 0-100 rating to a 0-5 star count.
func (r Review) Stars() int {
	stars := (r.Rating + 10) / 20
	switch {
	case stars < 0:
		return 0
	case stars > 5:
		return 5
	}
	return stars
}

// ReviewStats aggregates ratings for an app.
type ReviewStats struct {
	Total   int     `json:"total"`   // Number of ratings, including unrated reviews
	Stars   [5]int  `json:"stars"`   // Stars[0] counts 1-star ratings, Stars[4] counts 5-star ratings
	Average float64 `json:"average"` // Mean star rating over rated reviews, 0 when none
}

// NewReviewStats builds aggregate statistics from per-star bucket counts.
func NewReviewStats(total int, stars [5]int) ReviewStats {
	s := ReviewStats{Total: total, Stars: stars}
	var rated, sum int
	for i, n := range stars {
		rated += n
		sum += (i + 1) * n
	}
	if rated > 0 {
		s.Average = float64(sum) / float64(rated)
	}
	if s.Total < rated {
		s.Total = rated
	}
	return s
}

// ReviewPage is one page of reviews plus the opaque session key the service
// handed back with it.
type ReviewPage struct {
	Reviews    []Review `json:"reviews"`
	SessionKey string   `json:"sessionKey,omitempty"`
}
