// internal/odrs/client.go
// Package odrs provides a client for the Open Desktop Ratings Service.
// It fetches review pages and aggregate ratings for an appstream id.
package odrs

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// DefaultURL is the public ODRS endpoint.
const DefaultURL = "https://odrs.gnome.org/1.0/reviews/api"

// Client for interacting with the ratings service.
type Client struct {
	base     string       // Base URL of the service API
	hc       *http.Client // HTTP client with custom configuration
	userHash string       // Anonymous per-user identifier
	distro   string
	locale   string
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL  string
	UserHash string // Defaults to UserHash() of this machine
	Distro   string // Defaults to "Ubuntu"
	Locale   string // Defaults to "en_US"
	HTTP     *http.Client
}

// ErrNotFound is returned when the service has no entry for an app.
var ErrNotFound = errors.New("app not known to ratings service")

// New creates a new ratings client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if opts.UserHash == "" {
		opts.UserHash = UserHash()
	}
	if opts.Distro == "" {
		opts.Distro = "Ubuntu"
	}
	if opts.Locale == "" {
		opts.Locale = "en_US"
	}
	hc := opts.HTTP
	if hc == nil {
		// No overall timeout; the request context decides how long a fetch may take
		hc = &http.Client{Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		}}
	}
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		hc:       hc,
		userHash: opts.UserHash,
		distro:   opts.Distro,
		locale:   opts.Locale,
	}
}

// UserHash returns the anonymous identifier the service uses to recognise this user:
// the hex sha1 of the machine id and the user name.
func UserHash() string {
	machineID, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		machineID = []byte("unknown")
	}
	user := os.Getenv("USER")
	sum := sha1.Sum([]byte(strings.TrimSpace(string(machineID)) + ":" + user))
	return hex.EncodeToString(sum[:])
}

type fetchRequest struct {
	UserHash string `json:"user_hash"`
	AppID    string `json:"app_id"`
	Locale   string `json:"locale"`
	Distro   string `json:"distro"`
	Version  string `json:"version"`
	Limit    int    `json:"limit"`
	Start    int    `json:"start"`
}

// wireReview is a fetch result entry. Entries without a review id only carry the session key.
type wireReview struct {
	model.Review
	UserSkey string `json:"user_skey,omitempty"`
}

// GetReviews fetches one page of reviews for appstreamID, in service order.
// The returned page carries the session key the service issued for this user and app.
func (c *Client) GetReviews(ctx context.Context, appstreamID string, offset, limit int) (model.ReviewPage, error) {
	if appstreamID == "" {
		return model.ReviewPage{}, fmt.Errorf("appstream id is required")
	}
	if offset < 0 || limit < 0 {
		return model.ReviewPage{}, fmt.Errorf("invalid paging: offset %d, limit %d", offset, limit)
	}

	body, err := json.Marshal(fetchRequest{
		UserHash: c.userHash,
		AppID:    appstreamID,
		Locale:   c.locale,
		Distro:   c.distro,
		Version:  "unknown",
		Limit:    limit,
		Start:    offset,
	})
	if err != nil {
		return model.ReviewPage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/fetch", bytes.NewReader(body))
	if err != nil {
		return model.ReviewPage{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var entries []wireReview
	if err := c.send(ctx, req, &entries); err != nil {
		return model.ReviewPage{}, err
	}

	page := model.ReviewPage{Reviews: make([]model.Review, 0, len(entries))}
	for _, e := range entries {
		if page.SessionKey == "" && e.UserSkey != "" {
			page.SessionKey = e.UserSkey
		}
		if e.ID == 0 {
			continue
		}
		page.Reviews = append(page.Reviews, e.Review)
	}
	return page, nil
}

type ratingsResult struct {
	Star0 int `json:"star0"`
	Star1 int `json:"star1"`
	Star2 int `json:"star2"`
	Star3 int `json:"star3"`
	Star4 int `json:"star4"`
	Star5 int `json:"star5"`
	Total int `json:"total"`
}

// GetRatings fetches the aggregate ratings for appstreamID.
func (c *Client) GetRatings(ctx context.Context, appstreamID string) (model.ReviewStats, error) {
	if appstreamID == "" {
		return model.ReviewStats{}, fmt.Errorf("appstream id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ratings/"+url.PathEscape(appstreamID), nil)
	if err != nil {
		return model.ReviewStats{}, err
	}
	var r ratingsResult
	if err := c.send(ctx, req, &r); err != nil {
		return model.ReviewStats{}, err
	}
	// star0 counts reviews without a rating; they only contribute to the total
	return model.NewReviewStats(r.Total, [5]int{r.Star1, r.Star2, r.Star3, r.Star4, r.Star5}), nil
}

func (c *Client) send(ctx context.Context, req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ratings request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
			return fmt.Errorf("failed to decode ratings response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("ratings request failed: %s", resp.Status)
	}
}
