package odrs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// Refresher is the refresh capability WithRatings decorates.
type Refresher interface {
	Refresh(ctx context.Context, app model.App) (model.App, error)
}

type ratingRefresher struct {
	next   Refresher
	client *Client
	logger *slog.Logger
}

// WithRatings returns a Refresher that fills in the aggregate ratings after next succeeds.
// A ratings failure keeps the previous statistics and is not reported to the caller.
func WithRatings(next Refresher, client *Client, logger *slog.Logger) Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ratingRefresher{next: next, client: client, logger: logger}
}

func (r *ratingRefresher) Refresh(ctx context.Context, app model.App) (model.App, error) {
	updated, err := r.next.Refresh(ctx, app)
	if err != nil || updated.AppstreamID == "" {
		return updated, err
	}
	stats, err := r.client.GetRatings(ctx, updated.AppstreamID)
	switch {
	case err == nil:
		updated.Ratings = stats
	case ctx.Err() != nil:
		return model.App{}, ctx.Err()
	case !errors.Is(err, ErrNotFound):
		r.logger.Warn("Failed to get ratings", "app", updated.Name, "error", err)
	}
	return updated, nil
}
