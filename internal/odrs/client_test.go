package odrs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

const appID = "io.snapcraft.hello-abc"

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", UserHash: "hash", HTTP: srv.Client()})
}

func TestGetReviews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fetch", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hash", req["user_hash"])
		assert.Equal(t, appID, req["app_id"])
		assert.Equal(t, "Ubuntu", req["distro"])
		assert.Equal(t, "en_US", req["locale"])
		assert.Equal(t, float64(20), req["limit"])
		assert.Equal(t, float64(0), req["start"])

		_, _ = io.WriteString(w, `[
			{"user_skey":"skey-1"},
			{"review_id":7,"rating":100,"summary":"Great","description":"Love it","reviewer_name":"Ann","user_skey":"skey-2"},
			{"review_id":6,"rating":20,"summary":"Bad","description":"Crashes"}
		]`)
	})
	c := newTestClient(t, mux)

	page, err := c.GetReviews(context.Background(), appID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, "skey-1", page.SessionKey)
	require.Len(t, page.Reviews, 2)
	assert.Equal(t, int64(7), page.Reviews[0].ID)
	assert.Equal(t, 5, page.Reviews[0].Stars())
	assert.Equal(t, "Ann", page.Reviews[0].ReviewerName)
	assert.Equal(t, int64(6), page.Reviews[1].ID)
}

func TestGetReviewsEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))

	page, err := c.GetReviews(context.Background(), appID, 0, 20)
	require.NoError(t, err)
	assert.NotNil(t, page.Reviews)
	assert.Empty(t, page.Reviews)
}

func TestGetReviewsErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))

	_, err := c.GetReviews(context.Background(), "", 0, 20)
	assert.Error(t, err, "empty appstream id")
	_, err = c.GetReviews(context.Background(), appID, -1, 20)
	assert.Error(t, err, "negative offset")

	_, err = c.GetReviews(context.Background(), appID, 0, 20)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	status.Store(http.StatusNotFound)
	_, err = c.GetReviews(context.Background(), appID, 0, 20)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReviewsCancelled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetReviews(ctx, appID, 0, 20)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetRatings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ratings/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != appID {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `{"star0":1,"star1":1,"star2":0,"star3":0,"star4":1,"star5":2,"total":5}`)
	})
	c := newTestClient(t, mux)

	stats, err := c.GetRatings(context.Background(), appID)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, [5]int{1, 0, 0, 1, 2}, stats.Stars)
	assert.InDelta(t, 3.75, stats.Average, 0.001)

	_, err = c.GetRatings(context.Background(), "io.snapcraft.other-x")
	assert.ErrorIs(t, err, ErrNotFound)
}

type stubRefresher struct {
	app model.App
	err error
}

func (s stubRefresher) Refresh(context.Context, model.App) (model.App, error) { return s.app, s.err }

func TestWithRatings(t *testing.T) {
	var ratingsStatus atomic.Int32
	ratingsStatus.Store(http.StatusOK)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(ratingsStatus.Load()))
		_, _ = io.WriteString(w, `{"star5":2,"total":2}`)
	}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	previous := model.NewReviewStats(1, [5]int{1, 0, 0, 0, 0})

	r := WithRatings(stubRefresher{app: model.App{Name: "hello", AppstreamID: appID, Ratings: previous}}, c, logger)
	app, err := r.Refresh(context.Background(), model.App{Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, app.Ratings.Total)
	assert.Equal(t, 5.0, app.Ratings.Average)

	ratingsStatus.Store(http.StatusBadGateway)
	app, err = r.Refresh(context.Background(), model.App{Name: "hello"})
	require.NoError(t, err, "ratings failures are not refresh failures")
	assert.Equal(t, previous, app.Ratings)

	// No appstream id: ratings are not requested
	r = WithRatings(stubRefresher{app: model.App{Name: "hello"}}, c, logger)
	app, err = r.Refresh(context.Background(), model.App{Name: "hello"})
	require.NoError(t, err)
	assert.Zero(t, app.Ratings.Total)

	// Refresh errors pass through
	r = WithRatings(stubRefresher{err: errors.New("snapd down")}, c, logger)
	_, err = r.Refresh(context.Background(), model.App{Name: "hello"})
	assert.EqualError(t, err, "snapd down")
}
