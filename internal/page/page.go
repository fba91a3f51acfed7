// Package page implements the app details page model: the refresh and review workflows
// started for the selected app, their cancellation when the selection changes, and the
// displayed state they produce.
//
// Every selection opens a session with its own id and cancellable context. Completions are
// applied under the page lock and only when their session is still current, so a superseded
// workflow can neither touch the displayed state nor write to the cache.
package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SnapStoreCommunity/snap-store-go/internal/cache"
	errordefs "github.com/SnapStoreCommunity/snap-store-go/internal/errors"
	"github.com/SnapStoreCommunity/snap-store-go/internal/event"
	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
	"github.com/SnapStoreCommunity/snap-store-go/internal/telemetry"
)

// DefaultReviewLimit is the number of reviews requested per fetch.
const DefaultReviewLimit = 20

// Workflow names used in logs, spans and metrics.
const (
	workflowRefresh = "refresh"
	workflowReviews = "reviews"
)

// Refresher fetches the latest record for an app from a backend.
// Implementations report cancellation as context.Canceled.
type Refresher interface {
	Refresh(ctx context.Context, app model.App) (model.App, error)
}

// ReviewSource fetches reviews for an appstream id.
type ReviewSource interface {
	GetReviews(ctx context.Context, appstreamID string, offset, limit int) (model.ReviewPage, error)
}

// Validator checks a cached document before it is decoded.
type Validator interface {
	Validate(namespace string, doc json.RawMessage) error
}

var (
	// ErrClosed is returned by SetApp after Close.
	ErrClosed = errors.New("page closed")
	// ErrNoApp is returned when the selected record has no name.
	ErrNoApp = errors.New("app name is required")
)

// Options holds the collaborators of a Page.
type Options struct {
	Refresher   Refresher       // Required
	Reviews     ReviewSource    // Required
	Cache       cache.Cache     // Required
	Validator   Validator       // Optional schema check of cached values
	Publisher   event.Publisher // Optional; defaults to a no-op publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	ReviewLimit int
}

// session is one app selection. It is replaced, never reused.
type session struct {
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Page is the presentation model of the app details page.
type Page struct {
	refresher Refresher
	reviews   ReviewSource
	cache     cache.Cache
	validator Validator
	publisher event.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	limit     int
	tracer    trace.Tracer

	mu      sync.Mutex
	session *session // nil until the first selection
	state   State
	closed  bool
	hub     *hub
}

// New creates an empty page.
func New(opts Options) (*Page, error) {
	if opts.Refresher == nil || opts.Reviews == nil || opts.Cache == nil {
		return nil, fmt.Errorf("page requires a refresher, a review source and a cache")
	}
	if opts.Publisher == nil {
		opts.Publisher = event.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReviewLimit <= 0 {
		opts.ReviewLimit = DefaultReviewLimit
	}
	return &Page{
		refresher: opts.Refresher,
		reviews:   opts.Reviews,
		cache:     opts.Cache,
		validator: opts.Validator,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "page"),
		limit:     opts.ReviewLimit,
		tracer:    telemetry.Tracer(),
		state:     State{Reviews: []model.Review{}, Screenshots: []model.Thumbnail{}},
		hub:       newHub(opts.Metrics),
	}, nil
}

// SetApp makes app the displayed app.
// Selecting the app that is already displayed does nothing. Otherwise the previous
// session is cancelled, the page is reset from app, cached reviews are shown, and the
// refresh and review workflows start for the new session.
func (p *Page) SetApp(app model.App) error {
	if app.Name == "" {
		return ErrNoApp
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.session != nil && p.session.name == app.Name {
		return nil
	}

	if p.session != nil {
		p.session.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: ulid.Make().String(), name: app.Name, ctx: ctx, cancel: cancel}
	p.session = s

	p.state = State{SessionID: s.id}
	p.state.setApp(app)
	p.state.setReviews(nil, false)

	var cached []model.Review
	if p.lookupCached(ctx, cache.NamespaceReviews, app.Name, &cached) {
		p.state.setReviews(cached, true)
	}

	p.startRefresh(s, app)
	if app.AppstreamID != "" {
		p.startReviews(s, app.Name, app.AppstreamID)
	}

	p.logger.Debug("App selected", "app", app.Name, "session", s.id, "cachedReviews", len(cached))
	p.notify(allFields)
	return nil
}

// Resolve returns the cached record for name, or a bare record carrying only the name
// when nothing usable is cached.
func (p *Page) Resolve(ctx context.Context, name string) model.App {
	var app model.App
	if name != "" && p.lookupCached(ctx, cache.NamespaceApps, name, &app) && app.Name == name {
		return app
	}
	return model.App{Name: name, Title: name}
}

// Snapshot returns a copy of the displayed state.
func (p *Page) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Subscribe returns a subscription to state changes touching any of fields,
// or to every change when no field is given. Subscribe to model.FieldState to follow
// refresh and review workflow transitions, failures included.
func (p *Page) Subscribe(fields ...model.Field) *Subscription {
	return p.hub.subscribe(fields)
}

// Unsubscribe stops deliveries to sub and closes its channel.
func (p *Page) Unsubscribe(sub *Subscription) {
	p.hub.unsubscribe(sub)
}

// Wait blocks until the workflows of the current session have finished.
func (p *Page) Wait() {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()
	if s != nil {
		s.wg.Wait()
	}
}

// Close cancels the current session, waits for its workflows and closes all subscriptions.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	s := p.session
	if s != nil {
		s.cancel()
	}
	p.mu.Unlock()

	if s != nil {
		s.wg.Wait()
	}
	p.hub.close()
}

// current reports whether s is the live session. Callers hold p.mu.
func (p *Page) current(s *session) bool {
	return !p.closed && p.session == s && s.ctx.Err() == nil
}

// notify publishes the current state. Callers hold p.mu.
func (p *Page) notify(fields []model.Field) {
	p.hub.publish(Update{SessionID: p.state.SessionID, Fields: slices.Clone(fields), State: p.state.clone()})
}

// startRefresh runs RefreshWorkflow for s. Callers hold p.mu.
func (p *Page) startRefresh(s *session, app model.App) {
	p.state.Refresh = InFlight
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		ctx, span := p.tracer.Start(s.ctx, "page.refresh", trace.WithAttributes(
			attribute.String("app", app.Name),
			attribute.String("session", s.id),
		))
		defer span.End()

		updated, err := p.refresher.Refresh(ctx, app)
		outcome, published := p.completeRefresh(s, updated, err)
		p.finish(span, workflowRefresh, outcome, err, start)
		if published != nil {
			p.publishEvent(s, func(ctx context.Context) error { return p.publisher.PublishAppRefreshed(ctx, *published) })
		}
	}()
}

func (p *Page) completeRefresh(s *session, updated model.App, err error) (WorkflowState, *model.App) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.current(s) {
		return Cancelled, nil
	}
	if err != nil {
		kind := errordefs.Classify(err)
		if kind == errordefs.KindCancelled {
			p.state.Refresh = Cancelled
			p.notify(stateOnly)
			return Cancelled, nil
		}
		p.logger.Warn("Failed to refresh app", "app", s.name, "session", s.id, "kind", kind.String(), "error", err)
		p.state.Refresh = Failed
		p.notify(stateOnly)
		return Failed, nil
	}
	if updated.Name != s.name {
		p.logger.Warn("Refresh returned a different app", "app", s.name, "got", updated.Name, "session", s.id)
		p.state.Refresh = Failed
		p.notify(stateOnly)
		return Failed, nil
	}

	if err := cache.InsertJSON(s.ctx, p.cache, cache.NamespaceApps, s.name, updated); err != nil {
		p.logger.Warn("Failed to cache app", "app", s.name, "error", err)
	}

	changed := model.Diff(p.state.App, updated)
	p.state.setApp(updated)
	p.state.Refresh = Completed

	// A bare record has no appstream id; the review fetch waits for the refreshed one
	if p.state.ReviewFetch == Idle && updated.AppstreamID != "" {
		p.startReviews(s, s.name, updated.AppstreamID)
	}
	p.notify(append(changed, model.FieldState))
	return Completed, &updated
}

// startReviews runs ReviewWorkflow for s. Callers hold p.mu.
func (p *Page) startReviews(s *session, name, appstreamID string) {
	p.state.ReviewFetch = InFlight
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		start := time.Now()
		ctx, span := p.tracer.Start(s.ctx, "page.reviews", trace.WithAttributes(
			attribute.String("app", name),
			attribute.String("appstream_id", appstreamID),
			attribute.String("session", s.id),
		))
		defer span.End()

		result, err := p.reviews.GetReviews(ctx, appstreamID, 0, p.limit)
		outcome, count := p.completeReviews(s, result, err)
		p.finish(span, workflowReviews, outcome, err, start)
		if outcome == Completed {
			p.publishEvent(s, func(ctx context.Context) error { return p.publisher.PublishReviewsUpdated(ctx, name, count) })
		}
	}()
}

func (p *Page) completeReviews(s *session, result model.ReviewPage, err error) (WorkflowState, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.current(s) {
		return Cancelled, 0
	}
	if err != nil {
		kind := errordefs.Classify(err)
		if kind == errordefs.KindCancelled {
			p.state.ReviewFetch = Cancelled
			p.notify(stateOnly)
			return Cancelled, 0
		}
		p.logger.Warn("Failed to get reviews", "app", s.name, "session", s.id, "kind", kind.String(), "error", err)
		p.state.ReviewFetch = Failed
		p.notify(stateOnly)
		return Failed, 0
	}

	reviews := result.Reviews
	if reviews == nil {
		reviews = []model.Review{}
	}
	if err := cache.InsertJSON(s.ctx, p.cache, cache.NamespaceReviews, s.name, reviews); err != nil {
		p.logger.Warn("Failed to cache reviews", "app", s.name, "error", err)
	}

	p.state.setReviews(reviews, false)
	p.state.ReviewSessionKey = result.SessionKey
	p.state.ReviewFetch = Completed
	p.notify([]model.Field{model.FieldReviews, model.FieldState})
	return Completed, len(reviews)
}

// finish records the outcome of a workflow in its span and in the workflow metrics.
func (p *Page) finish(span trace.Span, workflow string, outcome WorkflowState, err error, start time.Time) {
	span.SetAttributes(attribute.String("outcome", outcome.String()))
	if outcome == Failed && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if p.metrics != nil {
		p.metrics.WorkflowTotal.WithLabelValues(workflow, outcome.String()).Inc()
		p.metrics.WorkflowDuration.WithLabelValues(workflow, outcome.String()).Observe(time.Since(start).Seconds())
	}
}

// publishEvent announces a completed workflow. The event describes a completed fact,
// so it is sent even if the session was superseded since.
func (p *Page) publishEvent(s *session, publish func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := publish(ctx); err != nil {
		p.logger.Warn("Failed to publish event", "app", s.name, "error", err)
	}
}

// lookupCached loads (namespace, key) into v. Missing, unreadable, invalid and undecodable
// entries are all reported as a miss; only the latter three are logged.
func (p *Page) lookupCached(ctx context.Context, namespace, key string, v any) bool {
	raw, err := p.cache.Lookup(ctx, namespace, key)
	if errors.Is(err, cache.ErrNotFound) {
		return false
	}
	if err != nil {
		p.logger.Warn("Failed to read cache", "namespace", namespace, "key", key, "error", err)
		return false
	}
	if p.validator != nil {
		if err := p.validator.Validate(namespace, raw); err != nil {
			p.ignoreMalformed(namespace, key, err)
			return false
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		p.ignoreMalformed(namespace, key, err)
		return false
	}
	return true
}

func (p *Page) ignoreMalformed(namespace, key string, cause error) {
	err := fmt.Errorf("%w: %v", errordefs.ErrMalformedCache, cause)
	p.logger.Warn("Ignoring malformed cache entry", "namespace", namespace, "key", key, "kind", errordefs.Classify(err).String(), "error", err)
}
