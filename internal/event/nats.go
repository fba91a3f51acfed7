// internal/event/nats.go
// Package event provides the NATS JetStream publisher for store client events.
// Other processes (a launcher, a tray updater) follow app refreshes and review updates
// through the STORE_APPS stream.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// Event types, also used as subjects.
const (
	TypeAppRefreshed   = "store.apps.refreshed"
	TypeReviewsUpdated = "store.apps.reviews"
)

// dedupWindow suppresses repeated events for the same app.
const dedupWindow = 2 * time.Minute

// Publisher defines the event publishing operations of the store client.
type Publisher interface {
	// PublishAppRefreshed announces a successfully refreshed app record.
	PublishAppRefreshed(ctx context.Context, app model.App) error

	// PublishReviewsUpdated announces a freshly fetched review list.
	PublishReviewsUpdated(ctx context.Context, name string, count int) error

	// Close closes the publisher connection
	Close() error
}

// Noop returns a Publisher that discards every event.
func Noop() Publisher { return noop{} }

type noop struct{}

func (noop) Close() error                                             { return nil }
func (noop) PublishAppRefreshed(context.Context, model.App) error     { return nil }
func (noop) PublishReviewsUpdated(context.Context, string, int) error { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	metrics *metrics.Metrics

	// Deduplication: event type + app name -> last publish time
	dedup map[string]time.Time
	mutex sync.Mutex
}

// NewPublisher connects to the NATS server at url.
// An empty url, or a server that cannot be reached, yields a no-op publisher.
func NewPublisher(url string, m *metrics.Metrics) Publisher {
	if url == "" {
		return Noop()
	}

	nc, err := nats.Connect(url, nats.Name("snap-store"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return Noop()
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return Noop()
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return Noop()
	}

	return &natsPub{nc: nc, js: js, metrics: m, dedup: make(map[string]time.Time)}
}

// initStreams creates the STORE_APPS stream if needed.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       "STORE_APPS",
		Subjects:   []string{"store.apps.*"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: dedupWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create STORE_APPS stream: %w", err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
type EventEnvelope struct {
	Type          string    `json:"type"`          // Event type identifier
	Version       string    `json:"version"`       // Event schema version
	OccurredAt    time.Time `json:"occurredAt"`    // When the event occurred
	CorrelationID string    `json:"correlationId"` // Correlation ID for tracing
	Payload       any       `json:"payload"`       // Event-specific data
}

// ReviewsUpdated is the payload of a reviews event.
type ReviewsUpdated struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// claim reports whether key may be published now and records the attempt.
func (p *natsPub) claim(key string) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	if last, ok := p.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return false
	}
	// Drop old entries so the map stays bounded by recently viewed apps
	for k, t := range p.dedup {
		if now.Sub(t) >= dedupWindow {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = now
	return true
}

func (p *natsPub) release(key string) {
	p.mutex.Lock()
	delete(p.dedup, key)
	p.mutex.Unlock()
}

func (p *natsPub) publish(ctx context.Context, eventType, name string, payload any) error {
	key := eventType + "/" + name
	if !p.claim(key) {
		return nil
	}

	b, err := json.Marshal(EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	})
	if err != nil {
		p.release(key)
		return err
	}

	// Msg id lets the server drop duplicates from other store processes too
	_, err = p.js.Publish(eventType, b, nats.Context(ctx), nats.MsgId(key+"/"+time.Now().UTC().Truncate(dedupWindow).Format(time.RFC3339)))
	status := "success"
	if err != nil {
		status = "error"
		p.release(key)
	}
	if p.metrics != nil {
		p.metrics.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	}
	return err
}

func (p *natsPub) PublishAppRefreshed(ctx context.Context, app model.App) error {
	return p.publish(ctx, TypeAppRefreshed, app.Name, app)
}

func (p *natsPub) PublishReviewsUpdated(ctx context.Context, name string, count int) error {
	return p.publish(ctx, TypeReviewsUpdated, name, ReviewsUpdated{Name: name, Count: count})
}
