package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

func TestNoopPublisher(t *testing.T) {
	p := Noop()
	assert.NoError(t, p.PublishAppRefreshed(context.Background(), model.App{Name: "hello"}))
	assert.NoError(t, p.PublishReviewsUpdated(context.Background(), "hello", 3))
	assert.NoError(t, p.Close())
}

func TestNewPublisherFallsBackToNoop(t *testing.T) {
	assert.Equal(t, Noop(), NewPublisher("", metrics.NewMetrics()))
	// Nothing listens on port 1
	assert.Equal(t, Noop(), NewPublisher("nats://127.0.0.1:1", metrics.NewMetrics()))
}

func TestClaimDeduplicates(t *testing.T) {
	p := &natsPub{dedup: make(map[string]time.Time)}

	assert.True(t, p.claim("refreshed:hello"))
	assert.False(t, p.claim("refreshed:hello"), "duplicate within the window")
	assert.True(t, p.claim("refreshed:other"))

	p.release("refreshed:hello")
	assert.True(t, p.claim("refreshed:hello"), "released after a failed publish")

	p.dedup["refreshed:old"] = time.Now().Add(-2 * dedupWindow)
	assert.True(t, p.claim("refreshed:old"), "outside the window")
}
