// internal/cache/cache.go
// Package cache provides the (namespace, key) -> JSON store shared by every workflow of the
// store client, with in-memory, file and PostgreSQL backends.
// Writes overwrite unconditionally; there is no expiry and no eviction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	errordefs "github.com/SnapStoreCommunity/snap-store-go/internal/errors"
	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
)

// Namespaces used by the store client.
const (
	NamespaceApps       = "apps"       // model.App keyed by snap name
	NamespaceReviews    = "reviews"    // []model.Review keyed by snap name
	NamespaceCategories = "categories" // model.Category keyed by category name
)

// Standard errors returned by the cache layer
var (
	ErrNotFound   = errors.New("cache entry not found")
	ErrInvalidKey = errors.New("invalid cache namespace or key")
	// ErrMalformed is returned by LookupJSON when a stored value cannot be decoded.
	ErrMalformed = errordefs.ErrMalformedCache
)

// Cache is a key/namespace addressed persistent store of JSON values.
// Lookup and Insert are synchronous; implementations are safe for concurrent use.
type Cache interface {
	// Lookup returns the stored value or ErrNotFound.
	Lookup(ctx context.Context, namespace, key string) (json.RawMessage, error)
	// Insert stores value, replacing any previous value for (namespace, key).
	Insert(ctx context.Context, namespace, key string, value json.RawMessage) error
}

// LookupJSON looks up (namespace, key) and decodes it into v.
// It returns false with a nil error on a miss, and an error wrapping ErrMalformed
// when the stored bytes do not decode.
func LookupJSON(ctx context.Context, c Cache, namespace, key string, v any) (bool, error) {
	raw, err := c.Lookup(ctx, namespace, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, namespace, key, err)
	}
	return true, nil
}

// InsertJSON encodes v and stores it under (namespace, key).
func InsertJSON(ctx context.Context, c Cache, namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	return c.Insert(ctx, namespace, key, raw)
}

func validate(namespace, key string) error {
	for _, part := range []string{namespace, key} {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// instrumented records every cache operation in the storage metrics.
type instrumented struct {
	next Cache
	m    *metrics.Metrics
}

// Instrument wraps c so lookups and inserts are counted and timed.
func Instrument(c Cache, m *metrics.Metrics) Cache {
	if m == nil {
		return c
	}
	return &instrumented{next: c, m: m}
}

func (i *instrumented) Lookup(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	start := time.Now()
	raw, err := i.next.Lookup(ctx, namespace, key)
	status := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}
	i.observe("lookup", namespace, status, start)
	return raw, err
}

func (i *instrumented) Insert(ctx context.Context, namespace, key string, value json.RawMessage) error {
	start := time.Now()
	err := i.next.Insert(ctx, namespace, key, value)
	status := "ok"
	if err != nil {
		status = "error"
	}
	i.observe("insert", namespace, status, start)
	return err
}

func (i *instrumented) observe(op, namespace, status string, start time.Time) {
	i.m.CacheOperationTotal.WithLabelValues(op, namespace, status).Inc()
	i.m.CacheOperationDuration.WithLabelValues(op, namespace).Observe(time.Since(start).Seconds())
}

// Close closes c when the backend holds resources (e.g. a connection pool).
func Close(c Cache) {
	switch v := c.(type) {
	case *instrumented:
		Close(v.next)
	case interface{ Close() }:
		v.Close()
	}
}
