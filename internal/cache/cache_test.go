package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errordefs "github.com/SnapStoreCommunity/snap-store-go/internal/errors"
	"github.com/SnapStoreCommunity/snap-store-go/internal/metrics"
)

// backends returns every cache implementation available to the test.
// PostgreSQL runs only when STORE_TEST_DB_DSN points at a database.
func backends(t *testing.T) map[string]Cache {
	t.Helper()
	fc, err := NewFile(t.TempDir())
	require.NoError(t, err)

	all := map[string]Cache{"memory": NewMemory(), "file": fc}
	if dsn := os.Getenv("STORE_TEST_DB_DSN"); dsn != "" {
		pc, err := NewPostgres(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { Close(pc) })
		all["postgres"] = pc
	}
	return all
}

func TestBackends(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			// Unique per run so a shared database starts empty
			key := fmt.Sprintf("hello-%d", time.Now().UnixNano())

			_, err := c.Lookup(ctx, NamespaceReviews, key)
			assert.ErrorIs(t, err, ErrNotFound, "absent entry")

			require.NoError(t, c.Insert(ctx, NamespaceReviews, key, json.RawMessage(`[]`)))
			raw, err := c.Lookup(ctx, NamespaceReviews, key)
			require.NoError(t, err)
			assert.JSONEq(t, `[]`, string(raw), "an empty list is a value, not a miss")

			require.NoError(t, c.Insert(ctx, NamespaceReviews, key, json.RawMessage(`[{"review_id":1,"rating":80}]`)))
			raw, err = c.Lookup(ctx, NamespaceReviews, key)
			require.NoError(t, err)
			assert.JSONEq(t, `[{"review_id":1,"rating":80}]`, string(raw), "insert overwrites")

			// Namespaces are independent
			_, err = c.Lookup(ctx, NamespaceApps, key)
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, c.Insert(ctx, "", "hello", json.RawMessage(`{}`)), ErrInvalidKey)
			_, err = c.Lookup(ctx, NamespaceApps, "")
			assert.ErrorIs(t, err, ErrInvalidKey)
			for _, dots := range []string{".", ".."} {
				assert.ErrorIs(t, c.Insert(ctx, dots, "hello", json.RawMessage(`{}`)), ErrInvalidKey)
				assert.ErrorIs(t, c.Insert(ctx, NamespaceApps, dots, json.RawMessage(`{}`)), ErrInvalidKey)
				_, err = c.Lookup(ctx, dots, "hello")
				assert.ErrorIs(t, err, ErrInvalidKey)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, c.Insert(ctx, NamespaceApps, "hello", json.RawMessage(`{"name":"hello","title":"Hello"}`)))
					raw, err := c.Lookup(ctx, NamespaceApps, "hello")
					if assert.NoError(t, err) {
						assert.JSONEq(t, `{"name":"hello","title":"Hello"}`, string(raw))
					}
				}()
			}
			wg.Wait()
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	c := NewMemory()
	value := json.RawMessage(`{"a":1}`)
	require.NoError(t, c.Insert(context.Background(), "ns", "k", value))
	value[2] = 'b'

	raw, err := c.Lookup(context.Background(), "ns", "k")
	require.NoError(t, err)
	raw[2] = 'c'

	again, err := c.Lookup(context.Background(), "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestFileKeysStayInsideDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFile(dir)
	require.NoError(t, err)

	require.NoError(t, c.Insert(context.Background(), "apps", "../../escape", json.RawMessage(`{}`)))
	_, err = os.Stat(filepath.Join(dir, "..", "escape.json"))
	assert.True(t, os.IsNotExist(err))

	raw, err := c.Lookup(context.Background(), "apps", "../../escape")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(raw))

	assert.ErrorIs(t, c.Insert(context.Background(), "..", "escape", json.RawMessage(`{}`)), ErrInvalidKey)
	_, err = os.Stat(filepath.Join(dir, "..", "escape.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = NewFile("")
	assert.Error(t, err)
}

func TestLookupJSON(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	var reviews []map[string]any
	found, err := LookupJSON(ctx, c, NamespaceReviews, "hello", &reviews)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, InsertJSON(ctx, c, NamespaceReviews, "hello", []int{}))
	found, err = LookupJSON(ctx, c, NamespaceReviews, "hello", &reviews)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, reviews)
	assert.Empty(t, reviews)

	require.NoError(t, c.Insert(ctx, NamespaceReviews, "broken", json.RawMessage(`{"not":"a list"}`)))
	found, err = LookupJSON(ctx, c, NamespaceReviews, "broken", &reviews)
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, errordefs.KindMalformedCache, errordefs.Classify(err))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestInstrument(t *testing.T) {
	m := metrics.NewMetrics()
	c := Instrument(NewMemory(), m)
	ctx := context.Background()

	misses := counterValue(t, m.CacheOperationTotal.WithLabelValues("lookup", "categories", "miss"))
	hits := counterValue(t, m.CacheOperationTotal.WithLabelValues("lookup", "categories", "hit"))

	_, _ = c.Lookup(ctx, NamespaceCategories, "games")
	require.NoError(t, c.Insert(ctx, NamespaceCategories, "games", json.RawMessage(`{}`)))
	_, err := c.Lookup(ctx, NamespaceCategories, "games")
	require.NoError(t, err)

	assert.Equal(t, misses+1, counterValue(t, m.CacheOperationTotal.WithLabelValues("lookup", "categories", "miss")))
	assert.Equal(t, hits+1, counterValue(t, m.CacheOperationTotal.WithLabelValues("lookup", "categories", "hit")))

	assert.Same(t, c, Instrument(c, nil), "nil metrics leave the cache as is")
}
