package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// testStoreContract exercises the behavior every domain.Store must share.
func testStoreContract(t *testing.T, store domain.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		var v map[string]int64
		found, err := store.Get(ctx, "missing", &v)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, v)
	})

	t.Run("round trip", func(t *testing.T) {
		want := map[string]int64{"x.com": 1_700_000_000}
		require.NoError(t, store.Set(ctx, domain.KeyActivationTimes, want))

		var got map[string]int64
		found, err := store.Get(ctx, domain.KeyActivationTimes, &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("last write wins", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "counter", 1))
		require.NoError(t, store.Set(ctx, "counter", 2))

		var got int
		_, err := store.Get(ctx, "counter", &got)
		require.NoError(t, err)
		assert.Equal(t, 2, got)
	})

	t.Run("null clears a pointer", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, domain.KeyActiveSession, &domain.ActiveSession{Pattern: "p"}))
		require.NoError(t, store.Set(ctx, domain.KeyActiveSession, nil))

		var s *domain.ActiveSession
		found, err := store.Get(ctx, domain.KeyActiveSession, &s)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Nil(t, s)
	})

	t.Run("change notification", func(t *testing.T) {
		drain(store.Changes())
		require.NoError(t, store.Set(ctx, domain.KeyConfig, map[string]any{"sites": []any{}}))
		waitForChange(t, store.Changes(), domain.KeyConfig)
	})
}

func drain(ch <-chan domain.StoreChange) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func waitForChange(t *testing.T, ch <-chan domain.StoreChange, key string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if c.Key == key {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for change on %q", key)
		}
	}
}
