package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/infra"
)

// epoch is an arbitrary fixed start time for tests.
var epoch = time.Unix(1_700_000_000, 0)

// fakeClock implements domain.Clock with a manually advanced time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore implements domain.Store and fails every call.
type failingStore struct {
	err error
}

func (s *failingStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	return false, s.err
}

func (s *failingStore) Set(ctx context.Context, key string, value any) error {
	return s.err
}

func (s *failingStore) Changes() <-chan domain.StoreChange { return nil }

func (s *failingStore) Close() error { return nil }

var errStorage = errors.New("storage unavailable")

// flakyStore wraps a store and fails the next failGets reads.
type flakyStore struct {
	domain.Store

	mu       sync.Mutex
	failGets int
}

func (s *flakyStore) FailNextGets(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = n
}

func (s *flakyStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	fail := s.failGets > 0
	if fail {
		s.failGets--
	}
	s.mu.Unlock()
	if fail {
		return false, errStorage
	}
	return s.Store.Get(ctx, key, dst)
}

// newTestEngine creates an engine over a fresh memory store with cfg imported.
func newTestEngine(t *testing.T, cfg domain.Config) (*Engine, *fakeClock) {
	t.Helper()
	store := infra.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	clock := newFakeClock()
	engine := NewEngineWithProcessID(store, clock, zap.NewNop(), "proc-test")
	require.NoError(t, engine.ImportConfig(context.Background(), cfg))
	return engine, clock
}

func testConfig(sites ...domain.Site) domain.Config {
	return domain.Config{
		Activation: domain.ActivationConfig{HoldSeconds: 5, TimeSeconds: 300},
		Sites:      sites,
		SoftRoutines: []domain.SoftRoutine{
			{Label: "Lunch", Duration: 1800, ResetTime: 72000},
		},
	}
}

// keyFailingStore wraps a store and fails every write to one key.
type keyFailingStore struct {
	domain.Store
	key string
}

func (s *keyFailingStore) Set(ctx context.Context, key string, value any) error {
	if key == s.key {
		return errStorage
	}
	return s.Store.Set(ctx, key, value)
}
