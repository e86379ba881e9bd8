// Package usecase contains the gate's business logic: access decisions,
// exemptions, attention sessions and the request protocol.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/config"
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/policy"
)

// Snapshot is an immutable view of the configuration with its compiled matchers.
type Snapshot struct {
	Config   domain.Config
	Matchers *policy.MatchList
}

// NewSnapshot compiles cfg.
func NewSnapshot(cfg domain.Config) *Snapshot {
	return &Snapshot{
		Config:   cfg,
		Matchers: policy.NewMatchList(cfg.Sites),
	}
}

// Engine is the context shared by the gate, the exemption manager and the
// session tracker. All cross-invocation state lives in the store; the engine
// only holds its process id and the current snapshot.
type Engine struct {
	store     domain.Store
	clock     domain.Clock
	logger    *zap.Logger
	processID string
	snapshot  atomic.Pointer[Snapshot]
}

// NewEngine creates an engine with a fresh process id and the default config.
// Call Refresh to load the stored config.
func NewEngine(store domain.Store, clock domain.Clock, logger *zap.Logger) *Engine {
	return NewEngineWithProcessID(store, clock, logger, uuid.NewString())
}

// NewEngineWithProcessID creates an engine with a fixed process id (for testing).
func NewEngineWithProcessID(store domain.Store, clock domain.Clock, logger *zap.Logger, processID string) *Engine {
	e := &Engine{
		store:     store,
		clock:     clock,
		logger:    logger,
		processID: processID,
	}
	e.snapshot.Store(NewSnapshot(config.Defaults()))
	return e
}

// ProcessID returns the id tagging sessions opened by this engine.
func (e *Engine) ProcessID() string {
	return e.processID
}

// Store returns the backing store.
func (e *Engine) Store() domain.Store {
	return e.store
}

// Snapshot returns the current config snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Refresh loads the stored config, merges it against the defaults, writes the
// merged result back when it differs and recompiles the matchers.
// When the store cannot be read the current snapshot is kept and nothing is written.
func (e *Engine) Refresh(ctx context.Context) error {
	var raw json.RawMessage
	if _, err := e.store.Get(ctx, domain.KeyConfig, &raw); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg, changed := config.Enrich(raw)
	if changed {
		if err := e.store.Set(ctx, domain.KeyConfig, cfg); err != nil {
			e.logger.Warn("failed to persist merged config", zap.Error(err))
		} else {
			e.logger.Info("config merged with defaults and saved")
		}
	}

	e.snapshot.Store(NewSnapshot(cfg))
	e.logger.Debug("config refreshed",
		zap.Int("sites", len(cfg.Sites)),
		zap.Int("soft_routines", len(cfg.SoftRoutines)))
	return nil
}

// ImportConfig stores cfg as the new configuration and refreshes.
func (e *Engine) ImportConfig(ctx context.Context, cfg domain.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := e.store.Set(ctx, domain.KeyConfig, cfg); err != nil {
		return fmt.Errorf("failed to store config: %w", err)
	}
	return e.Refresh(ctx)
}

// load reads key into a value of type T, returning the zero value when absent.
func load[T any](ctx context.Context, store domain.Store, key string) (T, error) {
	var v T
	if _, err := store.Get(ctx, key, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return v, nil
}
