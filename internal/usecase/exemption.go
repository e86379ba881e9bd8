package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// ErrEmptyHost is returned when an activation names no host.
var ErrEmptyHost = errors.New("host is empty")

// ExemptionManagerImpl implements domain.ExemptionManager.
type ExemptionManagerImpl struct {
	engine *Engine
	logger *zap.Logger
}

// NewExemptionManager creates an exemption manager on top of engine.
func NewExemptionManager(engine *Engine, logger *zap.Logger) *ExemptionManagerImpl {
	return &ExemptionManagerImpl{engine: engine, logger: logger}
}

// RecordHostActivation sets activationTimes[host] = now and logs the activation.
// Retrying is safe: the timestamp is last-write-wins and history is only appended.
func (m *ExemptionManagerImpl) RecordHostActivation(ctx context.Context, host string) error {
	if host == "" {
		return ErrEmptyHost
	}
	now := m.engine.Now()
	store := m.engine.Store()

	times, err := load[map[string]int64](ctx, store, domain.KeyActivationTimes)
	if err != nil {
		return err
	}
	if times == nil {
		times = make(map[string]int64)
	}
	times[host] = now.Unix()
	if err := store.Set(ctx, domain.KeyActivationTimes, times); err != nil {
		return fmt.Errorf("failed to save activation time: %w", err)
	}

	if err := appendLog(ctx, store, domain.KeyActivations, domain.Activation{Host: host, TS: now.Unix()}, now); err != nil {
		return err
	}

	m.logger.Info("host activated",
		zap.String("host", host),
		zap.Int("window_seconds", m.engine.Snapshot().Config.Activation.TimeSeconds))
	return nil
}

// RecordSoftRoutineActivation sets softRoutineStatuses[label] = now.
// Callers check RoutineBurned first; the write itself does not.
func (m *ExemptionManagerImpl) RecordSoftRoutineActivation(ctx context.Context, routine domain.SoftRoutine) error {
	now := m.engine.Now()
	store := m.engine.Store()

	statuses, err := load[map[string]int64](ctx, store, domain.KeySoftRoutineStatuses)
	if err != nil {
		return err
	}
	if statuses == nil {
		statuses = make(map[string]int64)
	}
	statuses[routine.Label] = now.Unix()
	if err := store.Set(ctx, domain.KeySoftRoutineStatuses, statuses); err != nil {
		return fmt.Errorf("failed to save routine status: %w", err)
	}

	m.logger.Info("soft routine started",
		zap.String("routine", routine.Label),
		zap.Int64("duration", routine.Duration),
		zap.Int64("reset_time", routine.ResetTime))
	return nil
}

// RoutineAvailability reports the state of every configured routine.
func (m *ExemptionManagerImpl) RoutineAvailability(ctx context.Context) ([]domain.RoutineStatus, error) {
	statuses, err := load[map[string]int64](ctx, m.engine.Store(), domain.KeySoftRoutineStatuses)
	if err != nil {
		return nil, err
	}
	now := m.engine.Now()
	routines := m.engine.Snapshot().Config.SoftRoutines

	result := make([]domain.RoutineStatus, len(routines))
	for i, r := range routines {
		result[i] = RoutineStatusAt(r, statuses, now)
	}
	return result, nil
}

// HostExempt reports whether host has a hard activation younger than window.
func HostExempt(times map[string]int64, host string, window time.Duration, now time.Time) bool {
	ts, ok := times[host]
	if !ok {
		return false
	}
	return elapsed(ts, now) < int64(window/time.Second)
}

// RoutineBurned reports whether routine is still cooling down and cannot be reused.
func RoutineBurned(r domain.SoftRoutine, statuses map[string]int64, now time.Time) bool {
	ts, ok := statuses[r.Label]
	if !ok {
		return false
	}
	return elapsed(ts, now) < r.ResetTime
}

// RoutineActiveGrant reports whether routine currently grants access.
func RoutineActiveGrant(r domain.SoftRoutine, statuses map[string]int64, now time.Time) bool {
	ts, ok := statuses[r.Label]
	if !ok {
		return false
	}
	return elapsed(ts, now) < r.Duration
}

// RoutineStatusAt computes the display state of r at now.
func RoutineStatusAt(r domain.SoftRoutine, statuses map[string]int64, now time.Time) domain.RoutineStatus {
	st := domain.RoutineStatus{Routine: r, State: domain.RoutineAvailable}
	ts, ok := statuses[r.Label]
	if !ok {
		return st
	}
	e := elapsed(ts, now)
	switch {
	case e < r.Duration:
		st.State = domain.RoutineActive
		st.Remaining = r.Duration - e
	case e < r.ResetTime:
		st.State = domain.RoutineBurned
		st.Remaining = r.ResetTime - e
	}
	return st
}

func elapsed(ts int64, now time.Time) int64 {
	return now.Unix() - ts
}

// Ensure ExemptionManagerImpl implements domain.ExemptionManager.
var _ domain.ExemptionManager = (*ExemptionManagerImpl)(nil)
