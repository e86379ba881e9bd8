package domain

import (
	"context"
	"errors"
	"time"
)

// Persisted state keys.
const (
	KeyConfig              = "config"
	KeyActivationTimes     = "activationTimes"
	KeySoftRoutineStatuses = "softRoutineStatuses"
	KeyActiveSession       = "activeSession"
	KeySessions            = "sessions"
	KeyInterceptions       = "interceptions"
	KeyActivations         = "activations"
	KeyPeeks               = "peeks"
	KeyInstance            = "instance"
)

// ErrStoreClosed is returned by a Store after Close.
var ErrStoreClosed = errors.New("store closed")

// StoreChange notifies that a key was written, possibly by another process.
type StoreChange struct {
	Key string
}

// Store is the persistent key-value store. Values are JSON-encoded.
// Writes are last-write-wins; there is no transaction across a read-modify-write.
type Store interface {
	// Get decodes the value stored under key into dst.
	// Returns false when the key is absent (dst is left untouched).
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set encodes value and stores it under key.
	Set(ctx context.Context, key string, value any) error

	// Changes returns the change-notification stream. Closed on Close.
	Changes() <-chan StoreChange

	// Close releases resources.
	Close() error
}

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// ProcessInspector checks OS processes.
// Implementation: uses gopsutil.
type ProcessInspector interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// Gate decides whether a page may be shown.
type Gate interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// ExemptionManager records and reports exemptions.
type ExemptionManager interface {
	// RecordHostActivation grants a hard exemption to host starting now.
	RecordHostActivation(ctx context.Context, host string) error

	// RecordSoftRoutineActivation starts routine now. It does not re-check burn state.
	RecordSoftRoutineActivation(ctx context.Context, routine SoftRoutine) error

	// RoutineAvailability reports every configured routine.
	RoutineAvailability(ctx context.Context) ([]RoutineStatus, error)
}

// SessionTracker reconciles tab/window events into attention sessions.
type SessionTracker interface {
	// HandleEvent re-evaluates the active session for one browser event.
	HandleEvent(ctx context.Context, ev NavEvent) error

	// Recover closes a session orphaned by a previous engine instance.
	Recover(ctx context.Context) error

	// Stats sums session time per pattern within the retention window.
	Stats(ctx context.Context) ([]PatternStat, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
