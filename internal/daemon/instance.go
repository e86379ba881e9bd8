package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// StaleAfter is how many missed heartbeats make an instance record stale.
const StaleAfter = 3

// InstanceStatus is the liveness of the host registered in the store.
type InstanceStatus struct {
	Record  domain.InstanceRecord
	Found   bool // a host has registered at least once
	Running bool // the registered PID is alive
	Stale   bool // the heartbeat is older than StaleAfter intervals
}

// Alive reports whether the registered host is running and heartbeating.
func (s InstanceStatus) Alive() bool {
	return s.Found && s.Running && !s.Stale
}

// CheckInstance reads the heartbeat record and checks the registered PID.
func CheckInstance(
	ctx context.Context,
	store domain.Store,
	processes domain.ProcessInspector,
	heartbeatInterval time.Duration,
	now time.Time,
) (InstanceStatus, error) {
	var st InstanceStatus
	found, err := store.Get(ctx, domain.KeyInstance, &st.Record)
	if err != nil {
		return st, fmt.Errorf("failed to read instance record: %w", err)
	}
	if !found {
		return st, nil
	}

	st.Found = true
	st.Running = processes.IsRunning(st.Record.PID)
	age := now.Sub(time.Unix(st.Record.LastHeartbeat, 0))
	st.Stale = age > StaleAfter*heartbeatInterval
	return st, nil
}
