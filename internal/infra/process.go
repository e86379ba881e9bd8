package infra

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// ProcessInspectorImpl implements domain.ProcessInspector using gopsutil.
type ProcessInspectorImpl struct{}

// NewProcessInspector creates a new process inspector.
func NewProcessInspector() domain.ProcessInspector {
	return &ProcessInspectorImpl{}
}

// IsRunning checks if a PID exists and is not a zombie.
func (pi *ProcessInspectorImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunning()
	if err != nil {
		// Status may be unreadable for other users' processes; existence is enough.
		return true
	}
	return running
}

// GetCurrentPID returns the current process PID.
func (pi *ProcessInspectorImpl) GetCurrentPID() int {
	return os.Getpid()
}

// SystemClock implements domain.Clock with the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Ensure implementations satisfy their interfaces.
var (
	_ domain.ProcessInspector = (*ProcessInspectorImpl)(nil)
	_ domain.Clock            = SystemClock{}
)
