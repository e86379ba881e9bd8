// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/transport"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
)

// ManualClock is a domain.Clock moved forward by hand.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticInspector reports a fixed PID that is always running.
type staticInspector struct{ pid int }

func (s staticInspector) IsRunning(pid int) bool { return pid == s.pid }
func (s staticInspector) GetCurrentPID() int     { return s.pid }

// FakeBrowser plays the extension side of a native-messaging pipe against
// a Host running in the same process.
type FakeBrowser struct {
	Engine *usecase.Engine

	toHost  *io.PipeWriter
	writer  *transport.Writer
	reader  *transport.Reader
	done    chan error
	cancel  context.CancelFunc
	counter int
}

// StartFakeBrowser wires a Host over store and starts it. processID names the
// engine instance, as a browser restart would mint a new one.
func StartFakeBrowser(store domain.Store, clock domain.Clock, processID string) *FakeBrowser {
	ctx, cancel := context.WithCancel(context.Background())
	logger := zap.NewNop()

	engine := usecase.NewEngineWithProcessID(store, clock, logger, processID)
	gate := usecase.NewGate(engine, logger)
	exemptions := usecase.NewExemptionManager(engine, logger)
	dispatcher := usecase.NewDispatcher(gate, exemptions, engine, logger)
	tracker := usecase.NewSessionTracker(engine, logger)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	host := daemon.NewHost(daemon.DefaultHostConfig(), engine, dispatcher, tracker,
		staticInspector{pid: 1000}, inR, outW, logger)

	b := &FakeBrowser{
		Engine: engine,
		toHost: inW,
		writer: transport.NewWriter(inW),
		reader: transport.NewReader(outR),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		err := host.Run(ctx)
		_ = outW.Close()
		b.done <- err
	}()
	return b
}

// Request sends a request and waits for its reply.
func (b *FakeBrowser) Request(req usecase.Request) (transport.Reply, error) {
	b.counter++
	msg := transport.Message{ID: fmt.Sprintf("req-%d", b.counter), Request: req}
	if err := b.send(msg); err != nil {
		return transport.Reply{}, err
	}

	payload, err := b.reader.ReadFrame()
	if err != nil {
		return transport.Reply{}, err
	}
	var reply transport.Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return transport.Reply{}, err
	}
	if reply.ID != msg.ID {
		return reply, fmt.Errorf("reply id %q does not match request %q", reply.ID, msg.ID)
	}
	return reply, nil
}

// Status asks whether host may be shown at origin.
func (b *FakeBrowser) Status(host, origin string) (bool, error) {
	reply, err := b.Request(usecase.Request{Action: usecase.ActionStatus, Host: host, Origin: origin})
	if err != nil {
		return false, err
	}
	if reply.Error != "" {
		return false, fmt.Errorf("status failed: %s", reply.Error)
	}
	return reply.Access != nil && *reply.Access, nil
}

// Event sends a navigation event and waits until the host has processed it.
func (b *FakeBrowser) Event(ev domain.NavEvent) error {
	if err := b.send(transport.Message{Event: &ev}); err != nil {
		return err
	}
	// Frames are handled in order: a round trip proves the event went first.
	_, err := b.Request(usecase.Request{Action: usecase.ActionConfig})
	return err
}

// Close closes the pipe like a browser shutting down and waits for the host.
func (b *FakeBrowser) Close() error {
	_ = b.toHost.Close()
	select {
	case err := <-b.done:
		return err
	case <-time.After(5 * time.Second):
		b.cancel()
		return fmt.Errorf("host did not stop")
	}
}

// Kill stops the host without the shutdown path, like a crash.
func (b *FakeBrowser) Kill() {
	b.cancel()
	<-b.done
	_ = b.toHost.Close()
}

func (b *FakeBrowser) send(msg transport.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.writer.WriteFrame(payload)
}
