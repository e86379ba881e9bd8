// Package daemon implements the native-messaging host loop started by the browser.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/transport"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
)

// HostConfig holds host loop configuration.
type HostConfig struct {
	HeartbeatInterval time.Duration // How often to refresh the instance record
	Version           string        // Reported in the instance record
}

// DefaultHostConfig returns default host configuration.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		HeartbeatInterval: 30 * time.Second,
	}
}

// Host serves the browser extension over one native-messaging pipe.
// Requests are answered in arrival order; navigation events feed the session
// tracker and get no reply. Writes to the config key, from this process or
// another one, trigger a snapshot refresh.
type Host struct {
	config     HostConfig
	engine     *usecase.Engine
	dispatcher *usecase.Dispatcher
	tracker    domain.SessionTracker
	processes  domain.ProcessInspector
	reader     *transport.Reader
	writer     *transport.Writer
	logger     *zap.Logger
	startedAt  int64
}

// NewHost creates a host reading frames from in and writing replies to out.
func NewHost(
	config HostConfig,
	engine *usecase.Engine,
	dispatcher *usecase.Dispatcher,
	tracker domain.SessionTracker,
	processes domain.ProcessInspector,
	in io.Reader,
	out io.Writer,
	logger *zap.Logger,
) *Host {
	return &Host{
		config:     config,
		engine:     engine,
		dispatcher: dispatcher,
		tracker:    tracker,
		processes:  processes,
		reader:     transport.NewReader(in),
		writer:     transport.NewWriter(out),
		logger:     logger,
	}
}

type inbound struct {
	msg *transport.Message
	err error
}

// Run serves until the browser closes the pipe (returns nil) or ctx is
// canceled (returns ctx.Err()).
func (h *Host) Run(ctx context.Context) error {
	if err := h.engine.Refresh(ctx); err != nil {
		h.logger.Warn("initial config refresh failed", zap.Error(err))
	}
	if err := h.tracker.Recover(ctx); err != nil {
		h.logger.Warn("failed to recover orphaned session", zap.Error(err))
	}

	h.startedAt = h.engine.Now().Unix()
	h.heartbeat(ctx)

	h.logger.Info("native messaging host started",
		zap.String("process_id", h.engine.ProcessID()),
		zap.Int("pid", h.processes.GetCurrentPID()))

	frames := make(chan inbound)
	go h.readLoop(ctx, frames)

	heartbeatTicker := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	changes := h.engine.Store().Changes()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("native messaging host stopping")
			return ctx.Err()

		case in := <-frames:
			if in.err != nil {
				if errors.Is(in.err, io.EOF) {
					h.logger.Info("browser closed the pipe")
					h.shutdown(ctx)
					return nil
				}
				if isSkippable(in.err) {
					h.logger.Warn("dropping unusable frame", zap.Error(in.err))
					continue
				}
				h.logger.Error("failed to read frame", zap.Error(in.err))
				h.shutdown(ctx)
				return in.err
			}
			h.handle(ctx, in.msg)

		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.Key == domain.KeyConfig {
				if err := h.engine.Refresh(ctx); err != nil {
					h.logger.Warn("config refresh failed", zap.Error(err))
				}
			}

		case <-heartbeatTicker.C:
			h.heartbeat(ctx)
		}
	}
}

func (h *Host) readLoop(ctx context.Context, frames chan<- inbound) {
	for {
		msg, err := h.reader.ReadMessage()
		select {
		case frames <- inbound{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !isSkippable(err) {
			return
		}
	}
}

// isSkippable reports whether err left the stream aligned on the next frame:
// an empty frame, or bad JSON in a well-formed one.
func isSkippable(err error) bool {
	if errors.Is(err, transport.ErrEmptyMessage) {
		return true
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (h *Host) handle(ctx context.Context, msg *transport.Message) {
	if msg.IsEvent() {
		if err := h.tracker.HandleEvent(ctx, *msg.Event); err != nil {
			h.logger.Warn("failed to handle navigation event",
				zap.String("kind", string(msg.Event.Kind)),
				zap.Error(err))
		}
		return
	}

	reply := transport.Reply{ID: msg.ID}
	resp, err := h.dispatcher.Handle(ctx, msg.Request)
	if err != nil {
		// The rendering surface stays blocked when it gets no access answer.
		h.logger.Warn("request failed",
			zap.String("action", string(msg.Action)),
			zap.Error(err))
		reply.Error = err.Error()
	} else {
		reply.Response = resp
	}

	if err := h.writer.WriteReply(reply); err != nil {
		h.logger.Error("failed to write reply", zap.Error(err))
	}
}

// shutdown closes the session the browser can no longer report on.
func (h *Host) shutdown(ctx context.Context) {
	ev := domain.NavEvent{Kind: domain.EventWindowFocusChanged, WindowID: domain.WindowIDNone}
	if err := h.tracker.HandleEvent(ctx, ev); err != nil {
		h.logger.Warn("failed to close active session", zap.Error(err))
	}
}

func (h *Host) heartbeat(ctx context.Context) {
	record := domain.InstanceRecord{
		PID:           h.processes.GetCurrentPID(),
		ProcessID:     h.engine.ProcessID(),
		AppVersion:    h.config.Version,
		StartedAt:     h.startedAt,
		LastHeartbeat: h.engine.Now().Unix(),
	}
	if err := h.engine.Store().Set(ctx, domain.KeyInstance, record); err != nil {
		h.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
}
