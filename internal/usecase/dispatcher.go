package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// Action names a request from the rendering surface.
type Action string

const (
	ActionStatus           Action = "status"
	ActionHostActivated    Action = "hostActivated"
	ActionInterception     Action = "interception"
	ActionStartSoftRoutine Action = "startSoftRoutine"
	ActionPeekOnce         Action = "peekOnce"
	ActionRoutines         Action = "routines"
	ActionConfig           Action = "config"
)

var (
	// ErrUnknownAction means the caller and the engine disagree on the protocol.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidRequest is returned when a required request field is missing.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request is one message from the rendering surface.
type Request struct {
	Action  Action              `json:"action"`
	Host    string              `json:"host,omitempty"`
	Origin  string              `json:"origin,omitempty"`
	Path    string              `json:"path,omitempty"`
	FrameID int                 `json:"frameId,omitempty"`
	Routine *domain.SoftRoutine `json:"routine,omitempty"`
}

// Response is the answer to a Request. Fire-and-forget actions return an empty response.
type Response struct {
	Access   *bool                  `json:"access,omitempty"`
	Routines []domain.RoutineStatus `json:"routines,omitempty"`
	Config   *domain.Config         `json:"config,omitempty"`
}

// Dispatcher routes requests to the gate and the exemption manager.
type Dispatcher struct {
	gate       domain.Gate
	exemptions domain.ExemptionManager
	engine     *Engine
	logger     *zap.Logger
}

// NewDispatcher creates a request dispatcher.
func NewDispatcher(gate domain.Gate, exemptions domain.ExemptionManager, engine *Engine, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gate:       gate,
		exemptions: exemptions,
		engine:     engine,
		logger:     logger,
	}
}

// Handle executes one request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Response, error) {
	switch req.Action {
	case ActionStatus:
		decision, err := d.gate.Decide(ctx, domain.DecisionRequest{
			Host:    req.Host,
			Origin:  req.Origin,
			FrameID: req.FrameID,
		})
		if err != nil {
			return Response{}, err
		}
		return Response{Access: &decision.Access}, nil

	case ActionHostActivated:
		return Response{}, d.exemptions.RecordHostActivation(ctx, req.Host)

	case ActionInterception:
		if req.Host == "" {
			return Response{}, fmt.Errorf("%w: interception without host", ErrInvalidRequest)
		}
		now := d.engine.Now()
		return Response{}, appendLog(ctx, d.engine.Store(), domain.KeyInterceptions,
			domain.Interception{Host: req.Host, TS: now.Unix()}, now)

	case ActionStartSoftRoutine:
		if req.Routine == nil || req.Routine.Label == "" {
			return Response{}, fmt.Errorf("%w: startSoftRoutine without routine", ErrInvalidRequest)
		}
		return Response{}, d.exemptions.RecordSoftRoutineActivation(ctx, *req.Routine)

	case ActionPeekOnce:
		if req.Host == "" {
			return Response{}, fmt.Errorf("%w: peekOnce without host", ErrInvalidRequest)
		}
		now := d.engine.Now()
		return Response{}, appendLog(ctx, d.engine.Store(), domain.KeyPeeks,
			domain.Peek{Host: req.Host, Path: req.Path, TS: now.Unix()}, now)

	case ActionRoutines:
		routines, err := d.exemptions.RoutineAvailability(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Routines: routines}, nil

	case ActionConfig:
		cfg := d.engine.Snapshot().Config
		return Response{Config: &cfg}, nil

	default:
		d.logger.Error("unknown request action", zap.String("action", string(req.Action)))
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}
