package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// internalSchemes are browser-owned pages that are never gated.
var internalSchemes = []string{
	"about:",
	"brave:",
	"chrome:",
	"chrome-extension:",
	"chrome-search:",
	"chrome-untrusted:",
	"devtools:",
	"edge:",
	"moz-extension:",
	"opera:",
	"view-source:",
	"vivaldi:",
}

// IsInternalURL reports whether rawURL is a browser-internal page.
func IsInternalURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, s := range internalSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// GateImpl implements domain.Gate.
type GateImpl struct {
	engine *Engine
	logger *zap.Logger
}

// NewGate creates the access decision engine.
func NewGate(engine *Engine, logger *zap.Logger) *GateImpl {
	return &GateImpl{engine: engine, logger: logger}
}

// Decide returns whether the page may be shown. The first rule that applies wins:
//  1. the host holds an unexpired hard activation: allow
//  2. internal pages and sub-frames are not matched
//  3. no site matches: allow
//  4. the matched site is "hard": deny, soft routines never relieve it
//  5. a soft routine grants access: allow
//  6. deny
func (g *GateImpl) Decide(ctx context.Context, req domain.DecisionRequest) (domain.Decision, error) {
	snap := g.engine.Snapshot()
	now := g.engine.Now()
	store := g.engine.Store()

	times, err := load[map[string]int64](ctx, store, domain.KeyActivationTimes)
	if err != nil {
		return domain.Decision{}, err
	}
	window := time.Duration(snap.Config.Activation.TimeSeconds) * time.Second
	if HostExempt(times, req.Host, window, now) {
		g.logDecision(req, "", "hard activation", true)
		return domain.Decision{Access: true}, nil
	}

	origin := req.Origin
	if origin == "" && req.Host != "" {
		// Older content scripts only send the host.
		origin = "https://" + req.Host + "/"
	}

	if req.FrameID != 0 || IsInternalURL(origin) {
		g.logDecision(req, "", "not gated", true)
		return domain.Decision{Access: true}, nil
	}

	idx, ok := snap.Matchers.FirstMatch(origin)
	if !ok {
		g.logDecision(req, "", "no site matched", true)
		return domain.Decision{Access: true}, nil
	}
	pattern := snap.Matchers.PatternAt(idx)

	if snap.Matchers.Site(idx).Strategy == domain.StrategyHard {
		g.logDecision(req, pattern, "hard strategy", false)
		return domain.Decision{Access: false}, nil
	}

	statuses, err := load[map[string]int64](ctx, store, domain.KeySoftRoutineStatuses)
	if err != nil {
		return domain.Decision{}, err
	}
	for _, r := range snap.Config.SoftRoutines {
		if RoutineActiveGrant(r, statuses, now) {
			g.logDecision(req, pattern, "soft routine "+r.Label, true)
			return domain.Decision{Access: true}, nil
		}
	}

	g.logDecision(req, pattern, "blocked", false)
	return domain.Decision{Access: false}, nil
}

func (g *GateImpl) logDecision(req domain.DecisionRequest, pattern, reason string, access bool) {
	g.logger.Debug("access decision",
		zap.String("host", req.Host),
		zap.String("pattern", pattern),
		zap.String("reason", reason),
		zap.Bool("access", access))
}

// Ensure GateImpl implements domain.Gate.
var _ domain.Gate = (*GateImpl)(nil)
