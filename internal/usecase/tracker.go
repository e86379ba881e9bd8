package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// OrphanedSessionEstimate is the length assumed for a session left open by a
// previous engine instance, since nothing records how long it really ran.
const OrphanedSessionEstimate = 30 * time.Second

// ErrUnknownEvent is returned for navigation events of an unknown kind.
var ErrUnknownEvent = errors.New("unknown navigation event")

// SessionTrackerImpl implements domain.SessionTracker.
// At most one session is open at a time; it is stored under activeSession.
type SessionTrackerImpl struct {
	engine *Engine
	logger *zap.Logger
}

// NewSessionTracker creates a session tracker on top of engine.
func NewSessionTracker(engine *Engine, logger *zap.Logger) *SessionTrackerImpl {
	return &SessionTrackerImpl{engine: engine, logger: logger}
}

// HandleEvent re-evaluates the active session for one browser event.
func (t *SessionTrackerImpl) HandleEvent(ctx context.Context, ev domain.NavEvent) error {
	switch ev.Kind {
	case domain.EventWindowFocusChanged:
		if ev.WindowID == domain.WindowIDNone {
			return t.closeActive(ctx)
		}
		return t.evaluate(ctx, ev.TabID, ev.URL)

	case domain.EventTabActivated:
		return t.evaluate(ctx, ev.TabID, ev.URL)

	case domain.EventNavigationCommitted:
		if ev.FrameID != 0 || !ev.Active {
			return nil
		}
		return t.evaluate(ctx, ev.TabID, ev.URL)

	case domain.EventTabRemoved:
		return t.tabRemoved(ctx, ev.TabID)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

// Recover closes a session left open by another engine instance.
func (t *SessionTrackerImpl) Recover(ctx context.Context) error {
	active, err := t.loadActive(ctx)
	if err != nil || active == nil {
		return err
	}
	if active.ProcessID == t.engine.ProcessID() {
		return nil
	}
	return t.close(ctx, *active, t.engine.Now())
}

// Stats sums session time per pattern within the retention window, including
// the time so far of a session this engine still has open.
func (t *SessionTrackerImpl) Stats(ctx context.Context) ([]domain.PatternStat, error) {
	now := t.engine.Now()
	sessions, err := load[[]domain.Session](ctx, t.engine.Store(), domain.KeySessions)
	if err != nil {
		return nil, err
	}
	sessions = Trim(sessions, now, RetentionWindow)

	byPattern := make(map[string]*domain.PatternStat)
	add := func(pattern string, d time.Duration) {
		st, ok := byPattern[pattern]
		if !ok {
			st = &domain.PatternStat{Pattern: pattern}
			byPattern[pattern] = st
		}
		st.Total += d
		st.Sessions++
	}
	for _, s := range sessions {
		add(s.Pattern, s.Duration())
	}

	active, err := t.loadActive(ctx)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ProcessID == t.engine.ProcessID() && now.Unix() > active.Start {
		add(active.Pattern, time.Duration(now.Unix()-active.Start)*time.Second)
	}

	stats := make([]domain.PatternStat, 0, len(byPattern))
	for _, st := range byPattern {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Total != stats[j].Total {
			return stats[i].Total > stats[j].Total
		}
		return stats[i].Pattern < stats[j].Pattern
	})
	return stats, nil
}

// evaluate moves the tracker to the pattern rawURL matches (or to Idle).
func (t *SessionTrackerImpl) evaluate(ctx context.Context, tabID int, rawURL string) error {
	now := t.engine.Now()
	pattern := t.patternFor(rawURL)

	active, err := t.loadActive(ctx)
	if err != nil {
		return err
	}

	if active != nil && active.ProcessID != t.engine.ProcessID() {
		if err := t.close(ctx, *active, now); err != nil {
			return err
		}
		active = nil
	}

	if active != nil {
		if pattern != "" && active.Pattern == pattern {
			if active.TabID != tabID {
				// Same site in another tab: keep the session, follow the tab.
				active.TabID = tabID
				return t.engine.Store().Set(ctx, domain.KeyActiveSession, active)
			}
			return nil
		}
		if err := t.close(ctx, *active, now); err != nil {
			return err
		}
	}

	if pattern == "" {
		return nil
	}

	session := &domain.ActiveSession{
		ProcessID: t.engine.ProcessID(),
		Pattern:   pattern,
		Start:     now.Unix(),
		TabID:     tabID,
	}
	if err := t.engine.Store().Set(ctx, domain.KeyActiveSession, session); err != nil {
		return fmt.Errorf("failed to save active session: %w", err)
	}
	t.logger.Debug("session started",
		zap.String("pattern", pattern),
		zap.Int("tab_id", tabID))
	return nil
}

func (t *SessionTrackerImpl) tabRemoved(ctx context.Context, tabID int) error {
	active, err := t.loadActive(ctx)
	if err != nil || active == nil {
		return err
	}
	if active.TabID != tabID && active.ProcessID == t.engine.ProcessID() {
		return nil
	}
	return t.close(ctx, *active, t.engine.Now())
}

func (t *SessionTrackerImpl) closeActive(ctx context.Context) error {
	active, err := t.loadActive(ctx)
	if err != nil || active == nil {
		return err
	}
	return t.close(ctx, *active, t.engine.Now())
}

// close appends s to the session log and clears the active session.
// A session opened by another process gets an estimated end, capped at now.
func (t *SessionTrackerImpl) close(ctx context.Context, s domain.ActiveSession, now time.Time) error {
	end := now.Unix()
	orphaned := s.ProcessID != t.engine.ProcessID()
	if orphaned {
		if estimate := s.Start + int64(OrphanedSessionEstimate/time.Second); estimate < end {
			end = estimate
		}
	}
	if end < s.Start {
		end = s.Start
	}

	store := t.engine.Store()
	entry := domain.Session{Pattern: s.Pattern, Start: s.Start, End: end, TS: now.Unix()}
	logErr := appendLog(ctx, store, domain.KeySessions, entry, now)
	if isUndecodable(logErr) {
		t.logger.Warn("session log unreadable, starting a new one", zap.Error(logErr))
		logErr = resetLog(ctx, store, domain.KeySessions, entry)
	}
	if logErr != nil {
		t.logger.Warn("closed session not recorded",
			zap.String("pattern", s.Pattern),
			zap.Error(logErr))
	}

	// Cleared even when the log write failed: a session must never stay open.
	if err := store.Set(ctx, domain.KeyActiveSession, nil); err != nil {
		return fmt.Errorf("failed to clear active session: %w", err)
	}

	t.logger.Debug("session closed",
		zap.String("pattern", s.Pattern),
		zap.Int64("seconds", end-s.Start),
		zap.Bool("orphaned", orphaned))
	return nil
}

func (t *SessionTrackerImpl) patternFor(rawURL string) string {
	if rawURL == "" || IsInternalURL(rawURL) {
		return ""
	}
	matchers := t.engine.Snapshot().Matchers
	idx, ok := matchers.FirstMatch(rawURL)
	if !ok {
		return ""
	}
	return matchers.PatternAt(idx)
}

func (t *SessionTrackerImpl) loadActive(ctx context.Context) (*domain.ActiveSession, error) {
	return load[*domain.ActiveSession](ctx, t.engine.Store(), domain.KeyActiveSession)
}

// Ensure SessionTrackerImpl implements domain.SessionTracker.
var _ domain.SessionTracker = (*SessionTrackerImpl)(nil)
