package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

func TestIsInternalURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"chrome://extensions", true},
		{"chrome-extension://abc/overlay.html", true},
		{"about:blank", true},
		{"EDGE://settings", true},
		{"moz-extension://id/page", true},
		{"https://reddit.com/", false},
		{"http://chrome.example.com/", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInternalURL(tt.url))
		})
	}
}

// TestDecide_TruthTable enumerates hard activation x match x strategy x routine state.
func TestDecide_TruthTable(t *testing.T) {
	type routineState int
	const (
		routineNone routineState = iota
		routineActive
		routineBurned
	)

	for _, activated := range []bool{false, true} {
		for _, matched := range []bool{false, true} {
			for _, strategy := range []domain.Strategy{domain.StrategySoft, domain.StrategyHard} {
				for _, routine := range []routineState{routineNone, routineActive, routineBurned} {
					name := fmt.Sprintf("activated=%v/matched=%v/strategy=%s/routine=%d", activated, matched, strategy, routine)
					t.Run(name, func(t *testing.T) {
						ctx := context.Background()
						engine, clock := newTestEngine(t, testConfig(domain.Site{Filter: "reddit.com", Strategy: strategy}))
						gate := NewGate(engine, zap.NewNop())
						exemptions := NewExemptionManager(engine, zap.NewNop())

						host, origin := "example.org", "https://example.org/"
						if matched {
							host, origin = "old.reddit.com", "https://old.reddit.com/r/golang"
						}

						switch routine {
						case routineActive:
							require.NoError(t, exemptions.RecordSoftRoutineActivation(ctx, engine.Snapshot().Config.SoftRoutines[0]))
							clock.Advance(100 * time.Second)
						case routineBurned:
							require.NoError(t, exemptions.RecordSoftRoutineActivation(ctx, engine.Snapshot().Config.SoftRoutines[0]))
							clock.Advance(5000 * time.Second)
						}
						if activated {
							require.NoError(t, exemptions.RecordHostActivation(ctx, host))
							clock.Advance(10 * time.Second)
						}

						want := activated || !matched || (strategy != domain.StrategyHard && routine == routineActive)

						got, err := gate.Decide(ctx, domain.DecisionRequest{Host: host, Origin: origin})
						require.NoError(t, err)
						assert.Equal(t, want, got.Access)
					})
				}
			}
		}
	}
}

func TestDecide_ActivationExpiresAtWindow(t *testing.T) {
	ctx := context.Background()
	engine, clock := newTestEngine(t, testConfig(domain.Site{Filter: "reddit.com", Strategy: domain.StrategyHard}))
	gate := NewGate(engine, zap.NewNop())
	exemptions := NewExemptionManager(engine, zap.NewNop())
	req := domain.DecisionRequest{Host: "reddit.com", Origin: "https://reddit.com/"}

	require.NoError(t, exemptions.RecordHostActivation(ctx, "reddit.com"))

	clock.Advance(299 * time.Second)
	d, err := gate.Decide(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Access, "one second before expiry")

	clock.Advance(time.Second)
	d, err = gate.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Access, "exactly at activation + timeSeconds")
}

func TestDecide_ActivationIsPerHost(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, testConfig(domain.Site{Filter: "reddit.com"}))
	gate := NewGate(engine, zap.NewNop())
	exemptions := NewExemptionManager(engine, zap.NewNop())

	require.NoError(t, exemptions.RecordHostActivation(ctx, "old.reddit.com"))

	d, err := gate.Decide(ctx, domain.DecisionRequest{Host: "www.reddit.com", Origin: "https://www.reddit.com/"})
	require.NoError(t, err)
	assert.False(t, d.Access)
}

func TestDecide_NotGated(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(domain.Site{Filter: "reddit.com", Strategy: domain.StrategyHard}))
	gate := NewGate(engine, zap.NewNop())

	tests := []struct {
		name string
		req  domain.DecisionRequest
	}{
		{"sub-frame", domain.DecisionRequest{Host: "reddit.com", Origin: "https://reddit.com/embed", FrameID: 7}},
		{"internal page", domain.DecisionRequest{Host: "extensions", Origin: "chrome://extensions/"}},
		{"sibling domain", domain.DecisionRequest{Host: "notreddit.com", Origin: "https://notreddit.com/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := gate.Decide(context.Background(), tt.req)
			require.NoError(t, err)
			assert.True(t, d.Access)
		})
	}
}

func TestDecide_OriginFallsBackToHost(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(domain.Site{Filter: "reddit.com"}))
	gate := NewGate(engine, zap.NewNop())

	d, err := gate.Decide(context.Background(), domain.DecisionRequest{Host: "reddit.com"})
	require.NoError(t, err)
	assert.False(t, d.Access)
}

func TestDecide_FirstMatchingSiteWins(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(
		domain.Site{Filter: "news.ycombinator.com", Strategy: domain.StrategyHard},
		domain.Site{Filter: "ycombinator.com", Strategy: domain.StrategySoft},
	))
	gate := NewGate(engine, zap.NewNop())
	exemptions := NewExemptionManager(engine, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, exemptions.RecordSoftRoutineActivation(ctx, engine.Snapshot().Config.SoftRoutines[0]))

	d, err := gate.Decide(ctx, domain.DecisionRequest{Host: "news.ycombinator.com", Origin: "https://news.ycombinator.com/"})
	require.NoError(t, err)
	assert.False(t, d.Access, "hard entry listed first")

	d, err = gate.Decide(ctx, domain.DecisionRequest{Host: "www.ycombinator.com", Origin: "https://www.ycombinator.com/"})
	require.NoError(t, err)
	assert.True(t, d.Access, "soft entry relieved by routine")
}

func TestDecide_StoreError(t *testing.T) {
	engine := NewEngineWithProcessID(&failingStore{err: errStorage}, newFakeClock(), zap.NewNop(), "p")
	gate := NewGate(engine, zap.NewNop())

	_, err := gate.Decide(context.Background(), domain.DecisionRequest{Host: "reddit.com", Origin: "https://reddit.com/"})
	assert.ErrorIs(t, err, errStorage)
}
