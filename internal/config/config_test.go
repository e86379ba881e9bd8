package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 5, cfg.Activation.HoldSeconds)
	assert.Equal(t, 300, cfg.Activation.TimeSeconds)
	assert.NotEmpty(t, cfg.Sites)
	require.Len(t, cfg.SoftRoutines, 3)
	assert.Equal(t, "Lunch", cfg.SoftRoutines[0].Label)
	assert.Equal(t, int64(1800), cfg.SoftRoutines[0].Duration)
	assert.Equal(t, int64(72000), cfg.SoftRoutines[0].ResetTime)
	require.NoError(t, Validate(cfg))
}

func TestDefaults_ReturnsCopy(t *testing.T) {
	cfg := Defaults()
	cfg.Sites[0].Filter = "mutated.example"

	assert.NotEqual(t, "mutated.example", Defaults().Sites[0].Filter)
}

func TestEnrich(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantChanged bool
		check       func(t *testing.T, cfg domain.Config)
	}{
		{
			name:        "empty object gets defaults",
			raw:         `{}`,
			wantChanged: true,
			check: func(t *testing.T, cfg domain.Config) {
				assert.Equal(t, Defaults(), cfg)
			},
		},
		{
			name:        "garbage self-heals",
			raw:         `not json`,
			wantChanged: true,
			check: func(t *testing.T, cfg domain.Config) {
				assert.Equal(t, Defaults(), cfg)
			},
		},
		{
			name:        "partial activation merged per field",
			raw:         `{"activation":{"timeSeconds":60}}`,
			wantChanged: true,
			check: func(t *testing.T, cfg domain.Config) {
				assert.Equal(t, 5, cfg.Activation.HoldSeconds)
				assert.Equal(t, 60, cfg.Activation.TimeSeconds)
			},
		},
		{
			name:        "bad field type falls back alone",
			raw:         `{"activation":{"holdSeconds":"x","timeSeconds":90},"sites":[{"filter":"a.com"}]}`,
			wantChanged: true,
			check: func(t *testing.T, cfg domain.Config) {
				assert.Equal(t, 5, cfg.Activation.HoldSeconds)
				assert.Equal(t, 90, cfg.Activation.TimeSeconds)
				assert.Equal(t, []domain.Site{{Filter: "a.com"}}, cfg.Sites)
			},
		},
		{
			name:        "empty site list is kept",
			raw:         `{"sites":[]}`,
			wantChanged: true,
			check: func(t *testing.T, cfg domain.Config) {
				assert.Empty(t, cfg.Sites)
				assert.NotNil(t, cfg.Sites)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, changed := Enrich([]byte(tt.raw))
			assert.Equal(t, tt.wantChanged, changed)
			tt.check(t, cfg)
		})
	}
}

func TestEnrich_CompleteConfigUnchanged(t *testing.T) {
	want := domain.Config{
		Activation:   domain.ActivationConfig{HoldSeconds: 3, TimeSeconds: 120},
		Sites:        []domain.Site{{Filter: "x.com", Strategy: domain.StrategyHard}, {Filter: "y.com"}},
		SoftRoutines: []domain.SoftRoutine{{Label: "Tea", Duration: 600, ResetTime: 3600}},
	}
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	cfg, changed := Enrich(raw)

	assert.False(t, changed)
	assert.Equal(t, want, cfg)

	// Second pass over the written-back value is stable.
	again, err := json.Marshal(cfg)
	require.NoError(t, err)
	_, changed = Enrich(again)
	assert.False(t, changed)
}

func TestEnrich_KeyOrderIgnored(t *testing.T) {
	raw := `{"softRoutines":[{"resetTime":3600,"label":"Tea","duration":600}],
		"sites":[{"filter":"y.com"}],
		"activation":{"timeSeconds":120,"holdSeconds":3}}`

	_, changed := Enrich([]byte(raw))

	assert.False(t, changed)
}

func TestEnrich_KeepsUnknownKeys(t *testing.T) {
	raw := `{"activation":{"holdSeconds":3,"timeSeconds":120},
		"sites":[{"filter":"y.com"}],
		"softRoutines":[],
		"personality":{"tone":"stern"},
		"theme":"dark"}`

	cfg, changed := Enrich([]byte(raw))

	assert.False(t, changed, "unknown keys alone must not trigger a write-back")
	assert.JSONEq(t, `{"tone":"stern"}`, string(cfg.Extra["personality"]))
	assert.JSONEq(t, `"dark"`, string(cfg.Extra["theme"]))

	written, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(written))
}

func TestEnrich_UnknownKeysSurviveHealing(t *testing.T) {
	cfg, changed := Enrich([]byte(`{"personality":"kind","activation":"bogus"}`))

	assert.True(t, changed)
	assert.Equal(t, Defaults().Activation, cfg.Activation)

	written, err := json.Marshal(cfg)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(written, &fields))
	assert.JSONEq(t, `"kind"`, string(fields["personality"]))
	assert.JSONEq(t, `{"holdSeconds":5,"timeSeconds":300}`, string(fields["activation"]))
}

func TestConfigMarshal_KnownFieldsWin(t *testing.T) {
	cfg := Defaults()
	cfg.Extra = map[string]json.RawMessage{"sites": json.RawMessage(`"shadowed"`)}

	written, err := json.Marshal(cfg)
	require.NoError(t, err)

	var back domain.Config
	require.NoError(t, json.Unmarshal(written, &back))
	assert.Equal(t, Defaults().Sites, back.Sites)
}
