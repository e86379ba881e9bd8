// Package config provides the default gate configuration and merges stored
// configuration against it field by field.
package config

import (
	"bytes"
	"encoding/json"

	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
)

// DefaultSites is the block list used until the user configures one.
var DefaultSites = []domain.Site{
	{Filter: "reddit.com"},
	{Filter: "youtube.com"},
	{Filter: "twitter.com"},
	{Filter: "x.com"},
	{Filter: "facebook.com"},
	{Filter: "instagram.com"},
	{Filter: "news.ycombinator.com"},
}

// DefaultSoftRoutines are the routines offered out of the box.
var DefaultSoftRoutines = []domain.SoftRoutine{
	{Label: "Lunch", Duration: 30 * 60, ResetTime: 20 * 60 * 60},
	{Label: "Dinner", Duration: 45 * 60, ResetTime: 20 * 60 * 60},
	{Label: "Relax moment", Duration: 2 * 60 * 60, ResetTime: 20 * 60 * 60},
}

// Defaults returns a fresh copy of the default configuration.
func Defaults() domain.Config {
	return domain.Config{
		Activation: domain.ActivationConfig{
			HoldSeconds: 5,
			TimeSeconds: 5 * 60,
		},
		Sites:        append([]domain.Site(nil), DefaultSites...),
		SoftRoutines: append([]domain.SoftRoutine(nil), DefaultSoftRoutines...),
	}
}

// knownFields are the top-level keys Enrich merges. Any other key is carried
// through in Config.Extra.
var knownFields = map[string]bool{
	"activation":   true,
	"sites":        true,
	"softRoutines": true,
}

// Enrich merges a stored configuration against Defaults. Fields that are
// missing or cannot be decoded fall back to their default; the rest are kept.
// changed reports whether the merged result differs from raw, i.e. whether
// it should be written back.
func Enrich(raw []byte) (cfg domain.Config, changed bool) {
	cfg = Defaults()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return cfg, true
	}

	if v, ok := fields["activation"]; ok {
		var act map[string]json.RawMessage
		if err := json.Unmarshal(v, &act); err == nil {
			decodeField(act, "holdSeconds", &cfg.Activation.HoldSeconds)
			decodeField(act, "timeSeconds", &cfg.Activation.TimeSeconds)
		}
	}

	var sites []domain.Site
	if decodeField(fields, "sites", &sites) && sites != nil {
		cfg.Sites = sites
	}

	var routines []domain.SoftRoutine
	if decodeField(fields, "softRoutines", &routines) && routines != nil {
		cfg.SoftRoutines = routines
	}

	for k, v := range fields {
		if knownFields[k] {
			continue
		}
		if cfg.Extra == nil {
			cfg.Extra = make(map[string]json.RawMessage)
		}
		cfg.Extra[k] = v
	}

	return cfg, !sameJSON(raw, cfg)
}

// decodeField decodes fields[name] into dst, leaving dst untouched on failure.
func decodeField[T any](fields map[string]json.RawMessage, name string, dst *T) bool {
	v, ok := fields[name]
	if !ok {
		return false
	}
	var out T
	if err := json.Unmarshal(v, &out); err != nil {
		return false
	}
	*dst = out
	return true
}

// sameJSON compares raw with the encoding of v independently of key order.
func sameJSON(raw []byte, v any) bool {
	encoded, err := json.Marshal(v)
	if err != nil {
		return false
	}
	a, errA := canonical(raw)
	b, errB := canonical(encoded)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func canonical(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
