// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"encoding/json"
	"time"
)

// Strategy controls whether a blocked site can be relieved by a soft routine.
type Strategy string

const (
	// StrategyDefault is used when a site has no explicit strategy (soft-exemptible).
	StrategyDefault Strategy = ""
	StrategySoft    Strategy = "soft"
	StrategyHard    Strategy = "hard"
)

// Site is one entry of the user's block list.
type Site struct {
	Filter   string   `json:"filter" yaml:"filter" toml:"filter"`
	Strategy Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty" toml:"strategy,omitempty"`
}

// ActivationConfig configures the hold-to-dismiss ritual.
type ActivationConfig struct {
	HoldSeconds int `json:"holdSeconds" yaml:"holdSeconds" toml:"holdSeconds"`
	TimeSeconds int `json:"timeSeconds" yaml:"timeSeconds" toml:"timeSeconds"`
}

// SoftRoutine is a named, reusable exemption.
// Duration is the grant window, ResetTime the cooldown before it can be reused.
// Both are in seconds and Duration <= ResetTime is expected of the config editor.
type SoftRoutine struct {
	Label     string `json:"label" yaml:"label" toml:"label"`
	Duration  int64  `json:"duration" yaml:"duration" toml:"duration"`
	ResetTime int64  `json:"resetTime" yaml:"resetTime" toml:"resetTime"`
}

// Config is the validated gate configuration. Read-only to the engine.
type Config struct {
	Activation   ActivationConfig `json:"activation" yaml:"activation" toml:"activation"`
	Sites        []Site           `json:"sites" yaml:"sites" toml:"sites"`
	SoftRoutines []SoftRoutine    `json:"softRoutines" yaml:"softRoutines" toml:"softRoutines"`

	// Extra holds top-level keys this version does not know. They are written
	// back untouched so settings owned by the extension survive a merge.
	Extra map[string]json.RawMessage `json:"-" yaml:"-" toml:"-"`
}

// MarshalJSON encodes the known fields and then any Extra keys they do not shadow.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config
	data, err := json.Marshal(plain(c))
	if err != nil || len(c.Extra) == 0 {
		return data, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if _, known := fields[k]; !known {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// Filters returns the site filters in declaration order.
func (c *Config) Filters() []string {
	filters := make([]string, len(c.Sites))
	for i, s := range c.Sites {
		filters[i] = s.Filter
	}
	return filters
}

// ActiveSession is the singleton attention session currently being tracked.
// ProcessID tags the engine instance that opened it.
type ActiveSession struct {
	ProcessID string `json:"processId"`
	Pattern   string `json:"pattern"`
	Start     int64  `json:"start"`
	TabID     int    `json:"tabId"`
}

// Timestamped is implemented by every append-only log entry.
type Timestamped interface {
	Timestamp() int64
}

// Session is a closed attention session.
type Session struct {
	Pattern string `json:"pattern"`
	Start   int64  `json:"start"`
	End     int64  `json:"end"`
	TS      int64  `json:"ts"`
}

func (s Session) Timestamp() int64 { return s.TS }

// Duration returns the session length.
func (s Session) Duration() time.Duration {
	if s.End <= s.Start {
		return 0
	}
	return time.Duration(s.End-s.Start) * time.Second
}

// Activation records a completed hard-dismissal ritual.
type Activation struct {
	Host string `json:"host"`
	TS   int64  `json:"ts"`
}

func (a Activation) Timestamp() int64 { return a.TS }

// Interception records the overlay being shown on a host.
type Interception struct {
	Host string `json:"host"`
	TS   int64  `json:"ts"`
}

func (i Interception) Timestamp() int64 { return i.TS }

// Peek records a one-time look through the overlay.
type Peek struct {
	Host string `json:"host"`
	Path string `json:"path"`
	TS   int64  `json:"ts"`
}

func (p Peek) Timestamp() int64 { return p.TS }

// Decision is the answer to a status request.
type Decision struct {
	Access bool `json:"access"`
}

// DecisionRequest asks whether a page may be shown.
// FrameID is 0 for the top-level document of a tab.
type DecisionRequest struct {
	Host    string
	Origin  string
	FrameID int
}

// RoutineState is the availability of a soft routine at a point in time.
type RoutineState string

const (
	RoutineAvailable RoutineState = "available"
	RoutineActive    RoutineState = "active"
	RoutineBurned    RoutineState = "burned"
)

// RoutineStatus describes one configured routine for display.
type RoutineStatus struct {
	Routine   SoftRoutine  `json:"routine"`
	State     RoutineState `json:"state"`
	Remaining int64        `json:"remaining"` // seconds until the state changes, 0 when available
}

// NavEventKind identifies a navigation/focus event from the browser.
type NavEventKind string

const (
	EventWindowFocusChanged  NavEventKind = "windowFocusChanged"
	EventTabActivated        NavEventKind = "tabActivated"
	EventNavigationCommitted NavEventKind = "navigationCommitted"
	EventTabRemoved          NavEventKind = "tabRemoved"
)

// WindowIDNone is the window id reported when the browser lost OS focus.
const WindowIDNone = -1

// NavEvent is a tab or window event. URL and TabID describe the tab the event
// concerns; for window focus changes they describe the active tab of the
// newly focused window. Active reports whether a committed navigation
// happened in the active tab of the focused window.
type NavEvent struct {
	Kind     NavEventKind `json:"kind"`
	TabID    int          `json:"tabId"`
	WindowID int          `json:"windowId"`
	FrameID  int          `json:"frameId"`
	URL      string       `json:"url"`
	Active   bool         `json:"active"`
}

// InstanceRecord is the heartbeat record of the running host process.
type InstanceRecord struct {
	PID           int    `json:"pid"`
	ProcessID     string `json:"processId"`
	AppVersion    string `json:"appVersion,omitempty"`
	StartedAt     int64  `json:"startedAt"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
}

// PatternStat is the time spent on one site pattern.
type PatternStat struct {
	Pattern  string
	Total    time.Duration
	Sessions int
}
