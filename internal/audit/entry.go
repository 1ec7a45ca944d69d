// Package audit records every timed combat action with expected-vs-actual
// delays, keeps bounded in-memory history, flushes to durable storage on an
// interval, and runs shadow comparisons between timing providers. Nothing in
// this package may affect gameplay: every failure is caught, logged, and
// discarded.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Level controls how much detail audit entries carry.
type Level int

const (
	LevelOff Level = iota
	LevelStandard
	LevelDetailed
)

// String returns the configuration name of the Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelStandard:
		return "standard"
	case LevelDetailed:
		return "detailed"
	default:
		return "unknown"
	}
}

// ParseLevel converts a configuration string into a Level.
//
// Postcondition: Returns a valid Level or a non-nil error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return LevelOff, nil
	case "standard":
		return LevelStandard, nil
	case "detailed":
		return LevelDetailed, nil
	default:
		return LevelOff, fmt.Errorf("unknown audit level %q", s)
	}
}

// Entry is one immutable observation of a timed action. Created at the point
// of observation, never mutated afterwards; serialized as one NDJSON line.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	ActorID    string         `json:"actor_id"`
	ActorName  string         `json:"actor_name,omitempty"`
	ActionType string         `json:"action_type"`
	Provider   string         `json:"provider"`
	ExpectedMs int64          `json:"expected_ms"`
	ActualMs   int64          `json:"actual_ms"`
	VarianceMs int64          `json:"variance_ms"`
	WeaponID   string         `json:"weapon_id"`
	WeaponName string         `json:"weapon_name"`
	Quickness  int            `json:"quickness"`
	Detail     map[string]any `json:"detail,omitempty"`
	Level      string         `json:"level"`
}
