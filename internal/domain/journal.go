package domain

import "time"

// Level is the severity of a journal record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Record kinds used by the engines and hubs.
const (
	KindFeed      = "feed"
	KindFreshness = "freshness"
	KindRotation  = "rotation"
	KindReference = "reference"
	KindSkip      = "skip"
	KindCommit    = "commit"
	KindFill      = "fill"
	KindCross     = "cross"
	KindResolve   = "resolve"
	KindMismatch  = "mismatch"
	KindError     = "error"
)

// Record is one append-only telemetry line.
type Record struct {
	TS        time.Time      `json:"ts"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Kind      string         `json:"kind,omitempty"`
	Coin      string         `json:"coin,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}
