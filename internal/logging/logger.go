// Package logging provides leveled logging and the intervention decision
// trace for nudgeloop. It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger writing one JSONL line per gate decision (decisions.jsonl)
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-event logging.
const LevelTrace = slog.LevelDebug - 4

// DecisionsFile is the decision trace file name.
const DecisionsFile = "decisions.jsonl"

// ParseLevel maps a level name to a slog.Level.
// Supported values: "trace", "debug", "info", "warn" (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ValidFormat reports whether format is a supported handler format.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case "", "text", "json":
		return true
	}
	return false
}

// NewLogger creates a leveled slog.Logger writing to w in "text" (default)
// or "json" format. Unknown levels fall back to info.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	lvl, _ := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Decision is one gate decision in the intervention pipeline.
type Decision struct {
	Action       string        `json:"action"` // scheduled, suppressed, replaced, fired, notify_failed
	Intervention string        `json:"intervention,omitempty"`
	CooldownKey  string        `json:"cooldown_key,omitempty"`
	Source       string        `json:"source,omitempty"` // behavior kind or insight type
	Severity     string        `json:"severity,omitempty"`
	Delay        time.Duration `json:"delay_ns,omitempty"`
	NextAllowed  time.Time     `json:"next_allowed,omitzero"`
	Error        string        `json:"error,omitempty"`
}

// DecisionLogger writes decisions as JSONL. It is safe for concurrent use.
// A nil DecisionLogger is valid; all methods are no-ops on a nil receiver.
type DecisionLogger struct {
	mu      sync.Mutex
	w       io.Writer
	closer  io.Closer
	nowFunc func() time.Time
}

// NewDecisionLogger creates a decision logger appending to dir/decisions.jsonl.
// Below debug verbosity (info, warn) it returns nil and no file is created.
// It also returns nil if the file cannot be opened.
func NewDecisionLogger(dir, level string) *DecisionLogger {
	lvl, _ := ParseLevel(level)
	if lvl > slog.LevelDebug {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, DecisionsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &DecisionLogger{w: f, closer: f, nowFunc: time.Now}
}

// NewDecisionWriter creates a decision logger writing to w.
func NewDecisionWriter(w io.Writer) *DecisionLogger {
	return &DecisionLogger{w: w, nowFunc: time.Now}
}

// SetClock replaces the clock used for the "time" field.
func (dl *DecisionLogger) SetClock(now func() time.Time) {
	if dl == nil {
		return
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.nowFunc = now
}

type decisionLine struct {
	Time string `json:"time"`
	Decision
}

// Record writes d as a single JSONL line with a "time" field.
func (dl *DecisionLogger) Record(d Decision) {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.w == nil {
		return
	}
	data, err := json.Marshal(decisionLine{
		Time:     dl.nowFunc().UTC().Format(time.RFC3339Nano),
		Decision: d,
	})
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = dl.w.Write(data)
}

// Close closes the underlying file, if any.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.closer != nil {
		dl.closer.Close()
	}
	dl.w = nil
	dl.closer = nil
}
