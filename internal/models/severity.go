package models

import (
	"fmt"
	"strings"
)

// Severity is the ordinal classification of a tracker accumulator.
type Severity int

const (
	// SeverityNone means the accumulator is below its threshold.
	SeverityNone Severity = iota
	// SeverityLow means accumulator/threshold >= 1.0
	SeverityLow
	// SeverityMedium means accumulator/threshold >= 1.5
	SeverityMedium
	// SeverityHigh means accumulator/threshold >= 2.0
	SeverityHigh
)

// Ratio thresholds used by Classify.
const (
	RatioLow    = 1.0
	RatioMedium = 1.5
	RatioHigh   = 2.0
)

// Classify maps an accumulator to a severity using fixed ratios of threshold.
// A non-positive threshold always classifies as SeverityNone.
func Classify(accumulator, threshold float64) Severity {
	if threshold <= 0 {
		return SeverityNone
	}
	ratio := accumulator / threshold
	switch {
	case ratio >= RatioHigh:
		return SeverityHigh
	case ratio >= RatioMedium:
		return SeverityMedium
	case ratio >= RatioLow:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// String returns a string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseSeverity parses a severity name (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return SeverityNone, nil
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return SeverityNone, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText encodes the severity by name so JSON and YAML stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
