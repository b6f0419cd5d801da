package store

import "strings"

// Severity orders findings for the poller's min-severity filter, per
// spec.md §4.5: info=0 < low=1 < medium=2 < high=3.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

// String returns the lowercase label used in config and log fields.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "info"
	}
}

// ParseSeverity maps a label to a Severity, defaulting to info for any
// unrecognized value (spec.md §4.2 InvalidSeverity: "recovered locally by
// defaulting to 0/info").
func ParseSeverity(label string) Severity {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	default:
		return SeverityInfo
	}
}

// DeriveSeverity classifies a finding from its free-form context tag by
// case-insensitive substring match. Precedence for contexts naming more
// than one vulnerability class is ssti > sqli > xss > other (spec.md §9
// open question, resolved in SPEC_FULL.md §5).
func DeriveSeverity(context *string) Severity {
	if context == nil {
		return SeverityInfo
	}
	ctx := strings.ToLower(*context)
	switch {
	case strings.Contains(ctx, "ssti"):
		return SeverityHigh
	case strings.Contains(ctx, "sqli"):
		return SeverityHigh
	case strings.Contains(ctx, "xss"):
		return SeverityMedium
	default:
		return SeverityInfo
	}
}
