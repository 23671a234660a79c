package classify

import (
	"fmt"
	"strings"
)

// Severity is the level assigned to a single log line
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// Verdict is the health of a service over a window of lines.
// Values are ordered, a greater value is more severe.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictWarning
	VerdictError
	VerdictCritical
)

func (v Verdict) String() string {
	switch v {
	case VerdictWarning:
		return "WARNING"
	case VerdictError:
		return "ERROR"
	case VerdictCritical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// ParseVerdict parses a verdict name case-insensitively
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK":
		return VerdictOK, nil
	case "WARNING":
		return VerdictWarning, nil
	case "ERROR":
		return VerdictError, nil
	case "CRITICAL":
		return VerdictCritical, nil
	}
	return VerdictOK, fmt.Errorf("unknown verdict %q", s)
}
