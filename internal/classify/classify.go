// Package classify assigns severities to individual log lines.
package classify

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Line is a log line after classification
type Line struct {
	Text string
	// Timestamp is zero when the line has no parseable [YYYY-MM-DD HH:MM:SS] prefix
	Timestamp time.Time
	Severity  Severity
	Fields    map[string]string
}

// PatternSet holds compiled critical and warning patterns in evaluation order
type PatternSet struct {
	Critical []*regexp.Regexp
	Warning  []*regexp.Regexp
}

// CompilePattern compiles a pattern for case-insensitive matching
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Compile builds a PatternSet, failing on the first malformed pattern
func Compile(critical, warning []string) (*PatternSet, error) {
	set := &PatternSet{
		Critical: make([]*regexp.Regexp, 0, len(critical)),
		Warning:  make([]*regexp.Regexp, 0, len(warning)),
	}
	for _, p := range critical {
		re, err := CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("critical: %w", err)
		}
		set.Critical = append(set.Critical, re)
	}
	for _, p := range warning {
		re, err := CompilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("warning: %w", err)
		}
		set.Warning = append(set.Warning, re)
	}
	return set, nil
}

// Classify returns the severity of text. Critical patterns are tested first,
// then warning patterns, then the literal substring ERROR.
func Classify(text string, set *PatternSet) Severity {
	if set != nil {
		for _, re := range set.Critical {
			if re.MatchString(text) {
				return SeverityCritical
			}
		}
		for _, re := range set.Warning {
			if re.MatchString(text) {
				return SeverityWarning
			}
		}
	}
	if strings.Contains(strings.ToUpper(text), "ERROR") {
		return SeverityError
	}
	return SeverityInfo
}

var timestampPrefix = regexp.MustCompile(`^\s*\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]`)

// ParseTimestamp extracts the bracketed timestamp prefix in local time
func ParseTimestamp(text string) (time.Time, bool) {
	m := timestampPrefix.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", m[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// New classifies text and attaches its timestamp
func New(text string, set *PatternSet) Line {
	line := Line{Text: text, Severity: Classify(text, set)}
	if ts, ok := ParseTimestamp(text); ok {
		line.Timestamp = ts
	}
	return line
}
