package plugin

import (
	"strconv"

	"github.com/oicur0t/loglwatch/internal/classify"
)

// metricFunc computes a derived value over a window. ok is false when the
// window carries nothing the metric can be computed from.
type metricFunc func(lines []classify.Line, t Thresholds) (value float64, ok bool)

var metricFuncs = map[string]metricFunc{
	MetricHTTP5xxRatio:    http5xxRatio,
	MetricHighMemoryLines: highMemoryLines,
	MetricAverageMemoryMB: averageMemory,
}

// http5xxRatio is the percentage of lines carrying a status code that are 5xx
func http5xxRatio(lines []classify.Line, _ Thresholds) (float64, bool) {
	var total, server int
	for _, l := range lines {
		code, err := strconv.Atoi(l.Fields["status_code"])
		if err != nil {
			continue
		}
		total++
		if code >= 500 && code <= 599 {
			server++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(server) * 100 / float64(total), true
}

func highMemoryLines(lines []classify.Line, t Thresholds) (float64, bool) {
	var n int
	for _, l := range lines {
		mb, ok := fieldFloat(l, "memory_mb")
		if ok && mb > t.MemoryLimitMB {
			n++
		}
	}
	return float64(n), true
}

func averageMemory(lines []classify.Line, _ Thresholds) (float64, bool) {
	var sum float64
	var n int
	for _, l := range lines {
		if mb, ok := fieldFloat(l, "memory_mb"); ok {
			sum += mb
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func fieldFloat(l classify.Line, name string) (float64, bool) {
	raw, ok := l.Fields[name]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
