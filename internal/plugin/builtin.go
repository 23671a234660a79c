package plugin

// Builtins returns the definitions shipped with loglwatch
func Builtins() []Definition {
	return []Definition{
		{
			Name:    "avionics",
			Aliases: []string{"telemetry", "navigation"},
			Critical: []string{
				`GPS.*SIGNAL.*LOST`,
				`ALTITUDE.*SENSOR.*FAULT`,
				`NAVIGATION.*ERROR`,
				`ENGINE.*TEMPERATURE.*CRITICAL`,
				`EMERGENCY.*LANDING`,
			},
			Warning: []string{
				`GPS.*ACCURACY.*LOW`,
				`BATTERY.*LOW`,
				`SIGNAL.*WEAK`,
				`ALTITUDE.*WARNING`,
			},
			Extractors: []string{
				`\b(?P<subsystem>GPS|ALTITUDE|ENGINE|NAVIGATION)\b`,
				`LAT:\s*(?P<lat>-?\d+(?:\.\d+)?).*?LON:\s*(?P<lon>-?\d+(?:\.\d+)?)`,
			},
			Heartbeat: `GPS.*OK|OK.*GPS`,
			Narration: []string{
				"Activating flight safety protocol",
				"Alerting control tower",
				"Switching to backup navigation systems",
			},
			Thresholds: Thresholds{
				Window:       20,
				CriticalHigh: 2,
				WarningMin:   3,
			},
		},
		{
			Name:    "asset_api",
			Aliases: []string{"api"},
			Critical: []string{
				`DATABASE.*CONNECTION.*FAILED`,
				`HTTP.*5\d\d`,
				`AUTHENTICATION.*FAILED`,
				`MEMORY.*LEAK.*DETECTED`,
				`TIMEOUT.*DATABASE`,
			},
			Warning: []string{
				`HTTP.*4\d\d`,
				`SLOW.*QUERY`,
				`RATE.*LIMIT.*EXCEEDED`,
				`MEMORY.*USAGE.*HIGH`,
			},
			Extractors: []string{
				`\b(?P<method>GET|POST|PUT|PATCH|DELETE)\s+(?P<endpoint>/\S*)\s+.*?\b(?P<status_code>[1-5]\d\d)\b`,
				`\bHTTP(?:/\d(?:\.\d)?)?\s+(?P<status_code>[1-5]\d\d)\b`,
				`\b(?P<latency_ms>\d+)\s*ms\b`,
			},
			Narration: []string{
				"Draining traffic from API instance",
				"Recycling database connection pool",
			},
			Thresholds: Thresholds{
				Window:       30,
				CriticalHigh: 3,
				Metric:       MetricHTTP5xxRatio,
				MetricTop:    15,
				MetricMid:    5,
				MetricLow:    2,
			},
		},
		{
			Name: "runtime",
			Critical: []string{
				`OUT.*OF.*MEMORY`,
				`MEMORY.*LEAK`,
				`STACK.*OVERFLOW`,
				`SEGMENTATION.*FAULT`,
				`DEADLOCK.*DETECTED`,
			},
			Warning: []string{
				`MEMORY.*USAGE.*HIGH`,
				`CPU.*USAGE.*HIGH`,
				`DISK.*SPACE.*LOW`,
				`THREAD.*CONTENTION`,
			},
			Extractors: []string{
				`MEMORY.*?(?P<memory_mb>\d+(?:\.\d+)?)\s*MB`,
				`CPU.*?(?P<cpu_percent>\d+(?:\.\d+)?)\s*%`,
			},
			Narration: []string{
				"Capturing runtime diagnostics",
				"Releasing memory pressure",
			},
			Thresholds: Thresholds{
				Window:        20,
				CriticalHigh:  2,
				Metric:        MetricHighMemoryLines,
				MetricMid:     4,
				MetricLow:     1,
				MemoryLimitMB: 8000,
			},
		},
		{
			Name:      "generic",
			Aliases:   []string{"base", "default"},
			Critical:  []string{`\bFATAL\b`, `\bPANIC\b`, `\bCRITICAL\b`},
			Warning:   []string{`\bWARN(ING)?\b`},
			Narration: []string{"Restarting service"},
			Thresholds: Thresholds{
				Window:       30,
				CriticalHigh: 3,
				WarningMin:   3,
			},
		},
	}
}
