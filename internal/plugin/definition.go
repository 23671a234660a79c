package plugin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Derived metrics a definition can evaluate over its window
const (
	MetricHTTP5xxRatio    = "http_5xx_ratio"
	MetricHighMemoryLines = "high_memory_lines"
	MetricAverageMemoryMB = "average_memory_mb"
)

// Definition is the static configuration of a monitor: patterns, extractors and thresholds
type Definition struct {
	Name       string     `yaml:"name"`
	Aliases    []string   `yaml:"aliases"`
	Critical   []string   `yaml:"critical"`
	Warning    []string   `yaml:"warning"`
	Extractors []string   `yaml:"extractors"`
	// Heartbeat is a case-sensitive pattern that some line of a non-empty
	// window must match
	Heartbeat  string     `yaml:"heartbeat"`
	Narration  []string   `yaml:"narration"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// Thresholds drives Evaluate. A zero value disables the corresponding tier.
type Thresholds struct {
	Window        int     `yaml:"window"`
	CriticalHigh  int     `yaml:"critical_high"`
	WarningMin    int     `yaml:"warning_min"`
	Metric        string  `yaml:"metric"`
	MetricTop     float64 `yaml:"metric_top"`
	MetricMid     float64 `yaml:"metric_mid"`
	MetricLow     float64 `yaml:"metric_low"`
	MemoryLimitMB float64 `yaml:"memory_limit_mb"`
}

// LoadDefinitions decodes every YAML document in path
func LoadDefinitions(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin definition: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var defs []Definition
	for {
		var def Definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, path, err)
		}
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("%w: %s: name is required", ErrInvalidDefinition, path)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// definitionFiles lists *.yaml and *.yml files in dir in lexical order
func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
