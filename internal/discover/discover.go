// Package discover finds log files and turns them into service entries that
// can be pasted into the configuration.
package discover

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oicur0t/loglwatch/internal/config"
	"gopkg.in/yaml.v3"
)

// DefaultPatterns are searched when no pattern is given
var DefaultPatterns = []string{
	"./logs/*.log",
	"../logs/*.log",
	"./*.log",
	"../*.log",
	"./var/log/*.log",
	"/var/log/*.log",
	"./tmp/*.log",
}

// Entry is a discovered file-backed service
type Entry struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	FilePath string `yaml:"file_path"`
	Plugin   string `yaml:"plugin,omitempty"`
}

// Find expands patterns (recursive ** is supported) and returns one entry per
// matched file, ordered by path. Names are the file stem; a repeated stem gets
// a numeric suffix. A pattern that fails to expand is skipped and reported in
// the returned error only if nothing matched at all.
func Find(patterns []string, plugin string) ([]Entry, error) {
	seen := make(map[string]struct{})
	var paths []string
	var firstErr error

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to expand %q: %w", pattern, err)
			}
			continue
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				abs = m
			}
			if _, ok := seen[abs]; ok {
				continue
			}
			seen[abs] = struct{}{}
			paths = append(paths, abs)
		}
	}
	if len(paths) == 0 && firstErr != nil {
		return nil, firstErr
	}
	sort.Strings(paths)

	names := make(map[string]int)
	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		stem := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		names[stem]++
		name := stem
		if n := names[stem]; n > 1 {
			name = stem + "-" + strconv.Itoa(n)
		}
		entries = append(entries, Entry{
			Name:     name,
			Source:   config.SourceFile,
			FilePath: p,
			Plugin:   plugin,
		})
	}
	return entries, nil
}

// WriteYAML writes entries as a services: document
func WriteYAML(w io.Writer, entries []Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Services []Entry `yaml:"services"`
	}{Services: entries}); err != nil {
		return fmt.Errorf("failed to encode services: %w", err)
	}
	return enc.Close()
}
