// Package render prints health snapshots for humans or for other tools.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/oicur0t/loglwatch/pkg/models"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

const maxErrorWidth = 60

var (
	styleOK       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleCritical = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true)
	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleBorder = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Write renders snaps in the given format
func Write(w io.Writer, format string, snaps models.Snapshots) error {
	switch format {
	case FormatText, "":
		return Text(w, snaps)
	case FormatJSON:
		return JSON(w, snaps)
	}
	return fmt.Errorf("unknown output format %q (want text or json)", format)
}

// Text writes a table with one row per service, sorted by name
func Text(w io.Writer, snaps models.Snapshots) error {
	if len(snaps) == 0 {
		_, err := fmt.Fprintln(w, "No health snapshots recorded yet")
		return err
	}

	names := make([]string, 0, len(snaps))
	for name := range snaps {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleBorder).
		Headers(
			styleHeader.Render("SERVICE"),
			styleHeader.Render("STATUS"),
			styleHeader.Render("LAST CHECKED"),
			styleHeader.Render("RESTARTED"),
			styleHeader.Render("RESTARTS"),
			styleHeader.Render("ERROR"),
		)

	for _, name := range names {
		snap := snaps[name]
		t.Row(
			name,
			styleStatus(snap.Status),
			snap.LastChecked,
			strconv.FormatBool(snap.Restarted),
			strconv.Itoa(snap.RestartsInWindow),
			truncate(snap.ErrorText(), maxErrorWidth),
		)
	}

	_, err := fmt.Fprintln(w, t.String())
	return err
}

// JSON writes snaps as the same document the file store persists
func JSON(w io.Writer, snaps models.Snapshots) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snaps)
}

func styleStatus(status string) string {
	switch status {
	case "OK", models.StatusHealthy:
		return styleOK.Render(status)
	case "WARNING":
		return styleWarning.Render(status)
	case "ERROR", models.StatusError:
		return styleError.Render(status)
	case "CRITICAL":
		return styleCritical.Render(status)
	default:
		return status
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
