// Package source reads log text from files, containers and pods and asks
// their runtime to restart the service behind them.
//
// Sources never fail on read: an unreachable source is reported as a single
// line starting with "[ERROR]" so the monitor classifies it like any other
// line.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorPrefix starts every synthesized failure line
const ErrorPrefix = "[ERROR]"

var (
	// ErrSourceUnavailable marks a log source that cannot be reached
	ErrSourceUnavailable = errors.New("log source unavailable")
	// ErrRestartUnsupported is returned when a source has no way to restart its service
	ErrRestartUnsupported = errors.New("restart not supported")
	// ErrRestartFailed wraps failures of the runtime restart call
	ErrRestartFailed = errors.New("restart failed")
)

// Source is a stream of log text for one service
type Source interface {
	// FetchTail returns at most the last maxLines lines currently available
	FetchTail(ctx context.Context, maxLines int) string
	// Follow yields new lines until ctx is done. On an unrecoverable failure it
	// yields one final "[ERROR]" line and closes the channel.
	Follow(ctx context.Context) <-chan string
	// Restart asks the runtime to restart the service
	Restart(ctx context.Context) error
	// Describe names the source for logs and error lines
	Describe() string
}

// IsErrorLine reports whether line was synthesized for a source failure
func IsErrorLine(line string) bool {
	return strings.HasPrefix(line, ErrorPrefix)
}

func errorLine(format string, args ...any) string {
	return ErrorPrefix + " " + fmt.Sprintf(format, args...)
}

// lastLines keeps the trailing n lines of text. A trailing newline does not
// count as an extra empty line.
func lastLines(text string, n int) string {
	text = strings.TrimRight(text, "\r\n")
	if n <= 0 || text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return strings.Join(lines, "\n")
}

// emit sends line unless ctx is done first
func emit(ctx context.Context, out chan<- string, line string) bool {
	select {
	case out <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// failed returns a closed channel carrying a single error line
func failed(line string) <-chan string {
	out := make(chan string, 1)
	out <- line
	close(out)
	return out
}
