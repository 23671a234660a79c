package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	tailChunkSize    = 8 * 1024
	defaultQueueSize = 256
)

// FileOptions configures a FileSource
type FileOptions struct {
	// Poll drives Follow from stat polling alone; false also wakes it on
	// inotify events for the file's directory
	Poll         bool
	PollInterval time.Duration
	// RestartCommand is run to restart the service. Without it Restart
	// returns ErrRestartUnsupported.
	RestartCommand []string
	Runner         CommandRunner
	QueueSize      int
}

// FileSource reads a plain log file
type FileSource struct {
	path   string
	opts   FileOptions
	logger *zap.Logger

	// positioned is called each time Follow places its offset on a file.
	// Tests use it to know when appends will be observed.
	positioned func(offset int64)
}

// NewFileSource creates a source for the log file at path
func NewFileSource(path string, opts FileOptions, logger *zap.Logger) *FileSource {
	if opts.Runner == nil {
		opts.Runner = execRunner{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &FileSource{
		path:   path,
		opts:   opts,
		logger: logger.With(zap.String("file", path)),
	}
}

// Describe names the file
func (s *FileSource) Describe() string {
	return "file " + s.path
}

// FetchTail reads the last maxLines lines of the file by walking backwards
// from the end in fixed-size chunks.
func (s *FileSource) FetchTail(_ context.Context, maxLines int) string {
	f, err := os.Open(s.path)
	if err != nil {
		return openErrorLine(s.path, err)
	}
	defer f.Close()

	data, err := readTail(f, maxLines)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return errorLine("permission denied reading log file: %s", s.path)
		}
		return errorLine("unexpected error reading log file %s: %v", s.path, err)
	}
	return lastLines(string(data), maxLines)
}

// readTail returns enough trailing bytes of f to hold maxLines lines
func readTail(f *os.File, maxLines int) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := info.Size()
	var (
		data     []byte
		newlines int
	)
	// one extra newline covers the file's own trailing line break
	for offset > 0 && newlines <= maxLines {
		n := min(int64(tailChunkSize), offset)
		offset -= n

		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		newlines += bytes.Count(chunk, []byte{'\n'})
		data = append(chunk, data...)
	}
	return data, nil
}

func openErrorLine(path string, err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errorLine("log file not found: %s", path)
	case errors.Is(err, fs.ErrPermission):
		return errorLine("permission denied reading log file: %s", path)
	default:
		return errorLine("unexpected error opening log file %s: %v", path, err)
	}
}

// Restart runs the configured restart command
func (s *FileSource) Restart(ctx context.Context) error {
	if len(s.opts.RestartCommand) == 0 {
		return fmt.Errorf("%w: %s has no restart_command", ErrRestartUnsupported, s.Describe())
	}

	name, args := s.opts.RestartCommand[0], s.opts.RestartCommand[1:]
	output, err := s.opts.Runner.Run(ctx, name, args...)
	if err != nil {
		s.logger.Error("Restart command failed",
			zap.Strings("command", s.opts.RestartCommand),
			zap.String("output", output),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrRestartFailed, s.Describe(), err)
	}

	s.logger.Info("Restart command succeeded",
		zap.Strings("command", s.opts.RestartCommand),
		zap.String("output", output))
	return nil
}
