package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	restartTimeoutSeconds = 10
	maxLineBytes          = 1024 * 1024
)

// ContainerAPI is the part of the Docker client used by ContainerSource
type ContainerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
}

// ContainerSource reads logs of a Docker container
type ContainerSource struct {
	api       ContainerAPI
	id        string
	queueSize int
	logger    *zap.Logger
}

// NewContainerSource creates a source for the container id or name
func NewContainerSource(api ContainerAPI, id string, queueSize int, logger *zap.Logger) *ContainerSource {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &ContainerSource{
		api:       api,
		id:        id,
		queueSize: queueSize,
		logger:    logger.With(zap.String("container", id)),
	}
}

// Describe names the container
func (s *ContainerSource) Describe() string {
	return "container " + s.id
}

// FetchTail returns the last maxLines lines of stdout and stderr
func (s *ContainerSource) FetchTail(ctx context.Context, maxLines int) string {
	tty, err := s.tty(ctx)
	if err != nil {
		return s.errorLine(err)
	}

	rc, err := s.api.ContainerLogs(ctx, s.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(maxLines),
	})
	if err != nil {
		return s.errorLine(err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if tty {
		_, err = io.Copy(&buf, rc)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, rc)
	}
	if err != nil {
		return s.errorLine(err)
	}
	return lastLines(buf.String(), maxLines)
}

// Follow streams new log lines until ctx is done or the container stops
func (s *ContainerSource) Follow(ctx context.Context) <-chan string {
	tty, err := s.tty(ctx)
	if err != nil {
		return failed(s.errorLine(err))
	}

	rc, err := s.api.ContainerLogs(ctx, s.id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       "0",
	})
	if err != nil {
		return failed(s.errorLine(err))
	}

	var r io.ReadCloser = rc
	if !tty {
		pr, pw := io.Pipe()
		go func() {
			_, err := stdcopy.StdCopy(pw, pw, rc)
			pw.CloseWithError(err)
		}()
		r = pr
	}

	out := make(chan string, s.queueSize)
	go func() {
		defer close(out)
		defer rc.Close()
		defer r.Close()
		streamLines(ctx, r, out, s.Describe())
	}()
	return out
}

// Restart restarts the container through the daemon
func (s *ContainerSource) Restart(ctx context.Context) error {
	timeout := restartTimeoutSeconds
	start := time.Now()
	if err := s.api.ContainerRestart(ctx, s.id, container.StopOptions{Timeout: &timeout}); err != nil {
		s.logger.Error("Container restart failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrRestartFailed, s.Describe(), err)
	}
	s.logger.Info("Container restarted", zap.Duration("took", time.Since(start)))
	return nil
}

func (s *ContainerSource) tty(ctx context.Context) (bool, error) {
	info, err := s.api.ContainerInspect(ctx, s.id)
	if err != nil {
		return false, err
	}
	return info.Config != nil && info.Config.Tty, nil
}

func (s *ContainerSource) errorLine(err error) string {
	switch {
	case errdefs.IsNotFound(err):
		return errorLine("container '%s' not found", s.id)
	case client.IsErrConnectionFailed(err):
		return errorLine("cannot connect to the Docker daemon: %v", err)
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return errorLine("permission denied reading logs of container %s: %v", s.id, err)
	default:
		return errorLine("unexpected error reading logs of container %s: %v", s.id, err)
	}
}

// streamLines forwards lines from r. When r ends before ctx is done a final
// error line reports the closed stream.
func streamLines(ctx context.Context, r io.Reader, out chan<- string, what string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := string(bytes.TrimRight(scanner.Bytes(), "\r"))
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		if !emit(ctx, out, line) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, out, errorLine("log stream of %s failed: %v", what, err))
		return
	}
	emit(ctx, out, errorLine("log stream of %s closed", what))
}
