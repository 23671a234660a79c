package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nxadm/tail/ratelimiter"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	// with inotify the stat loop only catches events that were missed
	rescanFactor = 8

	errorBurst     = 5
	errorLeakEvery = 2 * time.Second
)

// Follow tails the file from its current end. It waits for the file to
// appear, resets to the new end after truncation or recreation, and keeps
// an incomplete last line until a later write finishes it. Stat failures
// are reported as [ERROR] lines and the follower waits for the file again.
func (s *FileSource) Follow(ctx context.Context) <-chan string {
	out := make(chan string, s.opts.QueueSize)
	go s.follow(ctx, out)
	return out
}

func (s *FileSource) follow(ctx context.Context, out chan<- string) {
	defer close(out)

	ft := &fileTail{
		path:       s.path,
		out:        out,
		logger:     s.logger,
		positioned: s.positioned,
		errLimit:   ratelimiter.NewLeakyBucket(errorBurst, errorLeakEvery),
	}

	interval := s.opts.PollInterval
	var n *notifier
	if !s.opts.Poll {
		var err error
		if n, err = newNotifier(s.path); err != nil {
			s.logger.Warn("Cannot use inotify, falling back to polling", zap.Error(err))
		} else {
			defer n.close()
			interval *= rescanFactor
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting to follow file",
		zap.Bool("inotify", n != nil),
		zap.Duration("interval", interval))
	defer s.logger.Info("Stopping follow of file")

	if !ft.step(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case ev, ok := <-n.events():
			if !ok {
				n = nil
				continue
			}
			if !n.relevant(ev) {
				continue
			}
		case err, ok := <-n.errs():
			if ok {
				s.logger.Debug("inotify error", zap.Error(err))
			}
			continue
		}
		n.rewatch()
		if !ft.step(ctx) {
			return
		}
	}
}

// notifier wakes the follower on changes in the file's directory. A nil
// notifier never fires.
type notifier struct {
	w        *fsnotify.Watcher
	path     string
	dir      string
	watching bool
}

func newNotifier(path string) (*notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	n := &notifier{w: w, path: path, dir: filepath.Dir(path)}
	n.rewatch()
	return n, nil
}

func (n *notifier) events() <-chan fsnotify.Event {
	if n == nil {
		return nil
	}
	return n.w.Events
}

func (n *notifier) errs() <-chan error {
	if n == nil {
		return nil
	}
	return n.w.Errors
}

// rewatch adds the directory watch while the directory is missing or was
// replaced
func (n *notifier) rewatch() {
	if n == nil || n.watching {
		return
	}
	n.watching = n.w.Add(n.dir) == nil
}

func (n *notifier) relevant(ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if name == n.dir && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		n.watching = false
		return true
	}
	return name == n.path
}

func (n *notifier) close() {
	n.w.Close()
}

// fileTail holds the follower state. info is nil while SEEKING.
type fileTail struct {
	path       string
	out        chan<- string
	logger     *zap.Logger
	positioned func(offset int64)
	errLimit   *ratelimiter.LeakyBucket

	info    os.FileInfo
	offset  int64
	partial []byte
	lastErr string
}

// step stats the file once and makes the matching transition. It returns
// false once ctx is done.
func (ft *fileTail) step(ctx context.Context) bool {
	info, err := os.Stat(ft.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if ft.info != nil {
			ft.logger.Info("Log file removed, waiting for it to reappear")
			ft.seek()
		}
		ft.lastErr = ""
		return true

	case err != nil:
		if ft.info != nil {
			ft.logger.Warn("Log file became unreachable, waiting for it", zap.Error(err))
			ft.seek()
		}
		return ft.report(ctx, openErrorLine(ft.path, err))

	case ft.info == nil:
		ft.position(info, info.Size())

	case !os.SameFile(ft.info, info):
		ft.logger.Info("Log file replaced, following the new file")
		ft.position(info, info.Size())

	case info.Size() < ft.offset:
		ft.logger.Info("Log file truncated, skipping to its end",
			zap.Int64("old_offset", ft.offset),
			zap.Int64("new_offset", info.Size()))
		ft.position(info, info.Size())

	case info.Size() > ft.offset:
		return ft.readAppended(ctx)
	}
	return true
}

func (ft *fileTail) seek() {
	ft.info = nil
	ft.partial = nil
}

func (ft *fileTail) position(info os.FileInfo, offset int64) {
	ft.info = info
	ft.offset = offset
	ft.partial = nil
	ft.lastErr = ""
	if ft.positioned != nil {
		ft.positioned(offset)
	}
}

// report emits line once per distinct failure, within the error budget
func (ft *fileTail) report(ctx context.Context, line string) bool {
	if line == ft.lastErr {
		return true
	}
	if !ft.errLimit.Pour(1) {
		ft.logger.Debug("Suppressing source error", zap.String("line", line))
		return true
	}
	ft.lastErr = line
	return emit(ctx, ft.out, line)
}

func (ft *fileTail) readError(ctx context.Context, err error) bool {
	if errors.Is(err, fs.ErrPermission) {
		return ft.report(ctx, errorLine("permission denied reading log file: %s", ft.path))
	}
	return ft.report(ctx, errorLine("unexpected error reading log file %s: %v", ft.path, err))
}

// readAppended emits every complete line written since the last read
func (ft *fileTail) readAppended(ctx context.Context) bool {
	f, err := os.Open(ft.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true
		}
		return ft.readError(ctx, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ft.readError(ctx, err)
	}
	size := info.Size()
	if size <= ft.offset {
		return true
	}

	buf := make([]byte, size-ft.offset)
	n, err := f.ReadAt(buf, ft.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return ft.readError(ctx, err)
	}
	ft.offset += int64(n)
	ft.lastErr = ""

	data := append(ft.partial, buf[:n]...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(data[:i]), "\r")
		data = data[i+1:]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !emit(ctx, ft.out, line) {
			return false
		}
	}
	ft.partial = bytes.Clone(data)
	return true
}
