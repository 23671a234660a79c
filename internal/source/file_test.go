package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPollInterval = 10 * time.Millisecond

func appendTo(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func waitPositioned(t *testing.T, positioned <-chan int64) int64 {
	t.Helper()
	select {
	case off := <-positioned:
		return off
	case <-time.After(3 * time.Second):
		t.Fatal("follow never positioned on the file")
		return 0
	}
}

// following starts a polling Follow on path and returns the line channel
// together with the offsets the follower positions itself at
func following(t *testing.T, path string) (<-chan string, <-chan int64) {
	t.Helper()
	return followingWith(t, path, FileOptions{Poll: true, PollInterval: testPollInterval})
}

func followingWith(t *testing.T, path string, opts FileOptions) (<-chan string, <-chan int64) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	positioned := make(chan int64, 4)
	s := NewFileSource(path, opts, zap.NewNop())
	s.positioned = func(off int64) { positioned <- off }
	return s.Follow(ctx), positioned
}

func TestFetchTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\nfive\n"), 0o644))

	s := NewFileSource(path, FileOptions{}, zap.NewNop())
	assert.Equal(t, "three\nfour\nfive", s.FetchTail(context.Background(), 3))
	assert.Equal(t, "one\ntwo\nthree\nfour\nfive", s.FetchTail(context.Background(), 100))
}

func TestFetchTailKeepsUnterminatedLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a\r\nb\r\nc"), 0o644))

	s := NewFileSource(path, FileOptions{}, zap.NewNop())
	assert.Equal(t, "b\nc", s.FetchTail(context.Background(), 2))
}

func TestFetchTailAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	var b strings.Builder
	for i := 1; i <= 2000; i++ {
		fmt.Fprintf(&b, "[2024-03-01 10:00:00] INFO request %d served\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	s := NewFileSource(path, FileOptions{}, zap.NewNop())
	lines := strings.Split(s.FetchTail(context.Background(), 100), "\n")
	require.Len(t, lines, 100)
	assert.Contains(t, lines[0], "request 1901 served")
	assert.Contains(t, lines[99], "request 2000 served")
}

func TestFetchTailMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	s := NewFileSource(path, FileOptions{}, zap.NewNop())

	got := s.FetchTail(context.Background(), 10)
	assert.True(t, IsErrorLine(got))
	assert.Equal(t, "[ERROR] log file not found: "+path, got)
}

func TestFollowEmitsOnlyNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("history that is never replayed\n"), 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	// the middle line spans both writes
	appendTo(t, path, "first\nsec")
	appendTo(t, path, "ond\nthird\n")

	assert.Equal(t, "first", receive(t, lines))
	assert.Equal(t, "second", receive(t, lines))
	assert.Equal(t, "third", receive(t, lines))
}

func TestFollowHoldsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	appendTo(t, path, "incomplete")
	assert.Never(t, func() bool {
		select {
		case <-lines:
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)

	appendTo(t, path, " now complete\n")
	assert.Equal(t, "incomplete now complete", receive(t, lines))
}

func TestFollowWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.log")

	lines, positioned := following(t, path)
	appendTo(t, path, "")
	assert.Equal(t, int64(0), waitPositioned(t, positioned))

	appendTo(t, path, "hello\n")
	assert.Equal(t, "hello", receive(t, lines))
}

func TestFollowTruncationSkipsToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a long line written before truncation\n"), 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	// the bytes left after truncation are never replayed
	require.NoError(t, os.Truncate(path, 5))
	assert.Equal(t, int64(5), waitPositioned(t, positioned))

	appendTo(t, path, "after\n")
	assert.Equal(t, "after", receive(t, lines))
}

func TestFollowRecreatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	require.NoError(t, os.Remove(path))
	time.Sleep(100 * time.Millisecond)
	appendTo(t, path, "")
	assert.Equal(t, int64(0), waitPositioned(t, positioned))

	appendTo(t, path, "reborn\n")
	assert.Equal(t, "reborn", receive(t, lines))
}

func TestFollowWithInotify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, []byte("history\n"), 0o644))

	lines, positioned := followingWith(t, path, FileOptions{PollInterval: testPollInterval})
	waitPositioned(t, positioned)

	appendTo(t, path, "one\ntwo\n")
	assert.Equal(t, "one", receive(t, lines))
	assert.Equal(t, "two", receive(t, lines))

	require.NoError(t, os.Remove(path))
	time.Sleep(100 * time.Millisecond)
	appendTo(t, path, "")
	assert.Equal(t, int64(0), waitPositioned(t, positioned))

	appendTo(t, path, "three\n")
	assert.Equal(t, "three", receive(t, lines))
}

func TestFollowSurvivesParentReplacedByFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	// stat now fails with ENOTDIR instead of not-exist
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a directory\n"), 0o644))

	got := receive(t, lines)
	assert.True(t, IsErrorLine(got))
	assert.Contains(t, got, "unexpected error opening log file "+path)
	assert.Contains(t, got, "not a directory")

	// the same failure is reported once
	assert.Never(t, func() bool {
		select {
		case <-lines:
			return true
		default:
			return false
		}
	}, 100*time.Millisecond, 10*time.Millisecond)

	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.Mkdir(dir, 0o755))
	appendTo(t, path, "")
	assert.Equal(t, int64(0), waitPositioned(t, positioned))

	appendTo(t, path, "back\n")
	assert.Equal(t, "back", receive(t, lines))
}

func TestFollowPermissionError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	lines, positioned := following(t, path)
	waitPositioned(t, positioned)

	require.NoError(t, os.Chmod(path, 0o200))
	appendTo(t, path, "unreadable\n")
	assert.Equal(t, "[ERROR] permission denied reading log file: "+path, receive(t, lines))

	require.NoError(t, os.Chmod(path, 0o644))
	appendTo(t, path, "readable again\n")
	assert.Equal(t, "unreadable", receive(t, lines))
	assert.Equal(t, "readable again", receive(t, lines))
}

func TestFollowStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	lines := NewFileSource(path, FileOptions{Poll: true}, zap.NewNop()).Follow(ctx)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-lines:
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

func TestFileRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	t.Run("no command", func(t *testing.T) {
		s := NewFileSource(path, FileOptions{}, zap.NewNop())
		assert.ErrorIs(t, s.Restart(context.Background()), ErrRestartUnsupported)
	})

	t.Run("command succeeds", func(t *testing.T) {
		runner := &fakeRunner{output: "ok"}
		s := NewFileSource(path, FileOptions{
			RestartCommand: []string{"systemctl", "restart", "app"},
			Runner:         runner,
		}, zap.NewNop())
		require.NoError(t, s.Restart(context.Background()))
		assert.Equal(t, [][]string{{"systemctl", "restart", "app"}}, runner.calls)
	})

	t.Run("command fails", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("exit status 1")}
		s := NewFileSource(path, FileOptions{
			RestartCommand: []string{"systemctl", "restart", "app"},
			Runner:         runner,
		}, zap.NewNop())
		assert.ErrorIs(t, s.Restart(context.Background()), ErrRestartFailed)
	})
}
