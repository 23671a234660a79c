package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oicur0t/loglwatch/internal/config"
	"github.com/oicur0t/loglwatch/internal/metrics"
	"github.com/oicur0t/loglwatch/internal/plugin"
	"github.com/oicur0t/loglwatch/internal/source"
	"github.com/oicur0t/loglwatch/internal/throttle"
	"github.com/oicur0t/loglwatch/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	tail       string
	follow     []string
	closeAfter bool
	restartErr error

	mu       sync.Mutex
	restarts int
}

func (f *fakeSource) FetchTail(ctx context.Context, maxLines int) string {
	return f.tail
}

func (f *fakeSource) Follow(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for _, line := range f.follow {
			select {
			case out <- line:
			case <-ctx.Done():
				return
			}
		}
		if f.closeAfter {
			return
		}
		<-ctx.Done()
	}()
	return out
}

func (f *fakeSource) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return f.restartErr
}

func (f *fakeSource) Describe() string { return "fake" }

func (f *fakeSource) Restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

type fakeSources map[string]*fakeSource

func (f fakeSources) For(svc config.ServiceConfig) (source.Source, error) {
	src, ok := f[svc.Name]
	if !ok {
		return nil, fmt.Errorf("no source for %s", svc.Name)
	}
	return src, nil
}

type memStore struct {
	mu        sync.Mutex
	snapshots models.Snapshots
	history   models.RestartHistory
	saveErr   error
	saves     int
}

func (m *memStore) LoadSnapshots(ctx context.Context) (models.Snapshots, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshots == nil {
		return models.Snapshots{}, nil
	}
	return m.snapshots.Clone(), nil
}

func (m *memStore) SaveSnapshots(ctx context.Context, s models.Snapshots) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snapshots = s.Clone()
	return nil
}

func (m *memStore) LoadHistory(ctx context.Context) (models.RestartHistory, error) {
	return models.RestartHistory{}, nil
}

func (m *memStore) SaveHistory(ctx context.Context, h models.RestartHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = h
	return nil
}

func (m *memStore) saved() models.Snapshots {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots.Clone()
}

func service(name string, maxRestarts int) config.ServiceConfig {
	return config.ServiceConfig{
		Name:              name,
		Source:            config.SourceFile,
		FilePath:          "/var/log/" + name + ".log",
		Plugin:            "generic",
		MaxRestarts:       &maxRestarts,
		TimeWindowMinutes: 60,
		RestartOn:         "ERROR",
	}
}

func testConfig(services ...config.ServiceConfig) *config.Config {
	return &config.Config{
		Evaluation: config.EvaluationPlugin,
		Batch:      config.BatchConfig{TailLines: 100, Sources: []string{config.SourceFile}},
		Streaming: config.StreamingConfig{
			Duration:      time.Second,
			FlushInterval: 10 * time.Millisecond,
			Sources:       []string{config.SourceFile, config.SourceContainer},
		},
		Services: services,
	}
}

func newLoop(t *testing.T, cfg *config.Config, sources fakeSources, store *memStore, m *metrics.Metrics) *Loop {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	l := New(ctx, cfg, Deps{
		Sources:   sources,
		Plugins:   plugin.NewRegistry(nil, logger),
		Throttler: throttle.New(ctx, store, logger),
		Store:     store,
		Metrics:   m,
	}, logger)
	l.now = func() time.Time { return fixedNow }
	return l
}

func TestRunBatchHealthy(t *testing.T) {
	store := &memStore{}
	src := &fakeSource{tail: "INFO started\nINFO serving\n"}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	snap := results["api"]
	assert.Equal(t, "OK", snap.Status)
	assert.Nil(t, snap.Error)
	assert.False(t, snap.Restarted)
	assert.Equal(t, "INFO started\nINFO serving", snap.Logs)
	assert.Equal(t, "generic", snap.Plugin)
	assert.Equal(t, "2024-03-01 10:00:00", snap.LastChecked)
	assert.NotEmpty(t, snap.PassID)
	assert.Zero(t, src.Restarts())

	assert.Equal(t, results, store.saved())
}

func TestRunBatchRestartsUnhealthyService(t *testing.T) {
	store := &memStore{}
	m := metrics.New()
	src := &fakeSource{tail: "INFO started\nFATAL out of file descriptors\n"}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, m)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	snap := results["api"]
	assert.Equal(t, "ERROR", snap.Status)
	assert.True(t, snap.Restarted)
	require.NotNil(t, snap.Error)
	assert.Equal(t, errorDetected, *snap.Error)
	assert.Equal(t, 1, snap.RestartsInWindow)
	assert.Contains(t, snap.Logs, "FATAL out of file descriptors")
	assert.Equal(t, 1, src.Restarts())

	assert.Len(t, store.history["api"], 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RestartDecisions.WithLabelValues("api", metrics.OutcomeApproved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HealthVerdict.WithLabelValues("api")))
}

func TestRunBatchThrottlesRestarts(t *testing.T) {
	store := &memStore{}
	src := &fakeSource{tail: "FATAL crash\n"}
	l := newLoop(t, testConfig(service("api", 1)), fakeSources{"api": src}, store, nil)

	first, err := l.RunBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, first["api"].Restarted)

	second, err := l.RunBatch(context.Background())
	require.NoError(t, err)
	snap := second["api"]
	assert.False(t, snap.Restarted)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "restart limit reached: 1 restarts in 60 minutes", *snap.Error)
	assert.Equal(t, 1, snap.RestartsInWindow)
	assert.Equal(t, 1, src.Restarts())
}

func TestRunBatchFailedRestartKeepsSlot(t *testing.T) {
	store := &memStore{}
	src := &fakeSource{tail: "FATAL crash\n", restartErr: errors.New("exit status 1")}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	snap := results["api"]
	assert.False(t, snap.Restarted)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "restart failed", *snap.Error)
	assert.Equal(t, 1, snap.RestartsInWindow)
}

func TestRunBatchReportsSourceErrorLine(t *testing.T) {
	src := &fakeSource{tail: "[ERROR] log file not found: /var/log/api.log"}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, &memStore{}, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	snap := results["api"]
	assert.Equal(t, "OK", snap.Status)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "[ERROR] log file not found: /var/log/api.log", *snap.Error)
	assert.Zero(t, src.Restarts())
}

func TestRunBatchIsolatesMisconfiguredServices(t *testing.T) {
	broken := service("broken", 3)
	broken.Plugin = "does-not-exist"
	noPath := service("nopath", 3)
	noPath.FilePath = ""

	src := &fakeSource{tail: "INFO fine\n"}
	cfg := testConfig(broken, noPath, service("api", 3))
	l := newLoop(t, cfg, fakeSources{"api": src, "broken": src, "nopath": src}, &memStore{}, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	require.NotNil(t, results["broken"].Error)
	assert.Equal(t, "ERROR", results["broken"].Status)
	assert.Contains(t, *results["broken"].Error, "unknown plugin")

	require.NotNil(t, results["nopath"].Error)
	assert.Contains(t, *results["nopath"].Error, "file_path")

	assert.Equal(t, "OK", results["api"].Status)
}

func TestRunBatchSkipsSourceKindsNotEnabled(t *testing.T) {
	svc := service("web", 3)
	svc.Source = config.SourceContainer
	svc.FilePath = ""
	svc.ContainerID = "web-1"

	l := newLoop(t, testConfig(svc), fakeSources{}, &memStore{}, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunBatchSimpleMode(t *testing.T) {
	cfg := testConfig(service("sick", 3), service("well", 3))
	cfg.Evaluation = config.EvaluationSimple
	sick := &fakeSource{tail: "WARNING slow\nFATAL crash\n"}
	well := &fakeSource{tail: "WARNING slow\nERROR retrying\n"}
	l := newLoop(t, cfg, fakeSources{"sick": sick, "well": well}, &memStore{}, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, results["sick"].Status)
	assert.True(t, results["sick"].Restarted)
	assert.Equal(t, models.StatusHealthy, results["well"].Status)
	assert.Nil(t, results["well"].Error)
}

func TestRunBatchSimpleModeSeesLinesOutsideWindow(t *testing.T) {
	cfg := testConfig(service("api", 3))
	cfg.Evaluation = config.EvaluationSimple
	// the generic window keeps 30 lines; the FATAL line is pushed out of it
	tail := "FATAL out of memory\n" + strings.Repeat("INFO request served\n", 40)
	src := &fakeSource{tail: tail}
	l := newLoop(t, cfg, fakeSources{"api": src}, &memStore{}, nil)

	results, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, results["api"].Status)
	assert.True(t, results["api"].Restarted)
	assert.NotContains(t, results["api"].Logs, "FATAL")
}

func TestRunBatchPersistenceFailure(t *testing.T) {
	errDisk := errors.New("disk full")
	store := &memStore{saveErr: errDisk}
	m := metrics.New()
	src := &fakeSource{tail: "INFO ok\n"}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, m)

	results, err := l.RunBatch(context.Background())
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, "OK", results["api"].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("snapshots")))
}

func TestRunBatchKeepsPreviousSnapshots(t *testing.T) {
	msg := "container 'web' not found"
	store := &memStore{snapshots: models.Snapshots{
		"web": {Status: "ERROR", LastChecked: "2024-02-29 09:00:00", Error: &msg},
	}}
	src := &fakeSource{tail: "INFO ok\n"}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, nil)

	_, err := l.RunBatch(context.Background())
	require.NoError(t, err)

	saved := store.saved()
	assert.Contains(t, saved, "web")
	assert.Contains(t, saved, "api")

	snap, ok := l.Snapshot("web")
	require.True(t, ok)
	assert.Equal(t, "ERROR", snap.Status)
}

func TestRunStreamingRestartsAndFlushes(t *testing.T) {
	store := &memStore{}
	src := &fakeSource{follow: []string{"INFO boot", "FATAL crash"}}
	cfg := testConfig(service("api", 3))
	l := newLoop(t, cfg, fakeSources{"api": src}, store, nil)

	results, err := l.RunStreaming(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)

	snap := results["api"]
	assert.True(t, snap.Restarted)
	assert.Equal(t, "ERROR", snap.Status)
	assert.Contains(t, snap.Logs, "FATAL crash")
	assert.Equal(t, 1, src.Restarts())

	assert.Equal(t, snap, store.saved()["api"])
	assert.Len(t, store.history["api"], 1)
}

func TestRunStreamingEndsWhenSourceCloses(t *testing.T) {
	src := &fakeSource{
		follow:     []string{"[ERROR] log stream of container web closed"},
		closeAfter: true,
	}
	svc := service("web", 3)
	svc.Source = config.SourceContainer
	svc.FilePath = ""
	svc.ContainerID = "web"
	l := newLoop(t, testConfig(svc), fakeSources{"web": src}, &memStore{}, nil)

	start := time.Now()
	results, err := l.RunStreaming(context.Background(), 10*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	snap := results["web"]
	require.NotNil(t, snap.Error)
	assert.Equal(t, "[ERROR] log stream of container web closed", *snap.Error)
}

func TestRunStreamingQuietServiceIsHealthy(t *testing.T) {
	store := &memStore{}
	src := &fakeSource{}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, store, nil)

	results, err := l.RunStreaming(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)

	snap := results["api"]
	assert.Equal(t, "OK", snap.Status)
	assert.Empty(t, snap.Logs)
	assert.False(t, snap.Restarted)
	assert.Equal(t, snap, store.saved()["api"])
}

func TestRunStreamingCancel(t *testing.T) {
	src := &fakeSource{}
	l := newLoop(t, testConfig(service("api", 3)), fakeSources{"api": src}, &memStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := l.RunStreaming(ctx, time.Minute)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNextBatch(t *testing.T) {
	lines := make(chan string, 3)
	lines <- "a"
	lines <- "b"
	lines <- "c"

	batch, open := nextBatch(context.Background(), lines)
	assert.True(t, open)
	assert.Equal(t, []string{"a", "b", "c"}, batch)

	close(lines)
	batch, open = nextBatch(context.Background(), lines)
	assert.False(t, open)
	assert.Empty(t, batch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch, open = nextBatch(ctx, make(chan string))
	assert.True(t, open)
	assert.Empty(t, batch)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\n"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
}
