package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oicur0t/loglwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu      sync.Mutex
	saved   models.RestartHistory
	saves   int
	loadErr error
	saveErr error
}

func (m *memoryStore) LoadHistory(context.Context) (models.RestartHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.saved, nil
}

func (m *memoryStore) SaveHistory(_ context.Context, h models.RestartHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = h
	return nil
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func TestTryRestartSingleSlot(t *testing.T) {
	th := New(context.Background(), nil, zap.NewNop())
	ctx := context.Background()

	assert.True(t, th.TryRestart(ctx, "svc", at(0), 1, time.Minute).Approved)
	assert.False(t, th.TryRestart(ctx, "svc", at(30), 1, time.Minute).Approved)

	d := th.TryRestart(ctx, "svc", at(61), 1, time.Minute)
	assert.True(t, d.Approved)
	assert.Equal(t, []time.Time{at(61)}, d.HistoryAfter)
}

func TestTryRestartHourWindow(t *testing.T) {
	th := New(context.Background(), nil, zap.NewNop())
	ctx := context.Background()

	for _, sec := range []int{0, 600, 1200} {
		require.True(t, th.TryRestart(ctx, "api", at(sec), 3, time.Hour).Approved)
	}

	denied := th.TryRestart(ctx, "api", at(3599), 3, time.Hour)
	assert.False(t, denied.Approved)
	assert.Len(t, denied.HistoryAfter, 3)

	// the first restart ages out exactly one window after it happened
	approved := th.TryRestart(ctx, "api", at(3600), 3, time.Hour)
	assert.True(t, approved.Approved)
	assert.Equal(t, []time.Time{at(600), at(1200), at(3600)}, approved.HistoryAfter)
}

func TestTryRestartServicesAreIndependent(t *testing.T) {
	th := New(context.Background(), nil, zap.NewNop())
	ctx := context.Background()

	assert.True(t, th.TryRestart(ctx, "a", at(0), 1, time.Hour).Approved)
	assert.True(t, th.TryRestart(ctx, "b", at(0), 1, time.Hour).Approved)
	assert.False(t, th.TryRestart(ctx, "a", at(1), 1, time.Hour).Approved)
}

func TestTryRestartZeroLimitNeverApproves(t *testing.T) {
	th := New(context.Background(), nil, zap.NewNop())
	assert.False(t, th.TryRestart(context.Background(), "svc", at(0), 0, time.Hour).Approved)
}

func TestPruneIsIdempotent(t *testing.T) {
	history := []time.Time{at(0), at(10), at(50), at(90)}
	now := at(100)

	once := Prune(history, now, time.Minute)
	twice := Prune(once, now, time.Minute)

	assert.Equal(t, []time.Time{at(50), at(90)}, once)
	assert.Equal(t, once, twice)
	assert.Len(t, history, 4)
}

func TestConcurrentRestartsNeverExceedLimit(t *testing.T) {
	store := &memoryStore{}
	th := New(context.Background(), store, zap.NewNop())

	var approved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.TryRestart(context.Background(), "svc", at(5), 3, time.Hour).Approved {
				approved.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), approved.Load())
	assert.Equal(t, 3, th.Count("svc", at(5), time.Hour))
	assert.Len(t, store.saved["svc"], 3)
}

func TestHistoryIsPersistedAndReloaded(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()

	th := New(ctx, store, zap.NewNop())
	th.TryRestart(ctx, "svc", at(0), 2, time.Hour)
	th.TryRestart(ctx, "svc", at(10), 2, time.Hour)
	th.TryRestart(ctx, "svc", at(20), 2, time.Hour)
	assert.Equal(t, 3, store.saves)

	reloaded := New(ctx, store, zap.NewNop())
	assert.Equal(t, 2, reloaded.Count("svc", at(20), time.Hour))
	assert.False(t, reloaded.TryRestart(ctx, "svc", at(30), 2, time.Hour).Approved)
}

func TestPersistFailureKeepsDecision(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("disk full")}
	th := New(context.Background(), store, zap.NewNop())

	d := th.TryRestart(context.Background(), "svc", at(0), 1, time.Hour)
	assert.True(t, d.Approved)
	assert.Error(t, d.PersistErr)

	// the slot is consumed in memory even though the write failed
	assert.False(t, th.TryRestart(context.Background(), "svc", at(1), 1, time.Hour).Approved)

	store.saveErr = nil
	require.NoError(t, th.Flush(context.Background()))
	assert.Len(t, store.saved["svc"], 1)
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	store := &memoryStore{loadErr: errors.New("corrupt")}
	th := New(context.Background(), store, zap.NewNop())
	assert.Empty(t, th.History())
}
