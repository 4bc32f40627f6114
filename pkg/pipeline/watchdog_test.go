package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

type overtimeLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *overtimeLog) record(oc OvertimeContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, oc.TrackingID)
}

func (l *overtimeLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

// stoppedWatchdog returns a watchdog whose ticker is stopped so tests can
// rotate the ring deterministically with tick().
func stoppedWatchdog(t *testing.T, mode OvertimeMode) (*Watchdog, *overtimeLog, *CounterTracker) {
	t.Helper()
	log := &overtimeLog{}
	metrics := NewCounterTracker()
	cfg := DefaultWatchdogConfig(time.Hour)
	cfg.Mode = mode
	wd, err := NewWatchdog(cfg, metrics, log.record)
	require.NoError(t, err)
	wd.Stop()
	return wd, log, metrics
}

func tickN(wd *Watchdog, n int) {
	for i := 0; i < n; i++ {
		wd.tick()
	}
}

func TestWatchdogConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  WatchdogConfig
		ok   bool
	}{
		{"default", DefaultWatchdogConfig(time.Second), true},
		{"zero buckets uses default", WatchdogConfig{Threshold: time.Second}, true},
		{"zero threshold", WatchdogConfig{Threshold: 0}, false},
		{"negative threshold", WatchdogConfig{Threshold: -time.Second}, false},
		{"negative buckets", WatchdogConfig{Threshold: time.Second, Buckets: -1}, false},
		{"single bucket", WatchdogConfig{Threshold: time.Second, Buckets: 1}, false},
		{"two buckets", WatchdogConfig{Threshold: time.Second, Buckets: 2}, true},
		{"slice under a nanosecond", WatchdogConfig{Threshold: 5, Buckets: 10}, false},
		{"unknown mode", WatchdogConfig{Threshold: time.Second, Mode: OvertimeMode(9)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidWatchdogConfig)
			}
		})
	}

	_, err := NewWatchdog(WatchdogConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidWatchdogConfig)
}

func TestParseOvertimeMode(t *testing.T) {
	m, err := ParseOvertimeMode("edge")
	require.NoError(t, err)
	assert.Equal(t, EdgeTriggered, m)

	m, err = ParseOvertimeMode("")
	require.NoError(t, err)
	assert.Equal(t, LevelTriggered, m)

	_, err = ParseOvertimeMode("sometimes")
	assert.Error(t, err)
}

func TestWatchdogReportsAfterFullWindow(t *testing.T) {
	wd, log, metrics := stoppedWatchdog(t, LevelTriggered)

	wd.Register("doc-1", document.New(nil))

	tickN(wd, DefaultBuckets-1)
	assert.Empty(t, log.snapshot(), "no report before the ring wraps")

	wd.tick()
	assert.Equal(t, []string{"doc-1"}, log.snapshot())
	assert.Equal(t, int64(1), metrics.TotalOvertime())
}

func TestWatchdogLevelTriggeredRepeats(t *testing.T) {
	wd, log, metrics := stoppedWatchdog(t, LevelTriggered)

	reg := wd.Register("stuck", document.New(nil))
	tickN(wd, 3*DefaultBuckets)

	assert.Equal(t, []string{"stuck", "stuck", "stuck"}, log.snapshot())
	assert.Equal(t, int64(3), metrics.TotalOvertime())

	reg.Deregister()
	tickN(wd, DefaultBuckets)
	assert.Len(t, log.snapshot(), 3)
	assert.Zero(t, wd.InFlight())
}

func TestWatchdogEdgeTriggeredReportsOnce(t *testing.T) {
	wd, log, metrics := stoppedWatchdog(t, EdgeTriggered)

	reg := wd.Register("stuck", document.New(nil))
	tickN(wd, 3*DefaultBuckets)

	assert.Equal(t, []string{"stuck"}, log.snapshot())
	assert.Equal(t, int64(1), metrics.TotalOvertime())
	assert.Zero(t, wd.InFlight())

	// deregistering after the entry was dropped is a no-op
	assert.NotPanics(t, reg.Deregister)
}

func TestWatchdogDeregisterBeforeRotation(t *testing.T) {
	wd, log, _ := stoppedWatchdog(t, LevelTriggered)

	reg := wd.Register("quick", document.New(nil))
	tickN(wd, 4)
	wd.Deregister(reg)
	wd.Deregister(reg)
	tickN(wd, 2*DefaultBuckets)

	assert.Empty(t, log.snapshot())
}

func TestWatchdogRegistersIntoCurrentBucket(t *testing.T) {
	wd, log, _ := stoppedWatchdog(t, LevelTriggered)

	wd.Register("early", document.New(nil))
	tickN(wd, 5)
	wd.Register("late", document.New(nil))

	tickN(wd, 5)
	assert.Equal(t, []string{"early"}, log.snapshot())

	tickN(wd, 5)
	assert.Equal(t, []string{"early", "late"}, log.snapshot())
}

func TestWatchdogZeroRegistration(t *testing.T) {
	var reg Registration
	assert.NotPanics(t, reg.Deregister)
	assert.Empty(t, reg.TrackingID())
}

func TestWatchdogCallbackPanicIsContained(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	metrics := NewCounterTracker()
	wd, err := NewWatchdog(DefaultWatchdogConfig(time.Hour), metrics, func(OvertimeContext) {
		panic("callback bug")
	}, WithWatchdogLogger(zap.New(core)))
	require.NoError(t, err)
	wd.Stop()

	wd.Register("a", document.New(nil))
	wd.Register("b", document.New(nil))
	require.NotPanics(t, func() { tickN(wd, DefaultBuckets) })

	assert.Equal(t, int64(2), metrics.TotalOvertime())
	assert.Equal(t, 2, logs.FilterMessage("Overtime callback panicked").Len())
	assert.Equal(t, 2, logs.FilterMessage("Document processing exceeded threshold").Len())
}

func TestWatchdogTickerRotates(t *testing.T) {
	log := &overtimeLog{}
	wd, err := NewWatchdog(DefaultWatchdogConfig(100*time.Millisecond), nil, log.record)
	require.NoError(t, err)
	defer wd.Stop()

	wd.Register("background", document.New(nil))

	assert.Eventually(t, func() bool {
		return len(log.snapshot()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, wd.SliceWidth())
	assert.Equal(t, 100*time.Millisecond, wd.Threshold())
}

func TestWatchdogStopIsIdempotent(t *testing.T) {
	wd, err := NewWatchdog(DefaultWatchdogConfig(time.Second), nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		wd.Stop()
		wd.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWatchdogConcurrentRegistration(t *testing.T) {
	wd, err := NewWatchdog(DefaultWatchdogConfig(50*time.Millisecond), nil, nil)
	require.NoError(t, err)
	defer wd.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				reg := wd.Register(fmt.Sprintf("%d-%d", g, i), nil)
				reg.Deregister()
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, wd.InFlight())
}

func TestCounterTracker(t *testing.T) {
	c := NewCounterTracker()
	multi := MultiTracker{c, NoOpTracker{}}

	multi.RecordSucceeded()
	multi.RecordSucceeded()
	multi.RecordFailed()
	multi.RecordUnexpectedFailure()
	multi.RecordOvertime()

	assert.Equal(t, Totals{Succeeded: 2, Failed: 1, UnexpectedFailures: 1, Overtime: 1}, c.Totals())
	c.Reset()
	assert.Equal(t, Totals{}, c.Totals())
}
