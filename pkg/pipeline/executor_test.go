package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

func mustPipeline(t *testing.T, ignoreFailure bool, steps ...ExecutionStep) *Pipeline {
	t.Helper()
	p, err := NewPipeline("test-pipeline", "Test Pipeline", "", steps, ignoreFailure)
	require.NoError(t, err)
	return p
}

func newTestExecutor(t *testing.T) (*Executor, *CounterTracker) {
	t.Helper()
	metrics := NewCounterTracker()
	wd, err := NewWatchdog(DefaultWatchdogConfig(time.Second), metrics, nil)
	require.NoError(t, err)
	t.Cleanup(wd.Stop)
	return NewExecutor(wd, metrics), metrics
}

func TestExecuteSucceeds(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	p := mustPipeline(t, false,
		ExecutionStep{Name: "add", Processor: addField("new.field", "value")},
		ExecutionStep{Name: "other", Processor: addField("count", 2)},
	)
	doc := document.New(nil)

	res := exec.Execute(context.Background(), p, doc)

	assert.True(t, res.Succeeded)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Failure)
	assert.NotEmpty(t, res.TrackingID)
	v, ok := doc.Get("new.field")
	require.True(t, ok)
	assert.Equal(t, "value", v)
	assert.Equal(t, Totals{Succeeded: 1}, metrics.Totals())
}

func TestExecuteControlledFailureStops(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	after := counting(addField("after", true))
	p := mustPipeline(t, false,
		ExecutionStep{Name: "before", Processor: addField("before", true)},
		ExecutionStep{Name: "fail", Processor: failAlways("field missing")},
		ExecutionStep{Name: "after", Processor: after},
	)
	doc := document.New(nil)

	res := exec.Execute(context.Background(), p, doc)

	assert.False(t, res.Succeeded)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, StepFailure{Step: "fail", ProcessorType: "failAlways", Reason: "field missing"}, *res.Failure)
	assert.True(t, doc.Has("before"))
	assert.False(t, doc.Has("after"))
	assert.Zero(t, after.calls.Load())
	assert.Equal(t, Totals{Failed: 1}, metrics.Totals())
}

func TestExecuteIgnoreFailureContinues(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	partial := ProcessorFunc("partial", func(_ context.Context, doc *document.Doc) (ProcessResult, error) {
		_ = doc.Set("partial", true)
		return Failure("half done"), nil
	})
	p := mustPipeline(t, true,
		ExecutionStep{Name: "partial", Processor: partial},
		ExecutionStep{Name: "after", Processor: addField("after", true)},
	)
	doc := document.New(nil)

	res := exec.Execute(context.Background(), p, doc)

	assert.True(t, res.Succeeded)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Failure)
	require.Len(t, res.IgnoredFailures, 1)
	assert.Equal(t, "half done", res.IgnoredFailures[0].Reason)
	assert.True(t, doc.Has("partial"), "mutation from the failing step persists")
	assert.True(t, doc.Has("after"))
	assert.Equal(t, Totals{Succeeded: 1}, metrics.Totals())
}

func TestExecuteRemediation(t *testing.T) {
	t.Run("first successful remediation wins", func(t *testing.T) {
		exec, metrics := newTestExecutor(t)
		failingRemedy := counting(failAlways("still broken"))
		remedy := counting(addField("fallback", "default"))
		unused := counting(addField("unused", true))
		p := mustPipeline(t, false, ExecutionStep{
			Name:      "recover",
			Processor: failAlways("missing"),
			OnFailure: []Processor{failingRemedy, remedy, unused},
		})
		doc := document.New(nil)

		res := exec.Execute(context.Background(), p, doc)

		assert.True(t, res.Succeeded)
		assert.Equal(t, int64(1), failingRemedy.calls.Load())
		assert.Equal(t, int64(1), remedy.calls.Load())
		assert.Zero(t, unused.calls.Load())
		v, _ := doc.Get("fallback")
		assert.Equal(t, "default", v)
		assert.Equal(t, Totals{Succeeded: 1}, metrics.Totals())
	})

	t.Run("all remediations fail", func(t *testing.T) {
		exec, metrics := newTestExecutor(t)
		p := mustPipeline(t, false, ExecutionStep{
			Name:      "recover",
			Processor: failAlways("missing"),
			OnFailure: []Processor{failAlways("a"), failAlways("b")},
		})

		res := exec.Execute(context.Background(), p, document.New(nil))

		assert.False(t, res.Succeeded)
		require.NotNil(t, res.Failure)
		assert.Equal(t, "missing", res.Failure.Reason)
		assert.Equal(t, Totals{Failed: 1}, metrics.Totals())
	})

	t.Run("remediation error is unexpected", func(t *testing.T) {
		exec, metrics := newTestExecutor(t)
		p := mustPipeline(t, true, ExecutionStep{
			Name:      "recover",
			Processor: failAlways("missing"),
			OnFailure: []Processor{errorAlways()},
		})

		res := exec.Execute(context.Background(), p, document.New(nil))

		assert.False(t, res.Succeeded)
		assert.ErrorIs(t, res.Err, errBoom)
		assert.Equal(t, Totals{UnexpectedFailures: 1}, metrics.Totals())
	})
}

func TestExecuteUnexpectedFailure(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		exec, metrics := newTestExecutor(t)
		remedy := counting(addField("fallback", true))
		after := counting(addField("after", true))
		p := mustPipeline(t, ignore,
			ExecutionStep{Name: "explode", Processor: errorAlways(), OnFailure: []Processor{remedy}},
			ExecutionStep{Name: "after", Processor: after},
		)

		res := exec.Execute(context.Background(), p, document.New(nil))

		assert.False(t, res.Succeeded)
		require.Error(t, res.Err)
		assert.True(t, res.Unexpected())
		var pe *PipelineExecutionError
		require.True(t, errors.As(res.Err, &pe))
		assert.Equal(t, "explode", pe.Step)
		assert.Equal(t, "test-pipeline", pe.PipelineID)
		assert.Equal(t, "errorAlways", pe.ProcessorType)
		assert.ErrorIs(t, res.Err, errBoom)
		assert.Zero(t, remedy.calls.Load(), "remediation must not run on unexpected failures")
		assert.Zero(t, after.calls.Load())
		assert.Equal(t, Totals{UnexpectedFailures: 1}, metrics.Totals())
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	p := mustPipeline(t, false, ExecutionStep{Name: "panic", Processor: panicAlways()})

	var res ExecutionResult
	require.NotPanics(t, func() {
		res = exec.Execute(context.Background(), p, document.New(nil))
	})

	assert.False(t, res.Succeeded)
	assert.ErrorIs(t, res.Err, ErrProcessorPanic)
	var panicErr *PanicError
	require.True(t, errors.As(res.Err, &panicErr))
	assert.Equal(t, "unexpected state", panicErr.Value)
	assert.Equal(t, Totals{UnexpectedFailures: 1}, metrics.Totals())
}

func TestExecuteConditionPanicIsUnexpected(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	bad := ConditionFunc(func(*document.Doc) bool { panic(errBoom) })
	p := mustPipeline(t, true, ExecutionStep{Name: "guarded", Condition: bad, Processor: addField("x", 1)})

	res := exec.Execute(context.Background(), p, document.New(nil))

	assert.ErrorIs(t, res.Err, errBoom)
	assert.Equal(t, Totals{UnexpectedFailures: 1}, metrics.Totals())
}

func TestExecuteGuardedOut(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	guarded := counting(failAlways("should not run"))
	p := mustPipeline(t, false,
		ExecutionStep{Name: "guarded", Condition: fieldEquals("kind", "access"), Processor: guarded},
		ExecutionStep{Name: "tag", Condition: fieldEquals("kind", "error"), Processor: addField("tagged", true)},
	)
	doc := document.New(map[string]interface{}{"kind": "error"})

	res := exec.Execute(context.Background(), p, doc)

	assert.True(t, res.Succeeded)
	assert.Zero(t, guarded.calls.Load())
	assert.True(t, doc.Has("tagged"))
	assert.Equal(t, Totals{Succeeded: 1}, metrics.Totals())
}

func TestExecuteNilPipeline(t *testing.T) {
	exec, metrics := newTestExecutor(t)

	res := exec.Execute(context.Background(), nil, document.New(nil))

	assert.False(t, res.Succeeded)
	assert.ErrorIs(t, res.Err, ErrInvalidPipeline)
	assert.Equal(t, Totals{UnexpectedFailures: 1}, metrics.Totals())
}

func TestExecuteDeregistersFromWatchdog(t *testing.T) {
	metrics := NewCounterTracker()
	wd, err := NewWatchdog(DefaultWatchdogConfig(time.Minute), metrics, nil)
	require.NoError(t, err)
	defer wd.Stop()
	exec := NewExecutor(wd, metrics)

	var during int
	probe := ProcessorFunc("probe", func(context.Context, *document.Doc) (ProcessResult, error) {
		during = wd.InFlight()
		return Success(), nil
	})
	p := mustPipeline(t, false, ExecutionStep{Name: "probe", Processor: probe})

	exec.Execute(context.Background(), p, document.New(nil))
	assert.Equal(t, 1, during)
	assert.Zero(t, wd.InFlight())

	p = mustPipeline(t, false, ExecutionStep{Name: "panic", Processor: panicAlways()})
	exec.Execute(context.Background(), p, document.New(nil))
	assert.Zero(t, wd.InFlight())
}

func TestExecuteReportsOvertime(t *testing.T) {
	metrics := NewCounterTracker()
	var mu sync.Mutex
	reported := map[string]OvertimeContext{}
	wd, err := NewWatchdog(DefaultWatchdogConfig(200*time.Millisecond), metrics, func(oc OvertimeContext) {
		mu.Lock()
		defer mu.Unlock()
		reported[oc.TrackingID] = oc
	})
	require.NoError(t, err)
	defer wd.Stop()

	ids := []string{"slow", "fast"}
	next := 0
	exec := NewExecutor(wd, metrics, WithTrackingIDs(func() string {
		id := ids[next]
		next++
		return id
	}))

	slowDoc := document.New(map[string]interface{}{"name": "slow"})
	slow := mustPipeline(t, false, ExecutionStep{Name: "sleep", Processor: sleepFor(350 * time.Millisecond)})
	res := exec.Execute(context.Background(), slow, slowDoc)
	require.True(t, res.Succeeded)

	fast := mustPipeline(t, false, ExecutionStep{Name: "add", Processor: addField("x", 1)})
	res = exec.Execute(context.Background(), fast, document.New(nil))
	require.True(t, res.Succeeded)

	// give the ring a full extra window to report anything left behind
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, reported, "slow")
	assert.Same(t, slowDoc, reported["slow"].Doc)
	assert.Equal(t, 200*time.Millisecond, reported["slow"].Threshold)
	assert.NotContains(t, reported, "fast")
	assert.GreaterOrEqual(t, metrics.TotalOvertime(), int64(1))
	assert.Equal(t, int64(2), metrics.TotalSucceeded())
}

func TestExecuteConcurrentSharedPipeline(t *testing.T) {
	exec, metrics := newTestExecutor(t)
	p := mustPipeline(t, false,
		ExecutionStep{Name: "add", Processor: addField("seen", true)},
		ExecutionStep{Name: "fail-odd", Condition: fieldEquals("odd", true), Processor: failAlways("odd")},
	)

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := document.New(map[string]interface{}{"odd": i%2 == 1})
			exec.Execute(context.Background(), p, doc)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, Totals{Succeeded: n / 2, Failed: n / 2}, metrics.Totals())
}

func TestExecuteSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	exec := NewExecutor(nil, nil, WithTracer(tp.Tracer(TracerName)))
	p := mustPipeline(t, false,
		ExecutionStep{Name: "add", Processor: addField("a", 1)},
		ExecutionStep{Name: "explode", Processor: errorAlways()},
	)

	res := exec.Execute(context.Background(), p, document.New(nil))
	require.Error(t, res.Err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "pipeline.execute", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	var stepEvents int
	for _, ev := range span.Events() {
		if ev.Name == "step" {
			stepEvents++
		}
	}
	assert.Equal(t, 2, stepEvents)
}
