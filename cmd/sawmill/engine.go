package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Sawmill/pkg/concurrency"
	"github.com/wehubfusion/Sawmill/pkg/config"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/processors"
)

// engine is a loaded pipeline with its executor and watchdog.
type engine struct {
	def      *config.Definition
	pipeline *pipeline.Pipeline
	executor *pipeline.Executor
	watchdog *pipeline.Watchdog
	totals   *pipeline.CounterTracker
}

// engineHooks attach sinks once the pipeline id is known. Both may be nil.
type engineHooks struct {
	trackers   func(pipelineID string) ([]pipeline.MetricsTracker, error)
	onOvertime func(pipelineID string) pipeline.OvertimeCallback
}

// loadEngine builds the pipeline at path with a watchdog configured from
// conc and the definition's overrides.
func loadEngine(path string, conc *concurrency.Config, hooks engineHooks, logger *zap.Logger) (*engine, error) {
	def, p, err := config.Load(path, processors.NewRegistry())
	if err != nil {
		return nil, err
	}

	base := pipeline.DefaultWatchdogConfig(conc.OvertimeThreshold)
	if conc.OvertimeMode != "" {
		mode, err := pipeline.ParseOvertimeMode(conc.OvertimeMode)
		if err != nil {
			return nil, err
		}
		base.Mode = mode
	}
	wcfg, err := def.WatchdogConfig(base)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", p.ID(), err)
	}

	totals := pipeline.NewCounterTracker()
	tracker := pipeline.MultiTracker{totals}
	if hooks.trackers != nil {
		extra, err := hooks.trackers(p.ID())
		if err != nil {
			return nil, err
		}
		tracker = append(tracker, extra...)
	}

	var cb pipeline.OvertimeCallback
	if hooks.onOvertime != nil {
		cb = hooks.onOvertime(p.ID())
	}
	logger = logger.With(zap.String("pipeline_id", p.ID()))
	wd, err := pipeline.NewWatchdog(wcfg, tracker, cb, pipeline.WithWatchdogLogger(logger))
	if err != nil {
		return nil, err
	}

	return &engine{
		def:      def,
		pipeline: p,
		executor: pipeline.NewExecutor(wd, tracker, pipeline.WithLogger(logger)),
		watchdog: wd,
		totals:   totals,
	}, nil
}

func (e *engine) Close() {
	e.watchdog.Stop()
}
