package processors

import (
	"context"
	"time"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// TypeSleep is the registered type of the sleep processor.
const TypeSleep = "sleep"

// Sleep blocks for a fixed duration. It is used to exercise the watchdog
// and to simulate slow stages in pipeline definitions.
type Sleep struct {
	duration time.Duration
}

// NewSleep creates a sleep processor.
func NewSleep(d time.Duration) (*Sleep, error) {
	if d < 0 {
		return nil, registry.NewConfigError(TypeSleep, "duration", "must not be negative", nil)
	}
	return &Sleep{duration: d}, nil
}

// CreateSleep builds a sleep processor from {duration}. Numbers are milliseconds.
func CreateSleep(cfg registry.Config) (pipeline.Processor, error) {
	if !cfg.Has("duration") {
		return nil, registry.NewConfigError(TypeSleep, "duration", "is required", nil)
	}
	d, err := cfg.Duration("duration", 0)
	if err != nil {
		return nil, registry.NewConfigError(TypeSleep, "duration", "invalid duration", err)
	}
	return NewSleep(d)
}

func (s *Sleep) Type() string { return TypeSleep }

// Process returns ctx.Err() when the context ends first.
func (s *Sleep) Process(ctx context.Context, _ *document.Doc) (pipeline.ProcessResult, error) {
	timer := time.NewTimer(s.duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return pipeline.Success(), nil
	case <-ctx.Done():
		return pipeline.ProcessResult{}, ctx.Err()
	}
}
