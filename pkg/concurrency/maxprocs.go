package concurrency

import (
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeMaxProcs matches GOMAXPROCS to the container CPU quota. Call it
// at the start of main. The returned function restores the previous value.
func InitializeMaxProcs(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("Failed to set GOMAXPROCS from CPU quota", zap.Error(err))
		return func() {}
	}
	logger.Info("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}

// EffectiveCPUs returns GOMAXPROCS, which respects cgroup limits once
// InitializeMaxProcs has run.
func EffectiveCPUs() int {
	return runtime.GOMAXPROCS(0)
}
