package concurrency

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfigSource indicates where the worker sizing came from.
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Environment variables read by LoadConfig.
const (
	EnvWorkers           = "SAWMILL_WORKERS"
	EnvMaxConcurrent     = "SAWMILL_MAX_CONCURRENT"
	EnvBatchSize         = "SAWMILL_BATCH_SIZE"
	EnvFetchWait         = "SAWMILL_FETCH_WAIT"
	EnvOvertimeThreshold = "SAWMILL_OVERTIME_THRESHOLD"
	EnvOvertimeMode      = "SAWMILL_OVERTIME_MODE"
	EnvBreakerThreshold  = "SAWMILL_BREAKER_THRESHOLD"
	EnvBreakerReset      = "SAWMILL_BREAKER_RESET"
)

// Defaults applied when a variable is unset or invalid.
const (
	DefaultBatchSize         = 32
	DefaultFetchWait         = 2 * time.Second
	DefaultOvertimeThreshold = time.Second
	DefaultBreakerThreshold  = 20
	DefaultBreakerReset      = 30 * time.Second
)

// Config holds runtime sizing for the document runner.
type Config struct {
	Workers           int
	MaxConcurrent     int
	BatchSize         int
	FetchWait         time.Duration
	OvertimeThreshold time.Duration
	OvertimeMode      string
	BreakerThreshold  int
	BreakerReset      time.Duration

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig reads SAWMILL_* variables, falling back to values derived
// from the effective CPU count.
func LoadConfig() *Config {
	cfg := &Config{
		IsKubernetes:  os.Getenv("KUBERNETES_SERVICE_HOST") != "",
		EffectiveCPUs: EffectiveCPUs(),
		Source:        ConfigSourceAutoDetect,
	}

	cfg.Workers = getEnvInt(EnvWorkers, 0)
	cfg.MaxConcurrent = getEnvInt(EnvMaxConcurrent, 0)
	if cfg.Workers > 0 || cfg.MaxConcurrent > 0 {
		cfg.Source = ConfigSourceEnvVar
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers(cfg.IsKubernetes, cfg.EffectiveCPUs)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent(cfg.IsKubernetes, cfg.EffectiveCPUs)
	}

	cfg.BatchSize = getEnvInt(EnvBatchSize, DefaultBatchSize)
	cfg.FetchWait = getEnvDuration(EnvFetchWait, DefaultFetchWait)
	cfg.OvertimeThreshold = getEnvDuration(EnvOvertimeThreshold, DefaultOvertimeThreshold)
	cfg.OvertimeMode = strings.ToLower(os.Getenv(EnvOvertimeMode))
	cfg.BreakerThreshold = getEnvInt(EnvBreakerThreshold, DefaultBreakerThreshold)
	cfg.BreakerReset = getEnvDuration(EnvBreakerReset, DefaultBreakerReset)
	return cfg
}

// Validate checks that every size is positive.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.FetchWait <= 0 {
		errs = append(errs, fmt.Errorf("fetch wait must be positive, got %s", c.FetchWait))
	}
	if c.OvertimeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("overtime threshold must be positive, got %s", c.OvertimeThreshold))
	}
	return errors.Join(errs...)
}

func defaultWorkers(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 2)
	}
	return max(cpus, 4)
}

func defaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration syntax or a bare number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Workers: %d, MaxConcurrent: %d, BatchSize: %d, FetchWait: %s, Overtime: %s/%s, Breaker: %d/%s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.Workers, c.MaxConcurrent, c.BatchSize, c.FetchWait,
		c.OvertimeThreshold, c.OvertimeMode,
		c.BreakerThreshold, c.BreakerReset,
		c.IsKubernetes, c.EffectiveCPUs, c.Source,
	)
}
