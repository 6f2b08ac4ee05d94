// Package config provides the scheduler core's tunables.
//
// This module contains ONLY configuration that shapes the kernel and its
// operator surfaces:
//   - Table and machine sizing (process slots, cores, page pool, open files)
//   - Scheduling policy (aging threshold, default level, default weight)
//   - Timing (tick interval, idle poll, table sampling)
//   - Endpoints (gRPC and its rate limit, metrics, tracing)
//
// Environment parsing lives in loader.go; everything else works on plain maps
// so that YAML files, JSON payloads and tests share one code path.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/procsched/coreengine/typeutil"
)

// Scheduling levels as configured. The kernel package owns the typed values;
// config only validates the range.
const (
	LevelRoundRobin          = 1
	LevelLastComeFirstServed = 2
	LevelModifiedHRRN        = 3
)

// CoreConfig holds the scheduler core configuration.
type CoreConfig struct {
	// Machine sizing
	MaxProcesses int `json:"max_processes" yaml:"max_processes"` // process table slots (NPROC)
	NumCPU       int `json:"num_cpu" yaml:"num_cpu"`             // scheduler cores
	MaxOpenFiles int `json:"max_open_files" yaml:"max_open_files"`
	MemoryPages  int `json:"memory_pages" yaml:"memory_pages"` // reference page pool size

	// Scheduling policy
	AgingThreshold int `json:"aging_threshold" yaml:"aging_threshold"` // waiting ticks before promotion
	DefaultLevel   int `json:"default_level" yaml:"default_level"`     // level of freshly allocated processes
	DefaultWeight  int `json:"default_weight" yaml:"default_weight"`

	// Timing (milliseconds)
	TickIntervalMs   int `json:"tick_interval_ms" yaml:"tick_interval_ms"` // 0 disables the timer
	IdlePollMs       int `json:"idle_poll_ms" yaml:"idle_poll_ms"`
	SampleIntervalMs int `json:"sample_interval_ms" yaml:"sample_interval_ms"` // table gauges; 0 disables

	// Endpoints
	GRPCAddress     string `json:"grpc_address" yaml:"grpc_address"`
	MetricsAddress  string `json:"metrics_address" yaml:"metrics_address"`
	RateLimitPerMin int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"` // mutating RPCs per host; 0 disables
	TracingEndpoint string `json:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingStdout   bool   `json:"tracing_stdout" yaml:"tracing_stdout"`
	ServiceName     string `json:"service_name" yaml:"service_name"`

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		// Machine sizing
		MaxProcesses: 64,
		NumCPU:       2,
		MaxOpenFiles: 16,
		MemoryPages:  1024,

		// Scheduling policy
		AgingThreshold: 8000,
		DefaultLevel:   LevelLastComeFirstServed,
		DefaultWeight:  1,

		// Timing
		TickIntervalMs:   10,
		IdlePollMs:       5,
		SampleIntervalMs: 1000,

		// Endpoints
		GRPCAddress:     ":50061",
		MetricsAddress:  ":9091",
		RateLimitPerMin: 600,
		TracingEndpoint: "",
		TracingStdout:   false,
		ServiceName:     "procsched",

		// Logging
		LogLevel: "INFO",
	}
}

// CoreConfigFromMap creates CoreConfig from a map.
// Unknown keys are ignored; numbers may arrive as int or float64.
func CoreConfigFromMap(config map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	setInt := func(key string, dst *int) {
		if v, ok := typeutil.SafeInt(config[key]); ok {
			*dst = v
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := typeutil.SafeString(config[key]); ok {
			*dst = v
		}
	}

	setInt("max_processes", &c.MaxProcesses)
	setInt("num_cpu", &c.NumCPU)
	setInt("max_open_files", &c.MaxOpenFiles)
	setInt("memory_pages", &c.MemoryPages)
	setInt("aging_threshold", &c.AgingThreshold)
	setInt("default_level", &c.DefaultLevel)
	setInt("default_weight", &c.DefaultWeight)
	setInt("tick_interval_ms", &c.TickIntervalMs)
	setInt("idle_poll_ms", &c.IdlePollMs)
	setInt("sample_interval_ms", &c.SampleIntervalMs)
	setString("grpc_address", &c.GRPCAddress)
	setString("metrics_address", &c.MetricsAddress)
	setInt("rate_limit_per_minute", &c.RateLimitPerMin)
	setString("tracing_endpoint", &c.TracingEndpoint)
	if v, ok := typeutil.SafeBool(config["tracing_stdout"]); ok {
		c.TracingStdout = v
	}
	setString("service_name", &c.ServiceName)
	setString("log_level", &c.LogLevel)

	return c
}

// ToMap converts config to a map.
func (c *CoreConfig) ToMap() map[string]any {
	return map[string]any{
		"max_processes":         c.MaxProcesses,
		"num_cpu":               c.NumCPU,
		"max_open_files":        c.MaxOpenFiles,
		"memory_pages":          c.MemoryPages,
		"aging_threshold":       c.AgingThreshold,
		"default_level":         c.DefaultLevel,
		"default_weight":        c.DefaultWeight,
		"tick_interval_ms":      c.TickIntervalMs,
		"idle_poll_ms":          c.IdlePollMs,
		"sample_interval_ms":    c.SampleIntervalMs,
		"grpc_address":          c.GRPCAddress,
		"metrics_address":       c.MetricsAddress,
		"rate_limit_per_minute": c.RateLimitPerMin,
		"tracing_endpoint":      c.TracingEndpoint,
		"tracing_stdout":        c.TracingStdout,
		"service_name":          c.ServiceName,
		"log_level":             c.LogLevel,
	}
}

// Validate checks that the configuration can boot a kernel.
func (c *CoreConfig) Validate() error {
	switch {
	case c.MaxProcesses < 1:
		return fmt.Errorf("max_processes must be positive, got %d", c.MaxProcesses)
	case c.NumCPU < 1:
		return fmt.Errorf("num_cpu must be positive, got %d", c.NumCPU)
	case c.MaxOpenFiles < 1:
		return fmt.Errorf("max_open_files must be positive, got %d", c.MaxOpenFiles)
	case c.MemoryPages < 1:
		return fmt.Errorf("memory_pages must be positive, got %d", c.MemoryPages)
	case c.AgingThreshold < 1:
		return fmt.Errorf("aging_threshold must be positive, got %d", c.AgingThreshold)
	case c.DefaultLevel < LevelRoundRobin || c.DefaultLevel > LevelModifiedHRRN:
		return fmt.Errorf("default_level must be between %d and %d, got %d",
			LevelRoundRobin, LevelModifiedHRRN, c.DefaultLevel)
	case c.DefaultWeight < 1:
		return fmt.Errorf("default_weight must be positive, got %d", c.DefaultWeight)
	case c.TickIntervalMs < 0:
		return fmt.Errorf("tick_interval_ms must not be negative, got %d", c.TickIntervalMs)
	case c.IdlePollMs < 1:
		return fmt.Errorf("idle_poll_ms must be positive, got %d", c.IdlePollMs)
	case c.RateLimitPerMin < 0:
		return fmt.Errorf("rate_limit_per_minute must not be negative, got %d", c.RateLimitPerMin)
	case c.SampleIntervalMs < 0:
		return fmt.Errorf("sample_interval_ms must not be negative, got %d", c.SampleIntervalMs)
	}
	return nil
}

// TickInterval returns the timer period, zero when the timer is disabled.
func (c *CoreConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// IdlePoll returns how long an idle core waits before rescanning the table.
func (c *CoreConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMs) * time.Millisecond
}

// SampleInterval returns the table sampling period, zero when disabled.
func (c *CoreConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// =============================================================================
// GLOBAL CONFIG (set by the daemon at boot)
// =============================================================================

var (
	globalCoreConfig *CoreConfig
	configMu         sync.RWMutex
)

// GetCoreConfig gets the core configuration instance.
// Returns the injected config or defaults.
func GetCoreConfig() *CoreConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalCoreConfig == nil {
		return DefaultCoreConfig()
	}
	return globalCoreConfig
}

// SetCoreConfig sets the core configuration instance.
func SetCoreConfig(config *CoreConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = config
}

// ResetCoreConfig resets core config to nil (useful for testing).
// After reset, GetCoreConfig() will return defaults.
func ResetCoreConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalCoreConfig = nil
}
