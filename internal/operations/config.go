package operations

import (
	"stagectl/internal/config"
)

// Config represents the dispatch configuration of one invocation
type Config struct {
	// Run every selected class inline, in selection order
	Sync bool `json:"sync"`

	// How asynchronous replicas are started (process or goroutine)
	WorkerMode string `json:"worker_mode"`

	// Per-runner record throttle; zero disables it
	RecordsPerSecond float64 `json:"records_per_second"`
	RecordBurst      int     `json:"record_burst"`
}

// NewConfig returns the default dispatch configuration
func NewConfig() *Config {
	return &Config{
		Sync:       false,
		WorkerMode: WorkerModeProcess,
	}
}

// ConfigFromSettings derives the dispatch configuration from the loaded
// worker settings.
func ConfigFromSettings(workers config.WorkersConfig) *Config {
	return NewConfigBuilder().
		WithWorkerMode(workers.Mode).
		WithRateLimit(workers.RecordsPerSecond, workers.RecordBurst).
		Build()
}

// RunnerOptions returns the runner options implied by the configuration
func (c *Config) RunnerOptions() []RunnerOption {
	if c.RecordsPerSecond <= 0 {
		return nil
	}
	return []RunnerOption{WithRateLimit(c.RecordsPerSecond, c.RecordBurst)}
}

// ConfigBuilder provides a fluent interface for building dispatch configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithSync forces inline execution
func (b *ConfigBuilder) WithSync(sync bool) *ConfigBuilder {
	b.config.Sync = sync
	return b
}

// WithWorkerMode sets how asynchronous replicas are started
func (b *ConfigBuilder) WithWorkerMode(mode string) *ConfigBuilder {
	if mode != "" {
		b.config.WorkerMode = mode
	}
	return b
}

// WithRateLimit throttles record processing per runner
func (b *ConfigBuilder) WithRateLimit(perSecond float64, burst int) *ConfigBuilder {
	b.config.RecordsPerSecond = perSecond
	b.config.RecordBurst = burst
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
