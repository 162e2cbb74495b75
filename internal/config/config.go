package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "STAGECTL"

// Config represents the complete application configuration
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline" toml:"pipeline" envconfig:"PIPELINE"`
	Database  DatabaseConfig  `yaml:"database" toml:"database" envconfig:"DATABASE"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envconfig:"LOGGING"`
	Workers   WorkersConfig   `yaml:"workers" toml:"workers" envconfig:"WORKERS"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry" envconfig:"TELEMETRY"`
}

// PipelineConfig names the stage classes taking part in the pipeline.
// Steps and Alerts are ordered: the order is the synchronous execution order.
type PipelineConfig struct {
	Name     string   `yaml:"name" toml:"name" envconfig:"NAME" validate:"required"`
	Steps    []string `yaml:"steps" toml:"steps" envconfig:"STEPS"`
	Alerts   []string `yaml:"alerts" toml:"alerts" envconfig:"ALERTS"`
	Loader   string   `yaml:"loader" toml:"loader" envconfig:"LOADER"`
	DataFile string   `yaml:"data_file" toml:"data_file" envconfig:"DATA_FILE"`
	AlertLog string   `yaml:"alert_log" toml:"alert_log" envconfig:"ALERT_LOG"`
}

// DatabaseConfig contains the data store connection settings
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" toml:"dsn" envconfig:"DSN" validate:"required"`
	Echo   bool   `yaml:"echo" toml:"echo" envconfig:"ECHO"`
	// MaxOpenConns caps the pool. Zero means one connection for sqlite,
	// which serializes concurrent sessions, and unlimited otherwise.
	MaxOpenConns int `yaml:"max_open_conns" toml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" toml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" toml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" toml:"output" envconfig:"OUTPUT" validate:"oneof=console stderr file both"`
	FilePath string `yaml:"file_path" toml:"file_path" envconfig:"FILE_PATH"`
}

// WorkersConfig controls how asynchronous stage replicas are started.
type WorkersConfig struct {
	// Mode is "process" (one OS process per replica) or "goroutine".
	Mode             string  `yaml:"mode" toml:"mode" envconfig:"MODE" validate:"oneof=process goroutine"`
	RecordsPerSecond float64 `yaml:"records_per_second" toml:"records_per_second" envconfig:"RECORDS_PER_SECOND" validate:"gte=0"`
	RecordBurst      int     `yaml:"record_burst" toml:"record_burst" envconfig:"RECORD_BURST" validate:"gte=0"`
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	TraceExporter   string  `yaml:"trace_exporter" toml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter  string  `yaml:"metric_exporter" toml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio     float64 `yaml:"sample_ratio" toml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
	MetricsTextfile string  `yaml:"metrics_textfile" toml:"metrics_textfile" envconfig:"METRICS_TEXTFILE"`
	Environment     string  `yaml:"environment" toml:"environment" envconfig:"ENVIRONMENT"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Name: "pipeline",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "pipeline.db",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/stagectl.log",
		},
		Workers: WorkersConfig{
			Mode: "process",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
			Environment:    "development",
		},
	}
}

// Load builds the configuration from defaults, then the optional settings
// file at path, then STAGECTL_* environment variables. Later sources win.
// Relative paths known after reading the file are anchored to its directory;
// paths coming from the environment are kept as given.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		if abs, err := filepath.Abs(filepath.Dir(path)); err == nil {
			cfg.resolvePaths(abs)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile decodes a YAML or TOML settings file on top of cfg. Keys
// absent from the file keep their current value.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// normalize trims list entries so "a, b" in an env var works as expected.
func (c *Config) normalize() {
	c.Pipeline.Steps = trimAll(c.Pipeline.Steps)
	c.Pipeline.Alerts = trimAll(c.Pipeline.Alerts)
	c.Pipeline.Loader = strings.TrimSpace(c.Pipeline.Loader)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
}

// Validate checks the struct-level constraints of the configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required for output %q", c.Logging.Output)
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
