package telemetry

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Config selects where cocinero sends its logs, spans, metrics and events.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Hostname is recorded on every span. Defaults to os.Hostname.
	Hostname string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path that is appended to.
	Output string

	// EnableCaller adds file:line to each entry.
	EnableCaller bool

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string
}

// TracingConfig configures span export for runs, actions and hooks.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none. With none spans are sampled but dropped.
	Exporter string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	SamplingRate  float64
	ExportTimeout time.Duration
	Insecure      bool
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string

	// TextfilePath receives the registry in node_exporter textfile format
	// on shutdown. Empty disables the export.
	TextfilePath string

	// DurationBuckets are the histogram buckets in seconds used for runs,
	// actions and hooks.
	DurationBuckets []float64
}

// EventsConfig configures the run event publisher.
type EventsConfig struct {
	Enabled    bool
	BufferSize int

	// EnableAsync delivers events from a background goroutine. Synchronous
	// delivery keeps events ordered with the run's own writes.
	EnableAsync bool
}

// DefaultDurationBuckets span quick file writes up to long package installs.
var DefaultDurationBuckets = []float64{0.005, 0.05, 0.25, 1, 5, 30, 120, 600, 1800}

// DefaultConfig returns the configuration used when nothing is overridden:
// console logs on stderr, metrics kept in memory, tracing off.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		ServiceName:    "cocinero",
		ServiceVersion: "dev",
		Hostname:       host,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 10 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Namespace:       "cocinero",
			DurationBuckets: DefaultDurationBuckets,
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp":
			if c.Tracing.Endpoint == "" {
				errs = append(errs, errors.New("otlp exporter requires an endpoint"))
			}
		case "stdout", "none":
		default:
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %g outside [0, 1]", c.Tracing.SamplingRate))
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
