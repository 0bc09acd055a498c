package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/cocinero/cocinero/pkg/recipe"
	"github.com/cocinero/cocinero/pkg/system"
	"github.com/cocinero/cocinero/pkg/telemetry"
)

// SettingsFileName is looked up in the working directory and in /etc/cocinero
// when no --config flag is given.
const SettingsFileName = "cocinero.toml"

// Environment overrides.
const (
	EnvStateDB  = "COCINERO_STATE_DB"
	EnvLogLevel = "LOG_LEVEL"
)

// Settings is the content of cocinero.toml.
type Settings struct {
	State   StateSettings   `toml:"state"`
	Policy  PolicySettings  `toml:"policy"`
	Logging LoggingSettings `toml:"logging"`
	Tracing TracingSettings `toml:"tracing"`
	Metrics MetricsSettings `toml:"metrics"`
	Runtime RuntimeSettings `toml:"runtime"`
}

// StateSettings configures the run history database.
type StateSettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path" validate:"required_if=Enabled true"`
}

// PolicySettings configures plan policies.
type PolicySettings struct {
	Enforce  bool     `toml:"enforce"`
	Paths    []string `toml:"paths" validate:"dive,required"`
	Disabled []string `toml:"disabled" validate:"dive,required"`
}

// LoggingSettings configures the CLI logger.
type LoggingSettings struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
	Output string `toml:"output"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled      bool    `toml:"enabled"`
	Exporter     string  `toml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `toml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `toml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `toml:"insecure"`
}

// MetricsSettings configures the metrics textfile export.
type MetricsSettings struct {
	Enabled      bool   `toml:"enabled"`
	TextfilePath string `toml:"textfile_path"`
}

// RuntimeSettings configures how actions and hooks run on the host.
type RuntimeSettings struct {
	Shell          string `toml:"shell" validate:"required"`
	PackageManager string `toml:"package_manager" validate:"omitempty,oneof=apt dnf yum zypper"`
	VarsTimeout    string `toml:"vars_timeout"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		State: StateSettings{
			Enabled: true,
			Path:    defaultStatePath(),
		},
		Policy: PolicySettings{
			Enforce: true,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Runtime: RuntimeSettings{
			Shell:       system.DefaultShell,
			VarsTimeout: recipe.DefaultVarsTimeout.String(),
		},
	}
}

func defaultStatePath() string {
	if os.Geteuid() == 0 {
		return "/var/lib/cocinero/state.db"
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "cocinero", "state.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "cocinero", "state.db")
	}
	return filepath.Join(os.TempDir(), "cocinero", "state.db")
}

// LoadSettings reads settings from path, or from the first default location
// that exists when path is empty. Environment overrides are applied last.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path == "" {
		for _, candidate := range []string{SettingsFileName, filepath.Join("/etc/cocinero", SettingsFileName)} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("invalid settings file %s: %s", path, strict.String())
			}
			return nil, fmt.Errorf("invalid settings file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvStateDB); v != "" {
		s.State.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.Logging.Level = strings.ToLower(v)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := s.varsTimeout(); err != nil {
		return fmt.Errorf("invalid settings: runtime.vars_timeout: %w", err)
	}
	return nil
}

func (s *Settings) varsTimeout() (time.Duration, error) {
	if s.Runtime.VarsTimeout == "" {
		return recipe.DefaultVarsTimeout, nil
	}
	d, err := time.ParseDuration(s.Runtime.VarsTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// TelemetryConfig maps the settings onto a telemetry configuration.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output
	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.TextfilePath = s.Metrics.TextfilePath
	return cfg
}
