package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "zero buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("debug").String())
	assert.Equal(t, "warn", ParseLevel("warn").String())
	assert.Equal(t, "info", ParseLevel("bogus").String())
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cocinero.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.NewComponentLogger("runner").WithRunID("run-1").Info("Run started")
	logger.Debug("hidden")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"component":"runner"`)
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.NotContains(t, out, "hidden")
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	types := make([]string, len(l.events))
	for i, e := range l.events {
		types[i] = e.Type
	}
	return types
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	all := &eventLog{}
	errs := &eventLog{}
	ep.Subscribe(all.add, nil)
	ep.Subscribe(errs.add, FilterByLevel(EventLevelError))

	require.NoError(t, ep.PublishRunStarted("run-1", "plan-1"))
	require.NoError(t, ep.PublishActionFailed("run-1", "a1", "exit status 2"))
	require.NoError(t, ep.PublishRunFailed("run-1", "exit status 2"))

	assert.Equal(t, []string{EventTypeRunStarted, EventTypeActionFailed, EventTypeRunFailed}, all.types())
	assert.Equal(t, []string{EventTypeActionFailed, EventTypeRunFailed}, errs.types())

	first := all.events[0]
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, "engine", first.Source)
	assert.Equal(t, "plan-1", first.Data["plan_id"])

	require.NoError(t, ep.Shutdown(context.Background()))
}

func TestEventPublisher_AsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 100, EnableAsync: true})
	require.NoError(t, err)

	log := &eventLog{}
	ep.Subscribe(log.add, FilterByRunID("run-a"))

	for i := 0; i < 10; i++ {
		require.NoError(t, ep.PublishActionCompleted("run-a", "x", time.Millisecond))
	}
	require.NoError(t, ep.PublishActionCompleted("run-b", "y", time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ep.Shutdown(ctx))

	assert.Len(t, log.types(), 10)
}

func TestEventPublisher_GlobalFilterAndDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 1})
	require.NoError(t, err)
	log := &eventLog{}
	ep.Subscribe(log.add, nil)
	ep.AddFilter(FilterByType(EventTypePolicyViolation))

	require.NoError(t, ep.PublishRunStarted("r", "p"))
	require.NoError(t, ep.PublishPolicyViolation("dangerous-shell", "critical", "rm -rf /"))
	require.Equal(t, []string{EventTypePolicyViolation}, log.types())
	assert.Equal(t, EventLevelError, log.events[0].Level)
	assert.Equal(t, "policy", log.events[0].Source)

	disabled, err := NewEventPublisher(EventsConfig{})
	require.NoError(t, err)
	assert.NoError(t, disabled.PublishRunStarted("r", "p"))
	assert.NoError(t, disabled.Shutdown(context.Background()))
}

func TestMetrics_Textfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cocinero.prom")
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "cocinero", TextfilePath: path})
	require.NoError(t, err)

	m.RecordPlanBuilt(true)
	m.RecordRunStarted()
	m.RecordActionExecution("exec_shell", "succeeded", 20*time.Millisecond)
	m.RecordHook("packages.install", false)
	m.RecordError("hook_failure", "PACKAGE_INSTALL_FAILED")
	m.RecordPolicyViolation("world-writable", "warning")
	m.RecordRunCompleted("completed", time.Second)

	require.NoError(t, m.WriteTextfile())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	for _, want := range []string{
		`cocinero_runs_started_total 1`,
		`cocinero_actions_executed_total{kind="exec_shell",status="succeeded"} 1`,
		`cocinero_hooks_executed_total{hook="packages.install",status="failed"} 1`,
		`cocinero_errors_by_code_total{code="PACKAGE_INSTALL_FAILED"} 1`,
		`cocinero_last_run_success 1`,
	} {
		assert.True(t, strings.Contains(out, want), "missing %s", want)
	}
}

func TestMetrics_Disabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false, TextfilePath: filepath.Join(t.TempDir(), "x.prom")})
	require.NoError(t, err)

	m.RecordRunStarted()
	m.RecordRunCompleted("failed", time.Second)
	assert.Nil(t, m.Gatherer())
	assert.NoError(t, m.WriteTextfile())
}

func TestRunContext_PublishesLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "error"
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	log := &eventLog{}
	tel.Events.Subscribe(log.add, nil)

	ctx := tel.WithContext(context.Background())
	ctx = WithRunContext(ctx, "run-9", "plan-9")
	assert.Equal(t, "run-9", RunIDFromContext(ctx))

	actx := WithActionContext(ctx, "run-9", "a0", "write_file", "/etc/motd", 0)
	EndActionContext(actx, "run-9", "a0", "write_file", "succeeded", nil)
	actx = WithActionContext(ctx, "run-9", "a1", "exec_shell", "false", 1)
	EndActionContext(actx, "run-9", "a1", "exec_shell", "failed", errors.New("exit status 1"))
	EndRunContext(ctx, "run-9", "failed", errors.New("exit status 1"))

	assert.Equal(t, []string{
		EventTypeRunStarted,
		EventTypeActionStarted, EventTypeActionCompleted,
		EventTypeActionStarted, EventTypeActionFailed,
		EventTypeRunFailed,
	}, log.types())
}

func TestStartOperation_WithoutTelemetry(t *testing.T) {
	ctx := context.Background()
	op := StartOperation(ctx, "plan.build")
	assert.Equal(t, ctx, op.Ctx)
	assert.Nil(t, op.Span)
	op.End(nil)
}

func TestStartOperation_TagsLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops.log")
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Logging.Format = "json"
	cfg.Logging.Output = path
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)

	op := StartOperation(tel.WithContext(context.Background()), "plan.build")
	zerolog.Ctx(op.Ctx).Info().Msg("building")
	op.End(errors.New("boom"))
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"operation":"plan.build"`)
}

func TestEventPublisher_ClosedRejectsEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4, EnableAsync: true})
	require.NoError(t, err)
	require.NoError(t, ep.Shutdown(context.Background()))
	require.NoError(t, ep.Shutdown(context.Background()))

	assert.ErrorIs(t, ep.PublishRunStarted("r", "p"), ErrPublisherClosed)
}

func TestLogPublishError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = true
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = path
	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)

	require.NoError(t, tel.Events.Shutdown(context.Background()))
	ctx := WithRunContext(tel.WithContext(context.Background()), "run-1", "plan-1")
	EndRunContext(ctx, "run-1", "completed", nil)
	require.NoError(t, tel.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"events"`)
	assert.Contains(t, string(data), "Event not published")
	assert.Contains(t, string(data), ErrPublisherClosed.Error())
}
