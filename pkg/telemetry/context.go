package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// cocinero invocation. The engine finds it through the context.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Hostname); err != nil {
		return nil, err
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	return t, nil
}

// LogPublishError logs an event the publisher refused, for example because
// the async buffer is full or the publisher is closed.
func (t *Telemetry) LogPublishError(err error) {
	if err == nil {
		return
	}
	zl := t.Logger.NewComponentLogger("events").Zerolog()
	zl.Debug().Err(err).Msg("Event not published")
}

type telemetryKey struct{}

// WithContext returns a context carrying t and its logger.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromContext returns the telemetry stored by WithContext, or nil.
func FromContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Shutdown delivers pending events, flushes spans, writes the metrics
// textfile and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Metrics.WriteTextfile(),
		t.Logger.Close(),
	)
}

// Operation is a traced unit of CLI work such as building a plan.
type Operation struct {
	Ctx  context.Context
	Span trace.Span
}

// StartOperation starts a span named name. Without telemetry in ctx the
// operation is a no-op.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	t := FromContext(ctx)
	if t == nil {
		return &Operation{Ctx: ctx}
	}

	spanCtx, span := t.Tracer.StartSpan(ctx, name, attrs...)
	logger := t.Logger.zlog.With().Str("operation", name)
	if id := TraceID(spanCtx); id != "" {
		logger = logger.Str("trace_id", id)
	}
	l := logger.Logger()
	return &Operation{Ctx: l.WithContext(spanCtx), Span: span}
}

// End finishes the operation with the outcome err.
func (o *Operation) End(err error) {
	finishSpan(o.Span, err)
}

// scope is the span and start time of a run or action in flight.
type scope struct {
	span    trace.Span
	started time.Time
}

func (s *scope) finish(err error) time.Duration {
	if s == nil {
		return 0
	}
	finishSpan(s.span, err)
	return time.Since(s.started)
}

type (
	runIDKey    struct{}
	runScopeKey struct{}
	actScopeKey struct{}
)

// RunIDFromContext returns the run ID set by WithRunContext, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// WithRunContext marks the start of a run: it opens the run span, tags the
// logger with run_id and publishes run.started.
func WithRunContext(ctx context.Context, runID, planID string) context.Context {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	t := FromContext(ctx)
	if t == nil {
		return ctx
	}

	ctx, span := t.Tracer.StartRunSpan(ctx, runID, planID)
	ctx = context.WithValue(ctx, runScopeKey{}, &scope{span: span, started: time.Now()})
	ctx = t.Logger.WithRunID(runID).WithContext(ctx)

	t.Metrics.RecordRunStarted()
	t.LogPublishError(t.Events.PublishRunStarted(runID, planID))
	return ctx
}

// EndRunContext closes the run opened by WithRunContext.
func EndRunContext(ctx context.Context, runID, state string, err error) {
	t := FromContext(ctx)
	if t == nil {
		return
	}

	s, _ := ctx.Value(runScopeKey{}).(*scope)
	if s != nil && s.span != nil {
		s.span.SetAttributes(AttrRunState.String(state))
	}
	elapsed := s.finish(err)

	t.Metrics.RecordRunCompleted(state, elapsed)
	if err != nil {
		t.LogPublishError(t.Events.PublishRunFailed(runID, err.Error()))
		return
	}
	t.LogPublishError(t.Events.PublishRunCompleted(runID, elapsed))
}

// WithActionContext marks the start of one action of a run.
func WithActionContext(ctx context.Context, runID, actionID, kind, target string, index int) context.Context {
	t := FromContext(ctx)
	if t == nil {
		return ctx
	}

	ctx, span := t.Tracer.StartActionSpan(ctx, actionID, kind, target, index)
	ctx = context.WithValue(ctx, actScopeKey{}, &scope{span: span, started: time.Now()})
	ctx = t.Logger.WithRunID(runID).WithAction(actionID, kind, index).WithContext(ctx)

	t.LogPublishError(t.Events.PublishActionStarted(runID, actionID, kind, target))
	return ctx
}

// EndActionContext closes the action opened by WithActionContext.
func EndActionContext(ctx context.Context, runID, actionID, kind, status string, err error) {
	t := FromContext(ctx)
	if t == nil {
		return
	}

	s, _ := ctx.Value(actScopeKey{}).(*scope)
	elapsed := s.finish(err)

	t.Metrics.RecordActionExecution(kind, status, elapsed)
	if err != nil {
		t.LogPublishError(t.Events.PublishActionFailed(runID, actionID, err.Error()))
		return
	}
	t.LogPublishError(t.Events.PublishActionCompleted(runID, actionID, elapsed))
}

// TrackHook starts tracking one hook call. Call the returned function with
// the call's result.
func TrackHook(ctx context.Context, hook string) func(err error) {
	t := FromContext(ctx)
	if t == nil {
		return func(error) {}
	}

	_, span := t.Tracer.StartHookSpan(ctx, hook)
	s := &scope{span: span, started: time.Now()}
	return func(err error) {
		s.finish(err)
		t.Metrics.RecordHook(hook, err == nil)
		t.LogPublishError(t.Events.PublishHook(RunIDFromContext(ctx), hook, err))
	}
}
