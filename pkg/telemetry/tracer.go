package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrRunID    = attribute.Key("cocinero.run.id")
	AttrRunState = attribute.Key("cocinero.run.state")
	AttrPlanID   = attribute.Key("cocinero.plan.id")

	AttrActionID     = attribute.Key("cocinero.action.id")
	AttrActionKind   = attribute.Key("cocinero.action.kind")
	AttrActionTarget = attribute.Key("cocinero.action.target")
	AttrActionIndex  = attribute.Key("cocinero.action.index")

	AttrHook = attribute.Key("cocinero.hook")
)

// Tracer starts spans for runs, actions and hooks. A disabled tracer hands
// out non-recording spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer. When cfg is enabled the provider is also
// installed as the global otel provider.
func NewTracer(cfg TracingConfig, service, version, hostname string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(service)}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(service),
			semconv.ServiceVersionKey.String(version),
			semconv.HostNameKey.String(hostname),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(service),
	}, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithUserAgent("cocinero")))
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		// stdout carries plan and run output, spans go to stderr
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.Exporter)
	}
}

// StartSpan starts a span named operation.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartRunSpan starts the root span of a plan run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, planID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "run", AttrRunID.String(runID), AttrPlanID.String(planID))
}

// StartActionSpan starts a child span for one plan action.
func (t *Tracer) StartActionSpan(ctx context.Context, actionID, kind, target string, index int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "action."+kind,
		AttrActionID.String(actionID),
		AttrActionKind.String(kind),
		AttrActionTarget.String(target),
		AttrActionIndex.Int(index),
	)
}

// StartHookSpan starts a span for a package install or unit activation.
func (t *Tracer) StartHookSpan(ctx context.Context, hook string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "hook."+hook, AttrHook.String(hook))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// finishSpan sets the span status from err and ends it.
func finishSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the trace ID of the span in ctx, or "" when it is not recording.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
