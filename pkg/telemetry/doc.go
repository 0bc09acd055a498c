// Package telemetry instruments plan builds and runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and an in-process event publisher behind a single Telemetry
// value that travels in the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// The engine calls WithRunContext, WithActionContext and TrackHook as it
// works. Each of them is a no-op when the context carries no Telemetry, so the
// engine can be used without any instrumentation.
//
// # Logging
//
// Logger wraps zerolog. Inside a run the context carries a logger tagged
// with run_id, and inside an action one also tagged with action_id:
//
//	zerolog.Ctx(ctx).Info().Msg("Writing file")
//
// Levels: trace, debug, info, warn, error. Formats: console, json.
//
// # Tracing
//
// A run produces a "run" span with one child span per action
// ("action.write_file", "action.exec_shell", "action.exec_script") and per hook
// call. Spans are exported over OTLP gRPC or printed to stderr.
//
// # Metrics
//
// Metrics are not served over HTTP. When MetricsConfig.TextfilePath is set, Shutdown writes
// the registry in the node_exporter textfile format. Collected series include
// cocinero_runs_completed_total, cocinero_actions_executed_total,
// cocinero_hooks_executed_total and cocinero_last_run_success.
//
// # Events
//
// The EventPublisher fans run, action, hook and policy events out to
// subscribers. Delivery is synchronous by default. Subscribers can filter with
// FilterByLevel, FilterByType and FilterByRunID.
package telemetry
