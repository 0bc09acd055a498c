package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/policy"
	"github.com/cocinero/cocinero/pkg/recipe"
	"github.com/cocinero/cocinero/pkg/stores"
	"github.com/cocinero/cocinero/pkg/system"
	"github.com/cocinero/cocinero/pkg/telemetry"
)

// app holds the collaborators shared by the commands of one invocation.
type app struct {
	settings *Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	fs       *system.FileSystem
	loader   *recipe.Loader
}

func newApp(opts *globalOptions) (*app, error) {
	settings, err := opts.settings()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(opts.version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	parser, err := recipe.NewParser(recipe.WithParserLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create recipe parser: %w", err)
	}
	timeout, err := settings.varsTimeout()
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		tel:      tel,
		logger:   logger,
		fs:       system.NewFileSystem(),
		loader:   recipe.NewLoader(parser, recipe.NewVarsEvaluator(timeout), logger),
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// loadDocuments loads every recipe found at paths, in argument order.
func (a *app) loadDocuments(ctx context.Context, paths []string) ([]*engine.Document, error) {
	var docs []*engine.Document
	for _, path := range paths {
		loaded, err := a.loader.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return nil, engine.NewParseError(fmt.Sprintf("no recipes found in %v", paths), nil)
	}
	return docs, nil
}

// buildPlan loads recipes and builds one plan from them.
func (a *app) buildPlan(ctx context.Context, paths []string, root string) (*engine.Plan, error) {
	op := telemetry.StartOperation(a.tel.WithContext(ctx), "plan.build")
	plan, err := a.build(op.Ctx, paths, root)
	a.tel.Metrics.RecordPlanBuilt(err == nil)
	a.recordError(err)
	op.End(err)
	return plan, err
}

func (a *app) build(ctx context.Context, paths []string, root string) (*engine.Plan, error) {
	docs, err := a.loadDocuments(ctx, paths)
	if err != nil {
		return nil, err
	}

	opts := []engine.PlannerOption{engine.WithPlannerLogger(a.logger)}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid root %s: %w", root, err)
		}
		opts = append(opts, engine.WithRoot(abs))
	}
	return engine.NewPlanner(a.fs, opts...).BuildPlan(ctx, docs...)
}

// checkPolicies evaluates plan against the builtin and configured policies.
func (a *app) checkPolicies(ctx context.Context, plan *engine.Plan) (*policy.Result, error) {
	pe, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range a.settings.Policy.Disabled {
		if err := pe.DisablePolicy(name); err != nil {
			return nil, err
		}
	}

	result, err := pe.EvaluatePlan(ctx, plan)
	if err != nil {
		return nil, err
	}
	for _, v := range append(append([]policy.Violation{}, result.Violations...), result.Warnings...) {
		a.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		a.tel.LogPublishError(a.tel.Events.PublishPolicyViolation(v.Policy, string(v.Severity), v.Message))
	}
	for _, msg := range result.Errors {
		a.logger.Warn().Str("error", msg).Msg("Policy could not be evaluated")
	}
	return result, nil
}

// openStore opens the run history database, creating its directory.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := a.settings.State.Path
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}
	return store, nil
}

func (a *app) recordError(err error) {
	if err == nil {
		return
	}
	var code string
	if e, ok := asEngineError(err); ok {
		code = e.Code
	}
	kind := string(engine.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	a.tel.Metrics.RecordError(kind, code)
}
