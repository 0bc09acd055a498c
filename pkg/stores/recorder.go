package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/telemetry"
)

var _ engine.RunRecorder = (*Recorder)(nil)

var timeNow = func() time.Time { return time.Now().UTC() }

// Recorder writes run history to a Store.
type Recorder struct {
	store  Store
	logger zerolog.Logger
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "run-recorder").Logger(),
	}
}

// RunStarted records the run and every plan action as pending.
func (r *Recorder) RunStarted(ctx context.Context, runID string, plan *engine.Plan) error {
	run := &Run{
		ID:           runID,
		PlanID:       plan.ID,
		Recipes:      plan.Recipes,
		Packages:     plan.Packages,
		SystemdUnits: plan.SystemdUnits,
		State:        string(engine.RunStateRunning),
		ActionCount:  len(plan.Actions),
		StartedAt:    timeNow(),
	}

	actions := make([]*ActionRecord, 0, len(plan.Actions))
	for i, a := range plan.Actions {
		actions = append(actions, &ActionRecord{
			ID:        a.ID,
			RunID:     runID,
			Position:  i,
			Kind:      string(a.Kind),
			Recipe:    a.Recipe,
			StepIndex: a.StepIndex,
			Target:    a.Target(),
			Status:    string(engine.ActionStatusPending),
		})
	}

	return r.store.CreateRun(ctx, run, actions)
}

// ActionFinished records the result of one action.
func (r *Recorder) ActionFinished(ctx context.Context, runID string, action engine.Action, result engine.ActionResult) error {
	rec := &ActionRecord{
		ID:         action.ID,
		RunID:      runID,
		Position:   result.Index,
		Status:     string(result.Status),
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		DurationMS: result.Duration.Milliseconds(),
	}
	if action.Kind != engine.ActionWriteFile && result.Status != engine.ActionStatusSkipped {
		code := result.ExitCode
		rec.ExitCode = &code
	}
	if result.Error != nil {
		msg := result.Error.Error()
		rec.Error = &msg
	}
	if !result.StartedAt.IsZero() {
		started := result.StartedAt
		rec.StartedAt = &started
	}

	return r.store.UpdateAction(ctx, rec)
}

// RunFinished records the terminal state, marks actions that never ran as
// skipped and stores the hook outcome.
func (r *Recorder) RunFinished(ctx context.Context, outcome *engine.Outcome) error {
	for _, res := range outcome.Results {
		if res.Status != engine.ActionStatusSkipped {
			continue
		}
		err := r.store.UpdateAction(ctx, &ActionRecord{
			RunID:    outcome.RunID,
			Position: res.Index,
			Status:   string(engine.ActionStatusSkipped),
		})
		if err != nil {
			return err
		}
	}

	summary := RunSummary{
		State:        string(outcome.State),
		FailedAction: outcome.FailedAction,
		CompletedAt:  outcome.CompletedAt,
	}
	if summary.CompletedAt.IsZero() {
		summary.CompletedAt = timeNow()
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		kind := string(engine.KindOf(outcome.Err))
		summary.Error = &msg
		summary.ErrorKind = &kind
	}
	if outcome.Hooks != nil && outcome.Hooks.Err != nil {
		msg := outcome.Hooks.Err.Error()
		summary.HooksError = &msg
	}

	if err := r.store.FinishRun(ctx, outcome.RunID, summary); err != nil {
		return err
	}
	r.logger.Debug().Str("run_id", outcome.RunID).Str("state", summary.State).Msg("Run recorded")
	return nil
}

// EventSink returns a subscriber that appends published events to store.
// Failures are logged; events are best-effort history.
func EventSink(store Store, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		rec := &Event{
			EventID:   event.ID,
			Type:      event.Type,
			Source:    event.Source,
			Level:     EventLevel(event.Level),
			Message:   event.Message,
			Timestamp: event.Timestamp,
		}
		if event.RunID != "" {
			runID := event.RunID
			rec.RunID = &runID
		}
		if event.ActionID != "" {
			actionID := event.ActionID
			rec.ActionID = &actionID
		}
		if len(event.Data) > 0 {
			if b, err := json.Marshal(event.Data); err == nil {
				details := string(b)
				rec.Details = &details
			}
		}

		if err := store.AppendEvent(context.Background(), rec); err != nil {
			logger.Warn().Err(err).Str("event", event.Type).Msg("Failed to store event")
		}
	}
}
