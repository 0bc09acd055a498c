package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/telemetry"
)

// Runner executes plans on the host, one action at a time.
type Runner struct {
	fs       FileSystem
	proc     ProcessRunner
	hooks    *HookRunner
	recorder RunRecorder
	logger   zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHooks enables post-provision hooks.
func WithHooks(hooks *HookRunner) RunnerOption {
	return func(r *Runner) {
		r.hooks = hooks
	}
}

// WithRecorder persists run history through rec.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger.With().Str("component", "runner").Logger()
	}
}

// NewRunner creates a runner performing file effects through fs and process
// effects through proc.
func NewRunner(fs FileSystem, proc ProcessRunner, opts ...RunnerOption) *Runner {
	r := &Runner{
		fs:     fs,
		proc:   proc,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run tracks the state of a single plan run.
type run struct {
	outcome *Outcome
}

func (r *run) transition(next RunState) {
	if !r.outcome.State.CanTransitionTo(next) {
		panic(fmt.Sprintf("invalid run state transition %s -> %s", r.outcome.State, next))
	}
	r.outcome.State = next
}

// RunPlan executes every action of plan in order and stops at the first
// failure. Cancelling ctx prevents further actions from starting. Hooks run
// only after every action succeeded.
func (r *Runner) RunPlan(ctx context.Context, plan *Plan) *Outcome {
	st := &run{outcome: &Outcome{
		RunID: newID(),
		State: RunStateIdle,
	}}
	out := st.outcome

	if plan == nil {
		st.transition(RunStateRunning)
		st.transition(RunStateFailed)
		out.Err = NewError(ErrorKindParseDefect, "plan is nil", nil).WithCode(ErrCodeValidation)
		out.StartedAt = time.Now()
		out.CompletedAt = out.StartedAt
		return out
	}

	out.PlanID = plan.ID
	out.Results = make([]ActionResult, len(plan.Actions))
	for i, action := range plan.Actions {
		out.Results[i] = ActionResult{ActionID: action.ID, Index: i, Status: ActionStatusPending}
	}

	logger := r.logger.With().Str("run_id", out.RunID).Str("plan_id", plan.ID).Logger()
	ctx = telemetry.WithRunContext(ctx, out.RunID, plan.ID)

	out.StartedAt = time.Now()
	st.transition(RunStateRunning)
	r.recordStart(ctx, out.RunID, plan)

	logger.Info().Int("actions", len(plan.Actions)).Msg("Run started")

	for i, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			r.fail(st, i, NewError(ErrorKindCancelled, "run interrupted", err).
				WithCode(ErrCodeCancelled).
				WithAction(i))
			break
		}

		result := r.execute(ctx, out.RunID, action, i)
		out.Results[i] = result
		r.recordAction(ctx, out.RunID, action, result)

		if result.Error != nil {
			logger.Error().Err(result.Error).Int("action", i).Msg("Action failed")
			r.fail(st, i, result.Error)
			break
		}
	}

	if out.State == RunStateRunning {
		st.transition(RunStateCompleted)
	}
	out.CompletedAt = time.Now()

	if out.State == RunStateCompleted {
		if r.hooks != nil {
			out.Hooks = r.hooks.Run(ctx, plan.Packages, plan.SystemdUnits)
		} else if len(plan.Packages) > 0 || len(plan.SystemdUnits) > 0 {
			logger.Warn().Msg("No hook runner configured, skipping packages and units")
		}
	}

	telemetry.EndRunContext(ctx, out.RunID, string(out.State), out.Err)
	r.recordFinish(ctx, out)

	succeeded, failed, skipped := out.Counts()
	logger.Info().
		Str("state", string(out.State)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Int("skipped", skipped).
		Dur("duration", out.CompletedAt.Sub(out.StartedAt)).
		Msg("Run finished")

	return out
}

// fail moves the run to Failed and marks every action after index as skipped.
func (r *Runner) fail(st *run, index int, err error) {
	out := st.outcome
	st.transition(RunStateFailed)
	out.Err = err
	if out.Results[index].Status != ActionStatusFailed {
		out.Results[index].Status = ActionStatusSkipped
	} else {
		failed := index
		out.FailedAction = &failed
	}
	for i := index + 1; i < len(out.Results); i++ {
		out.Results[i].Status = ActionStatusSkipped
	}
}

// execute performs one action synchronously.
func (r *Runner) execute(ctx context.Context, runID string, action Action, index int) ActionResult {
	ctx = telemetry.WithActionContext(ctx, runID, action.ID, string(action.Kind), action.Target(), index)

	result := ActionResult{
		ActionID:  action.ID,
		Index:     index,
		Status:    ActionStatusRunning,
		StartedAt: time.Now(),
	}

	r.logger.Debug().
		Str("action_id", action.ID).
		Str("kind", string(action.Kind)).
		Str("target", action.Target()).
		Int("step", action.StepIndex).
		Msg("Executing action")

	var err error
	switch action.Kind {
	case ActionWriteFile:
		err = r.fs.WriteFile(action.Path, action.Content, action.Mode)
	case ActionExecShell:
		err = r.runProcess(&result, func() (ProcessResult, error) {
			return r.proc.RunShell(ctx, action.Command, action.Dir)
		})
	case ActionExecScript:
		if action.NeedsExecutable {
			err = r.fs.SetExecutable(action.Path)
		}
		if err == nil {
			err = r.runProcess(&result, func() (ProcessResult, error) {
				return r.proc.RunScript(ctx, action.Path, action.Dir)
			})
		}
	default:
		err = fmt.Errorf("unknown action kind %q", action.Kind)
	}

	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		engineErr := NewActionError(action, index, err)
		if result.ExitCode != 0 {
			engineErr.WithCode(ErrCodeNonZeroExit).WithDetail("exit_code", result.ExitCode)
		}
		if ctx.Err() != nil {
			engineErr.Kind = ErrorKindCancelled
			engineErr.Code = ErrCodeCancelled
		}
		result.Status = ActionStatusFailed
		result.Error = engineErr
	} else {
		result.Status = ActionStatusSucceeded
	}

	telemetry.EndActionContext(ctx, runID, action.ID, string(action.Kind), string(result.Status), result.Error)
	return result
}

func (r *Runner) runProcess(result *ActionResult, fn func() (ProcessResult, error)) error {
	res, err := fn()
	result.ExitCode = res.ExitCode
	result.Stdout = res.Stdout
	result.Stderr = res.Stderr
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			return fmt.Errorf("exit status %d: %s", res.ExitCode, stderr)
		}
		return fmt.Errorf("exit status %d", res.ExitCode)
	}
	return nil
}

func (r *Runner) recordStart(ctx context.Context, runID string, plan *Plan) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RunStarted(ctx, runID, plan); err != nil {
		r.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run start")
	}
}

func (r *Runner) recordAction(ctx context.Context, runID string, action Action, result ActionResult) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.ActionFinished(context.WithoutCancel(ctx), runID, action, result); err != nil {
		r.logger.Warn().Err(err).Str("action_id", action.ID).Msg("Failed to record action")
	}
}

func (r *Runner) recordFinish(ctx context.Context, out *Outcome) {
	if r.recorder == nil {
		return
	}
	// History is written even when ctx was cancelled.
	if err := r.recorder.RunFinished(context.WithoutCancel(ctx), out); err != nil {
		r.logger.Warn().Err(err).Str("run_id", out.RunID).Msg("Failed to record run result")
	}
}

// RunPlan runs plan with the given collaborators and hooks.
func RunPlan(ctx context.Context, plan *Plan, fs FileSystem, proc ProcessRunner, hooks *HookRunner) *Outcome {
	return NewRunner(fs, proc, WithHooks(hooks)).RunPlan(ctx, plan)
}
