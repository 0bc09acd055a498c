package engine

import (
	"fmt"
)

// RunState is the state of a plan run.
type RunState string

const (
	// RunStateIdle indicates the plan is built but not yet started.
	RunStateIdle RunState = "idle"

	// RunStateRunning indicates actions are being executed.
	RunStateRunning RunState = "running"

	// RunStateCompleted indicates every action succeeded.
	RunStateCompleted RunState = "completed"

	// RunStateFailed indicates an action failed or the run was cancelled.
	RunStateFailed RunState = "failed"
)

// IsTerminal returns true if the run state represents a final state.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (s RunState) CanTransitionTo(next RunState) bool {
	switch s {
	case RunStateIdle:
		return next == RunStateRunning
	case RunStateRunning:
		return next == RunStateCompleted || next == RunStateFailed
	default:
		return false
	}
}

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateIdle, RunStateRunning, RunStateCompleted, RunStateFailed:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// ActionStatus is the status of a single action within a run.
type ActionStatus string

const (
	// ActionStatusPending indicates the action has not started.
	ActionStatusPending ActionStatus = "pending"

	// ActionStatusRunning indicates the action is executing.
	ActionStatusRunning ActionStatus = "running"

	// ActionStatusSucceeded indicates the action completed.
	ActionStatusSucceeded ActionStatus = "succeeded"

	// ActionStatusFailed indicates the action failed.
	ActionStatusFailed ActionStatus = "failed"

	// ActionStatusSkipped indicates the action never ran because an earlier one failed.
	ActionStatusSkipped ActionStatus = "skipped"
)

// IsTerminal returns true if the action status represents a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed || s == ActionStatusSkipped
}

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case ActionStatusPending, ActionStatusRunning, ActionStatusSucceeded,
		ActionStatusFailed, ActionStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// StepKind is the declared kind of a recipe step.
type StepKind string

const (
	// StepKindInstall writes a source file to a destination.
	StepKindInstall StepKind = "install"

	// StepKindCopy is an alias of StepKindInstall.
	StepKindCopy StepKind = "copy"

	// StepKindShell runs a command string through the shell.
	StepKindShell StepKind = "shell"

	// StepKindRun executes a script file.
	StepKindRun StepKind = "run"
)

// Canonical folds aliases onto their canonical kind.
func (k StepKind) Canonical() StepKind {
	if k == StepKindCopy {
		return StepKindInstall
	}
	return k
}

// Validate checks if the step kind is valid.
func (k StepKind) Validate() error {
	switch k {
	case StepKindInstall, StepKindCopy, StepKindShell, StepKindRun:
		return nil
	default:
		return fmt.Errorf("invalid step kind: %q", string(k))
	}
}

// ActionKind is the kind of side effect a concrete action performs.
type ActionKind string

const (
	// ActionWriteFile writes content to a path with a mode.
	ActionWriteFile ActionKind = "write_file"

	// ActionExecShell runs a command string through the shell.
	ActionExecShell ActionKind = "exec_shell"

	// ActionExecScript executes a script file.
	ActionExecScript ActionKind = "exec_script"
)
