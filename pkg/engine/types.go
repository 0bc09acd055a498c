package engine

import (
	"os"
	"time"
)

// VariableSet maps template variable names to their values.
type VariableSet map[string]string

// Document is a parsed recipe. It is read-only once built.
type Document struct {
	// Name identifies the recipe in diagnostics and run history.
	Name string `json:"name"`

	// BaseDir is the directory relative src and script paths resolve against.
	// Process actions run with BaseDir as their working directory.
	BaseDir string `json:"base_dir"`

	// Packages are installed in one call after a completed run.
	Packages []string `json:"packages,omitempty"`

	// SystemdUnits are enabled and reloaded, in order, after packages.
	SystemdUnits []string `json:"systemd_units,omitempty"`

	// TemplateVars apply to every templated step.
	TemplateVars []VariableSet `json:"template_vars,omitempty"`

	// Steps run in declaration order.
	Steps []Step `json:"steps"`
}

// Step is one declared provisioning step. The set of implementations is closed:
// *InstallStep, *ShellStep and *RunStep.
type Step interface {
	// Kind returns the declared kind of the step.
	Kind() StepKind

	// Templated reports whether the step repeats once per variable set.
	Templated() bool

	isStep()
}

// InstallStep writes src to dest. Kind "copy" is an alias.
type InstallStep struct {
	Template bool   `json:"template,omitempty"`
	Src      string `json:"src"`
	Dest     string `json:"dest"`
	// Mode is an octal permission string. Empty means copy the permissions of Src.
	Mode string `json:"mode,omitempty"`
	// Alias records that the step was declared with kind "copy".
	Alias bool `json:"-"`
}

// ShellStep runs Cmd through the shell.
type ShellStep struct {
	Template bool   `json:"template,omitempty"`
	Cmd      string `json:"cmd"`
}

// RunStep executes the script file at Script.
type RunStep struct {
	Template bool   `json:"template,omitempty"`
	Script   string `json:"script"`
}

func (s *InstallStep) Kind() StepKind {
	if s.Alias {
		return StepKindCopy
	}
	return StepKindInstall
}

func (s *ShellStep) Kind() StepKind { return StepKindShell }
func (s *RunStep) Kind() StepKind   { return StepKindRun }

func (s *InstallStep) Templated() bool { return s.Template }
func (s *ShellStep) Templated() bool   { return s.Template }
func (s *RunStep) Templated() bool     { return s.Template }

func (*InstallStep) isStep() {}
func (*ShellStep) isStep()   {}
func (*RunStep) isStep()     {}

// ExecutionUnit pairs a step with at most one variable set.
type ExecutionUnit struct {
	Step      Step
	StepIndex int
	// Vars is nil when the step is not templated.
	Vars VariableSet
	// VarsIndex is the position of Vars in the document's template_vars, or -1.
	VarsIndex int
}

// HasVars reports whether the unit carries a variable set.
func (u ExecutionUnit) HasVars() bool {
	return u.VarsIndex >= 0
}

// Action is a fully resolved instruction. Actions are never mutated after the
// planner creates them.
type Action struct {
	// ID is the unique identifier for this action.
	ID string `json:"id"`

	// Kind selects which of the fields below are meaningful.
	Kind ActionKind `json:"kind"`

	// Recipe is the name of the recipe that declared the step.
	Recipe string `json:"recipe,omitempty"`

	// StepIndex is the index of the originating step within its recipe.
	StepIndex int `json:"step_index"`

	// StepKind is the declared kind of the originating step.
	StepKind StepKind `json:"step_kind"`

	// VarsIndex is the variable set this action was rendered with, or -1.
	VarsIndex int `json:"vars_index"`

	// Path is the destination for write_file and the script for exec_script.
	Path string `json:"path,omitempty"`

	// Source is the install source the content was read from.
	Source string `json:"source,omitempty"`

	// Content is the bytes written by write_file.
	Content []byte `json:"-"`

	// Mode is the permission set applied by write_file.
	Mode os.FileMode `json:"mode,omitempty"`

	// Command is the rendered command string for exec_shell.
	Command string `json:"command,omitempty"`

	// Dir is the working directory for process actions.
	Dir string `json:"dir,omitempty"`

	// NeedsExecutable is set when the script lacks execute permission.
	NeedsExecutable bool `json:"needs_executable,omitempty"`
}

// Target returns the rendered path or command the action operates on.
func (a Action) Target() string {
	if a.Kind == ActionExecShell {
		return a.Command
	}
	return a.Path
}

// Plan is the complete ordered sequence of actions for one provisioning run.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Recipes lists the recipe names the plan was built from, in order.
	Recipes []string `json:"recipes"`

	// Actions run strictly in this order.
	Actions []Action `json:"actions"`

	// Packages are installed after a completed run.
	Packages []string `json:"packages,omitempty"`

	// SystemdUnits are enabled and reloaded after packages.
	SystemdUnits []string `json:"systemd_units,omitempty"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	// ActionID is the ID of the action.
	ActionID string `json:"action_id"`

	// Index is the position of the action in the plan.
	Index int `json:"index"`

	// Status is the final status of the action.
	Status ActionStatus `json:"status"`

	// ExitCode is the process exit code for process actions.
	ExitCode int `json:"exit_code"`

	// Stdout is captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// Error is set when the action failed.
	Error error `json:"-"`

	// StartedAt is when the action started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration"`
}

// HookOutcome is the result of the post-provision hooks.
type HookOutcome struct {
	// PackagesInstalled lists the packages handed to the package manager.
	PackagesInstalled []string `json:"packages_installed,omitempty"`

	// UnitsActivated lists units that were enabled and reloaded.
	UnitsActivated []string `json:"units_activated,omitempty"`

	// Err is the first hook failure, if any.
	Err error `json:"-"`
}

// Succeeded reports whether all hooks succeeded.
func (h *HookOutcome) Succeeded() bool {
	return h == nil || h.Err == nil
}

// Outcome is the explicit record of what a run did.
type Outcome struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// PlanID is the plan that was run.
	PlanID string `json:"plan_id"`

	// State is the terminal state of the run.
	State RunState `json:"state"`

	// Results has one entry per plan action, in plan order.
	Results []ActionResult `json:"results"`

	// FailedAction is the index of the failing action, if any.
	FailedAction *int `json:"failed_action,omitempty"`

	// Err is the error that moved the run to Failed.
	Err error `json:"-"`

	// Hooks is nil unless the run completed.
	Hooks *HookOutcome `json:"hooks,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached its terminal state.
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded reports whether the run completed and every hook succeeded.
func (o *Outcome) Succeeded() bool {
	return o.State == RunStateCompleted && o.Hooks.Succeeded()
}

// Counts returns the number of succeeded, failed and skipped actions.
func (o *Outcome) Counts() (succeeded, failed, skipped int) {
	for _, r := range o.Results {
		switch r.Status {
		case ActionStatusSucceeded:
			succeeded++
		case ActionStatusFailed:
			failed++
		case ActionStatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}
