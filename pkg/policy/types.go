package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cocinero/cocinero/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// ManagedMarker is the disclaimer a managed text file is expected to carry.
const ManagedMarker = "managed by cocinero"

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// package's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Action is the plan index of the offending action, or -1 for the plan
	// as a whole.
	Action int `json:"action"`

	// Target is the path or command of the offending action.
	Target string `json:"target,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the plan.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns a policy violation error when the plan is denied.
func (r *Result) Err() error {
	if r == nil || r.Allowed || len(r.Violations) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	first := r.Violations[0]
	return engine.NewError(engine.ErrorKindPolicyViolation,
		fmt.Sprintf("plan denied by %d policy violation(s)", len(r.Violations)),
		errors.New(strings.Join(msgs, "; "))).
		WithCode(engine.ErrCodePolicyDenied).
		WithAction(first.Action).
		WithTarget(first.Target).
		WithDetail("violations", r.Violations)
}

// Input is the document policies evaluate, exposed to Rego as input.
type Input struct {
	PlanID       string        `json:"plan_id"`
	Recipes      []string      `json:"recipes"`
	Actions      []ActionInput `json:"actions"`
	Packages     []string      `json:"packages"`
	SystemdUnits []string      `json:"systemd_units"`
}

// ActionInput describes one plan action to policies.
type ActionInput struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Recipe  string `json:"recipe"`
	Step    int    `json:"step"`
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`

	// Mode is the permission as an octal string such as "0644".
	Mode string `json:"mode,omitempty"`

	// ModeBits is the permission as a number, special bits included.
	ModeBits int `json:"mode_bits"`

	// Text is set when the written content is valid UTF-8.
	Text bool `json:"text"`

	// Managed is set when the written content carries ManagedMarker.
	Managed bool `json:"managed"`
}

// NewInput converts a plan into policy input. File content itself is not
// exposed, only properties derived from it.
func NewInput(plan *engine.Plan) *Input {
	in := &Input{
		PlanID:       plan.ID,
		Recipes:      nonNil(plan.Recipes),
		Actions:      make([]ActionInput, 0, len(plan.Actions)),
		Packages:     nonNil(plan.Packages),
		SystemdUnits: nonNil(plan.SystemdUnits),
	}

	for i, a := range plan.Actions {
		ai := ActionInput{
			Index:   i,
			Kind:    string(a.Kind),
			Recipe:  a.Recipe,
			Step:    a.StepIndex,
			Path:    a.Path,
			Command: a.Command,
		}
		if a.Kind == engine.ActionWriteFile {
			ai.ModeBits = modeBits(a.Mode)
			ai.Mode = fmt.Sprintf("%04o", ai.ModeBits)
			ai.Text = utf8.Valid(a.Content)
			ai.Managed = strings.Contains(strings.ToLower(string(a.Content)), ManagedMarker)
		}
		in.Actions = append(in.Actions, ai)
	}
	return in
}

func modeBits(mode os.FileMode) int {
	bits := int(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if mode&os.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if mode&os.ModeSticky != 0 {
		bits |= 0o1000
	}
	return bits
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
