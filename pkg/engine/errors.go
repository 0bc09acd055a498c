package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an engine failure by the phase and cause that produced it.
type ErrorKind string

const (
	// ErrorKindParseDefect indicates a malformed recipe document.
	// Raised by the recipe parser before any plan is built.
	ErrorKindParseDefect ErrorKind = "parse_defect"

	// ErrorKindUndefinedVariable indicates a template placeholder with no matching variable.
	// Blocks the whole plan.
	ErrorKindUndefinedVariable ErrorKind = "undefined_variable"

	// ErrorKindSourceNotFound indicates a missing install source or run script.
	ErrorKindSourceNotFound ErrorKind = "source_not_found"

	// ErrorKindInvalidMode indicates an unparseable permission string.
	ErrorKindInvalidMode ErrorKind = "invalid_mode"

	// ErrorKindActionFailure indicates a file-system or process error while running a plan.
	// Earlier actions have already taken effect.
	ErrorKindActionFailure ErrorKind = "action_failure"

	// ErrorKindHookFailure indicates a package install or unit activation failure after
	// a completed run.
	ErrorKindHookFailure ErrorKind = "hook_failure"

	// ErrorKindCancelled indicates the run was interrupted before its next action.
	ErrorKindCancelled ErrorKind = "cancelled"

	// ErrorKindPolicyViolation indicates a plan denied by a policy.
	ErrorKindPolicyViolation ErrorKind = "policy_violation"
)

// IsBuildTime returns true for kinds raised before any side effect took place.
func (k ErrorKind) IsBuildTime() bool {
	switch k {
	case ErrorKindParseDefect, ErrorKindUndefinedVariable,
		ErrorKindSourceNotFound, ErrorKindInvalidMode:
		return true
	default:
		return false
	}
}

// EngineError is a classified engine failure with enough context for an operator
// to locate the step that caused it.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Recipe is the name of the recipe that owns the failing step.
	Recipe string `json:"recipe,omitempty"`

	// StepIndex is the zero-based index of the failing step, or -1.
	StepIndex int `json:"step_index"`

	// StepKind is the kind of the failing step.
	StepKind StepKind `json:"step_kind,omitempty"`

	// ActionIndex is the position of the failing action in the plan, or -1.
	ActionIndex int `json:"action_index"`

	// Target is the rendered path or command involved.
	Target string `json:"target,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ctx []string
	if e.Recipe != "" {
		ctx = append(ctx, "recipe="+e.Recipe)
	}
	if e.StepIndex >= 0 {
		ctx = append(ctx, fmt.Sprintf("step=%d", e.StepIndex))
	}
	if e.StepKind != "" {
		ctx = append(ctx, "kind="+string(e.StepKind))
	}
	if e.ActionIndex >= 0 {
		ctx = append(ctx, fmt.Sprintf("action=%d", e.ActionIndex))
	}
	if e.Target != "" {
		ctx = append(ctx, fmt.Sprintf("target=%q", e.Target))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError of the same kind. An empty Code on the target
// matches any code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// NewError creates an error of the given kind with no step context.
func NewError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{
		Kind:        kind,
		Message:     message,
		StepIndex:   -1,
		ActionIndex: -1,
		Err:         err,
	}
}

// NewParseError creates a parse defect error.
func NewParseError(message string, err error) *EngineError {
	return NewError(ErrorKindParseDefect, message, err).WithCode(ErrCodeParse)
}

// NewActionError creates an action failure for the action at index in a plan.
func NewActionError(action Action, index int, err error) *EngineError {
	return NewError(ErrorKindActionFailure, fmt.Sprintf("%s failed", action.Kind), err).
		WithCode(ErrCodeActionFailed).
		WithRecipe(action.Recipe).
		WithStep(action.StepIndex, action.StepKind).
		WithAction(index).
		WithTarget(action.Target())
}

// WithRecipe adds recipe context to an error.
func (e *EngineError) WithRecipe(name string) *EngineError {
	e.Recipe = name
	return e
}

// WithStep adds step context to an error.
func (e *EngineError) WithStep(index int, kind StepKind) *EngineError {
	e.StepIndex = index
	e.StepKind = kind
	return e
}

// WithAction adds the plan position of the failing action.
func (e *EngineError) WithAction(index int) *EngineError {
	e.ActionIndex = index
	return e
}

// WithTarget adds the rendered path or command.
func (e *EngineError) WithTarget(target string) *EngineError {
	e.Target = target
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first EngineError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsParseDefect returns true if the error is a recipe parse defect.
func IsParseDefect(err error) bool {
	return KindOf(err) == ErrorKindParseDefect
}

// IsUndefinedVariable returns true if the error is an undefined template variable.
func IsUndefinedVariable(err error) bool {
	return KindOf(err) == ErrorKindUndefinedVariable
}

// IsSourceNotFound returns true if the error is a missing source or script.
func IsSourceNotFound(err error) bool {
	return KindOf(err) == ErrorKindSourceNotFound
}

// IsInvalidMode returns true if the error is an unparseable mode.
func IsInvalidMode(err error) bool {
	return KindOf(err) == ErrorKindInvalidMode
}

// IsActionFailure returns true if the error is a run-time action failure.
func IsActionFailure(err error) bool {
	return KindOf(err) == ErrorKindActionFailure
}

// IsHookFailure returns true if the error is a post-provision hook failure.
func IsHookFailure(err error) bool {
	return KindOf(err) == ErrorKindHookFailure
}

// IsCancelled returns true if the run was interrupted.
func IsCancelled(err error) bool {
	return KindOf(err) == ErrorKindCancelled
}

// Common error codes.
const (
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeUndefinedVariable = "UNDEFINED_VARIABLE"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidMode       = "INVALID_MODE"
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeNonZeroExit       = "NON_ZERO_EXIT"
	ErrCodePackageInstall    = "PACKAGE_INSTALL_FAILED"
	ErrCodeUnitEnable        = "UNIT_ENABLE_FAILED"
	ErrCodeUnitReload        = "UNIT_RELOAD_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodePolicyDenied      = "POLICY_DENIED"
)
