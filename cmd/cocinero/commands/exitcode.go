package commands

import (
	"context"
	"errors"

	"github.com/cocinero/cocinero/pkg/engine"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitPlan      = 2
	ExitAction    = 3
	ExitHook      = 4
	ExitPolicy    = 5
	ExitCancelled = 130
)

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}

	switch kind := engine.KindOf(err); {
	case kind.IsBuildTime():
		return ExitPlan
	case kind == engine.ErrorKindActionFailure:
		return ExitAction
	case kind == engine.ErrorKindHookFailure:
		return ExitHook
	case kind == engine.ErrorKindPolicyViolation:
		return ExitPolicy
	case kind == engine.ErrorKindCancelled:
		return ExitCancelled
	default:
		return ExitError
	}
}

func asEngineError(err error) (*engine.EngineError, bool) {
	var e *engine.EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
