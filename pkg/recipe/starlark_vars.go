package recipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/cocinero/cocinero/pkg/engine"
)

// VarsScriptName is the Starlark file, next to a recipe, whose template_vars
// global is appended to the recipe's variable sets.
const VarsScriptName = "vars.star"

// DefaultVarsTimeout bounds the evaluation of a vars script.
const DefaultVarsTimeout = 5 * time.Second

// VarsEvaluator computes variable sets with Starlark.
type VarsEvaluator struct {
	timeout time.Duration
}

// NewVarsEvaluator creates an evaluator. A zero timeout uses DefaultVarsTimeout.
func NewVarsEvaluator(timeout time.Duration) *VarsEvaluator {
	if timeout <= 0 {
		timeout = DefaultVarsTimeout
	}
	return &VarsEvaluator{timeout: timeout}
}

// Evaluate runs script and returns its template_vars global, a list of dicts
// mapping names to scalars. A script that does not set template_vars yields no
// variable sets.
func (ve *VarsEvaluator) Evaluate(ctx context.Context, recipe, filename string, script []byte) ([]engine.VariableSet, error) {
	evalCtx, cancel := context.WithTimeout(ctx, ve.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "cocinero",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	type result struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan result, 1)

	go func() {
		predeclared := starlark.StringDict{
			"struct": starlarkstruct.Default,
			"recipe": starlark.String(recipe),
		}
		globals, err := starlark.ExecFile(thread, filename, script, predeclared)
		done <- result{globals: globals, err: err}
	}()

	var res result
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("vars script %s: execution timeout after %v: %w", filename, ve.timeout, evalCtx.Err())
		}
		return nil, fmt.Errorf("vars script %s: evaluation cancelled: %w", filename, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("vars script %s failed: %w", filename, res.err)
	}

	value, ok := res.globals["template_vars"]
	if !ok {
		return nil, nil
	}
	return toVariableSets(value)
}

func toVariableSets(value starlark.Value) ([]engine.VariableSet, error) {
	list, ok := value.(*starlark.List)
	if !ok {
		return nil, fmt.Errorf("template_vars must be a list, got %s", value.Type())
	}

	sets := make([]engine.VariableSet, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		dict, ok := list.Index(i).(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("template_vars[%d] must be a dict, got %s", i, list.Index(i).Type())
		}

		vars := make(engine.VariableSet, dict.Len())
		for _, item := range dict.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("template_vars[%d]: key %s is not a string", i, item[0])
			}
			s, err := starlarkScalar(item[1])
			if err != nil {
				return nil, fmt.Errorf("template_vars[%d]: variable %q: %w", i, key, err)
			}
			vars[key] = s
		}
		sets = append(sets, vars)
	}
	return sets, nil
}

func starlarkScalar(v starlark.Value) (string, error) {
	switch val := v.(type) {
	case starlark.String:
		return string(val), nil
	case starlark.Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case starlark.Int:
		return val.String(), nil
	case starlark.Float:
		return scalarString(float64(val))
	default:
		return "", fmt.Errorf("unsupported value of type %s", v.Type())
	}
}
