package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// execute turns one execution unit into its concrete action.
func (p *Planner) execute(doc *Document, unit ExecutionUnit) (Action, error) {
	var (
		action Action
		err    error
	)
	switch step := unit.Step.(type) {
	case *InstallStep:
		action, err = p.installAction(doc, step, unit)
	case *ShellStep:
		action, err = p.shellAction(doc, step, unit)
	case *RunStep:
		action, err = p.runAction(doc, step)
	default:
		err = NewError(ErrorKindParseDefect, fmt.Sprintf("unsupported step type %T", unit.Step), nil).
			WithCode(ErrCodeValidation)
	}
	if err != nil {
		return Action{}, withStepContext(err, doc, unit)
	}

	action.Recipe = doc.Name
	action.StepIndex = unit.StepIndex
	action.StepKind = unit.Step.Kind()
	action.VarsIndex = unit.VarsIndex
	return action, nil
}

func (p *Planner) installAction(doc *Document, step *InstallStep, unit ExecutionUnit) (Action, error) {
	src := resolvePath(doc.BaseDir, step.Src)
	content, err := p.fs.ReadFile(src)
	if err != nil {
		return Action{}, sourceError("install source", src, err)
	}

	var mode os.FileMode
	if step.Mode != "" {
		mode, err = ParseMode(step.Mode)
		if err != nil {
			return Action{}, err
		}
	} else {
		mode, err = p.fs.Stat(src)
		if err != nil {
			return Action{}, sourceError("install source", src, err)
		}
	}

	dest := step.Dest
	if unit.HasVars() {
		if dest, err = Render(step.Dest, unit.Vars); err != nil {
			return Action{}, err
		}
		rendered, err := Render(string(content), unit.Vars)
		if err != nil {
			return Action{}, withTarget(err, src)
		}
		content = []byte(rendered)
	}
	if dest == "" {
		return Action{}, NewError(ErrorKindParseDefect, "install destination is empty", nil).
			WithCode(ErrCodeValidation)
	}

	return Action{
		ID:      newID(),
		Kind:    ActionWriteFile,
		Path:    p.reroot(resolvePath(doc.BaseDir, dest)),
		Source:  src,
		Content: content,
		Mode:    mode,
	}, nil
}

func (p *Planner) shellAction(doc *Document, step *ShellStep, unit ExecutionUnit) (Action, error) {
	cmd := step.Cmd
	if unit.HasVars() {
		var err error
		if cmd, err = Render(step.Cmd, unit.Vars); err != nil {
			return Action{}, err
		}
	}

	return Action{
		ID:      newID(),
		Kind:    ActionExecShell,
		Command: cmd,
		Dir:     doc.BaseDir,
	}, nil
}

func (p *Planner) runAction(doc *Document, step *RunStep) (Action, error) {
	// exec resolves a relative path against Dir, so the script must be absolute.
	script, err := filepath.Abs(resolvePath(doc.BaseDir, step.Script))
	if err != nil {
		return Action{}, sourceError("run script", step.Script, err)
	}
	if !p.fs.Exists(script) {
		return Action{}, sourceError("run script", script, os.ErrNotExist)
	}
	mode, err := p.fs.Stat(script)
	if err != nil {
		return Action{}, sourceError("run script", script, err)
	}

	return Action{
		ID:              newID(),
		Kind:            ActionExecScript,
		Path:            script,
		Dir:             doc.BaseDir,
		NeedsExecutable: mode&0o100 == 0,
	}, nil
}

// ParseMode parses an octal permission string such as "644", "0755" or "0o600".
// Setuid, setgid and sticky bits are accepted.
func ParseMode(s string) (os.FileMode, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0o"), "0O")
	if digits == "" {
		return 0, invalidMode(s, errors.New("empty mode"))
	}
	v, err := strconv.ParseUint(digits, 8, 32)
	if err != nil {
		return 0, invalidMode(s, err)
	}
	if v > 0o7777 {
		return 0, invalidMode(s, fmt.Errorf("mode %o out of range", v))
	}

	mode := os.FileMode(v & 0o777)
	if v&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if v&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if v&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode, nil
}

func invalidMode(s string, err error) *EngineError {
	return NewError(ErrorKindInvalidMode, fmt.Sprintf("invalid mode %q", s), err).
		WithCode(ErrCodeInvalidMode).
		WithDetail("mode", s)
}

func sourceError(what, path string, err error) *EngineError {
	msg := fmt.Sprintf("%s not found", what)
	if !errors.Is(err, os.ErrNotExist) {
		msg = fmt.Sprintf("%s unreadable", what)
	}
	return NewError(ErrorKindSourceNotFound, msg, err).
		WithCode(ErrCodeNotFound).
		WithTarget(path)
}

// withStepContext fills in recipe and step context on engine errors that lack it.
func withStepContext(err error, doc *Document, unit ExecutionUnit) error {
	var e *EngineError
	if !errors.As(err, &e) {
		return err
	}
	if e.Recipe == "" {
		e.Recipe = doc.Name
	}
	if e.StepIndex < 0 {
		e.StepIndex = unit.StepIndex
		e.StepKind = unit.Step.Kind()
	}
	if unit.HasVars() {
		e.WithDetail("vars_index", unit.VarsIndex)
	}
	return e
}

func withTarget(err error, target string) error {
	var e *EngineError
	if errors.As(err, &e) && e.Target == "" {
		e.Target = target
	}
	return err
}

func resolvePath(base, path string) string {
	if base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
