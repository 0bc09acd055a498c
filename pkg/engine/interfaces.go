package engine

import (
	"context"
	"os"
	"time"
)

// FileSystem is the host file system as seen by the planner and runner.
type FileSystem interface {
	// ReadFile returns the content of path. A missing file yields an error
	// matching os.ErrNotExist.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to path, creating parent directories, and sets
	// the permissions of path to exactly mode.
	WriteFile(path string, data []byte, mode os.FileMode) error

	// SetExecutable adds owner read and execute permission to path.
	SetExecutable(path string) error

	// Exists reports whether path exists.
	Exists(path string) bool

	// Stat returns the permission bits of path.
	Stat(path string) (os.FileMode, error)
}

// ProcessResult is the captured result of a finished process.
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ProcessRunner runs processes to completion. A returned error means the
// process could not be started or waited on; a non-zero exit is reported
// through ProcessResult.ExitCode.
type ProcessRunner interface {
	// RunShell runs command through the system shell in dir.
	RunShell(ctx context.Context, command, dir string) (ProcessResult, error)

	// RunScript executes the file at path in dir.
	RunScript(ctx context.Context, path, dir string) (ProcessResult, error)
}

// PackageManager installs system packages.
type PackageManager interface {
	// Install installs all packages.
	Install(ctx context.Context, packages []string) error
}

// ServiceController manages systemd units.
type ServiceController interface {
	// Enable enables and starts unit.
	Enable(ctx context.Context, unit string) error

	// Reload reloads unit, restarting it when it cannot reload.
	Reload(ctx context.Context, unit string) error
}

// RunRecorder persists run history. Recorder failures are logged and never
// change the outcome of a run.
type RunRecorder interface {
	// RunStarted records a new run of plan.
	RunStarted(ctx context.Context, runID string, plan *Plan) error

	// ActionFinished records the terminal result of one action.
	ActionFinished(ctx context.Context, runID string, action Action, result ActionResult) error

	// RunFinished records the terminal outcome of a run.
	RunFinished(ctx context.Context, outcome *Outcome) error
}
