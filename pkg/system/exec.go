// Package system implements the engine collaborators against the local host:
// the file system, process execution, the distribution package manager and
// systemd.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cocinero/cocinero/pkg/engine"
)

// DefaultShell is the shell used for command strings.
const DefaultShell = "/bin/sh"

// CommandRunner runs a program with arguments to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (engine.ProcessResult, error)
}

var (
	_ engine.FileSystem        = (*FileSystem)(nil)
	_ engine.ProcessRunner     = (*Exec)(nil)
	_ engine.PackageManager    = (*PackageManager)(nil)
	_ engine.ServiceController = (*Systemd)(nil)
	_ CommandRunner            = (*Exec)(nil)
)

// Exec runs host processes. The zero value uses DefaultShell and inherits the
// environment of the current process.
type Exec struct {
	// Shell is the shell command strings are passed to with -c.
	Shell string

	// Env is appended to the inherited environment.
	Env []string
}

// NewExec creates a process runner using shell, or DefaultShell when empty.
func NewExec(shell string) *Exec {
	return &Exec{Shell: shell}
}

// RunShell runs command through the shell in dir.
func (e *Exec) RunShell(ctx context.Context, command, dir string) (engine.ProcessResult, error) {
	if command == "" {
		return engine.ProcessResult{}, fmt.Errorf("command is required")
	}
	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	return e.run(cmd)
}

// RunScript executes the file at path in dir. A relative path is taken
// relative to the current directory, not to dir.
func (e *Exec) RunScript(ctx context.Context, path, dir string) (engine.ProcessResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return engine.ProcessResult{}, fmt.Errorf("failed to resolve script %s: %w", path, err)
	}
	cmd := exec.CommandContext(ctx, abs)
	cmd.Dir = dir
	return e.run(cmd)
}

// Run executes name with args.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (engine.ProcessResult, error) {
	return e.run(exec.CommandContext(ctx, name, args...))
}

func (e *Exec) run(cmd *exec.Cmd) (engine.ProcessResult, error) {
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := engine.ProcessResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
	}

	return result, nil
}

// runChecked runs name and turns a non-zero exit into an error carrying stderr.
func runChecked(ctx context.Context, runner CommandRunner, name string, args ...string) error {
	res, err := runner.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			return fmt.Errorf("%s exited with status %d", name, res.ExitCode)
		}
		return fmt.Errorf("%s exited with status %d: %s", name, res.ExitCode, msg)
	}
	return nil
}
