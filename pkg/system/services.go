package system

import (
	"context"
	"fmt"
)

// Systemd controls units through systemctl.
type Systemd struct {
	// Binary is the systemctl executable.
	Binary string

	runner CommandRunner
}

// NewSystemd creates a service controller running systemctl through runner.
func NewSystemd(runner CommandRunner) *Systemd {
	return &Systemd{Binary: "systemctl", runner: runner}
}

// Enable enables unit and starts it.
func (s *Systemd) Enable(ctx context.Context, unit string) error {
	if unit == "" {
		return fmt.Errorf("unit name is required")
	}
	if err := runChecked(ctx, s.runner, s.Binary, "enable", "--now", unit); err != nil {
		return fmt.Errorf("failed to enable unit %s: %w", unit, err)
	}
	return nil
}

// Reload reloads unit, restarting it when the unit does not support reload.
func (s *Systemd) Reload(ctx context.Context, unit string) error {
	if unit == "" {
		return fmt.Errorf("unit name is required")
	}
	if err := runChecked(ctx, s.runner, s.Binary, "reload-or-restart", unit); err != nil {
		return fmt.Errorf("failed to reload unit %s: %w", unit, err)
	}
	return nil
}
