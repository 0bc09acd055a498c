package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/telemetry"
)

// HookRunner installs packages and activates systemd units after a completed run.
type HookRunner struct {
	packages PackageManager
	services ServiceController
	logger   zerolog.Logger
}

// NewHookRunner creates a hook runner.
func NewHookRunner(packages PackageManager, services ServiceController, logger zerolog.Logger) *HookRunner {
	return &HookRunner{
		packages: packages,
		services: services,
		logger:   logger.With().Str("component", "hooks").Logger(),
	}
}

// Run installs packages in a single call, then enables and reloads each unit
// in order. It stops at the first failure. Nothing already applied is undone.
func (h *HookRunner) Run(ctx context.Context, packages, units []string) *HookOutcome {
	out := &HookOutcome{}

	if len(packages) > 0 {
		if err := h.step(ctx, "packages.install", func() error {
			return h.packages.Install(ctx, packages)
		}); err != nil {
			out.Err = hookError("package install failed", ErrCodePackageInstall, fmt.Sprint(packages), err)
			return out
		}
		out.PackagesInstalled = append([]string(nil), packages...)
		h.logger.Info().Strs("packages", packages).Msg("Packages installed")
	}

	for _, unit := range units {
		if err := h.step(ctx, "unit.enable", func() error {
			return h.services.Enable(ctx, unit)
		}); err != nil {
			out.Err = hookError("unit enable failed", ErrCodeUnitEnable, unit, err)
			return out
		}
		if err := h.step(ctx, "unit.reload", func() error {
			return h.services.Reload(ctx, unit)
		}); err != nil {
			out.Err = hookError("unit reload failed", ErrCodeUnitReload, unit, err)
			return out
		}
		out.UnitsActivated = append(out.UnitsActivated, unit)
		h.logger.Info().Str("unit", unit).Msg("Unit activated")
	}

	return out
}

func (h *HookRunner) step(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := telemetry.TrackHook(ctx, name)
	err := fn()
	done(err)
	return err
}

func hookError(message, code, target string, err error) *EngineError {
	kind := ErrorKindHookFailure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrorKindCancelled
		code = ErrCodeCancelled
	}
	return NewError(kind, message, err).WithCode(code).WithTarget(target)
}
