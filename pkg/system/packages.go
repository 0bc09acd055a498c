package system

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/cocinero/cocinero/pkg/engine"
)

// DefaultChunkSize is the number of packages passed to one installer command.
const DefaultChunkSize = engine.PackageChunkSize

// PackageManager installs packages with the distribution package manager.
type PackageManager struct {
	// Manager is one of apt, dnf, yum or zypper. Empty means detect.
	Manager string

	// ChunkSize bounds the number of packages per installer command.
	ChunkSize int

	runner CommandRunner
}

// NewPackageManager creates a package manager running commands through runner.
func NewPackageManager(manager string, runner CommandRunner) *PackageManager {
	return &PackageManager{
		Manager:   manager,
		ChunkSize: DefaultChunkSize,
		runner:    runner,
	}
}

// Install installs packages, ChunkSize names per installer command.
func (p *PackageManager) Install(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	manager := p.Manager
	if manager == "" {
		var err error
		manager, err = detectPackageManager()
		if err != nil {
			return fmt.Errorf("failed to detect package manager: %w", err)
		}
	}

	size := p.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	for start := 0; start < len(packages); start += size {
		end := start + size
		if end > len(packages) {
			end = len(packages)
		}
		name, args, err := installCommand(manager, packages[start:end])
		if err != nil {
			return err
		}
		if err := runChecked(ctx, p.runner, name, args...); err != nil {
			return fmt.Errorf("failed to install packages: %w", err)
		}
	}
	return nil
}

func installCommand(manager string, packages []string) (string, []string, error) {
	var args []string
	switch manager {
	case "apt":
		args = []string{"install", "-y", "--no-install-recommends"}
		manager = "apt-get"
	case "dnf", "yum", "zypper":
		args = []string{"install", "-y"}
	default:
		return "", nil, fmt.Errorf("unsupported package manager: %s", manager)
	}
	return manager, append(args, packages...), nil
}

func detectPackageManager() (string, error) {
	for _, candidate := range []struct{ manager, binary string }{
		{"apt", "apt-get"},
		{"dnf", "dnf"},
		{"yum", "yum"},
		{"zypper", "zypper"},
	} {
		if _, err := exec.LookPath(candidate.binary); err == nil {
			return candidate.manager, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}
