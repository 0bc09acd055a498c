package engine

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// PackageChunkSize is the number of packages passed to one installer command.
const PackageChunkSize = 64

// WriteScript renders plan as a standalone shell script that performs the same
// actions in the same order and aborts on the first failure. File content is
// embedded base64 encoded.
func WriteScript(w io.Writer, plan *Plan) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "#!/bin/sh")
	fmt.Fprintf(bw, "# plan %s (%s)\n", plan.ID, strings.Join(plan.Recipes, ", "))
	fmt.Fprintln(bw, "set -e")

	for i, action := range plan.Actions {
		fmt.Fprintf(bw, "\n# [%d] %s step %d (%s)\n", i, action.Recipe, action.StepIndex, action.StepKind)
		switch action.Kind {
		case ActionWriteFile:
			fmt.Fprintf(bw, "mkdir -p %s\n", shellQuote(filepath.Dir(action.Path)))
			fmt.Fprintf(bw, "base64 -d > %s <<'EOF'\n", shellQuote(action.Path))
			encoded := base64.StdEncoding.EncodeToString(action.Content)
			for len(encoded) > 76 {
				fmt.Fprintln(bw, encoded[:76])
				encoded = encoded[76:]
			}
			if encoded != "" {
				fmt.Fprintln(bw, encoded)
			}
			fmt.Fprintln(bw, "EOF")
			fmt.Fprintf(bw, "chmod %s %s\n", FormatMode(action.Mode), shellQuote(action.Path))
		case ActionExecShell:
			fmt.Fprintf(bw, "(cd %s && sh -c %s)\n", shellQuote(dirOrDot(action.Dir)), shellQuote(action.Command))
		case ActionExecScript:
			if action.NeedsExecutable {
				fmt.Fprintf(bw, "chmod u+rx %s\n", shellQuote(action.Path))
			}
			fmt.Fprintf(bw, "(cd %s && %s)\n", shellQuote(dirOrDot(action.Dir)), shellQuote(action.Path))
		default:
			return fmt.Errorf("unknown action kind %q", action.Kind)
		}
	}

	if len(plan.Packages) > 0 {
		fmt.Fprintln(bw, "\n# packages")
		for chunk := range slices.Chunk(plan.Packages, PackageChunkSize) {
			quoted := make([]string, len(chunk))
			for i, p := range chunk {
				quoted[i] = shellQuote(p)
			}
			fmt.Fprintf(bw, "apt-get install -y %s\n", strings.Join(quoted, " "))
		}
	}
	for _, unit := range plan.SystemdUnits {
		fmt.Fprintf(bw, "\n# unit %s\nsystemctl enable --now %s\nsystemctl reload-or-restart %s\n",
			unit, shellQuote(unit), shellQuote(unit))
	}

	return bw.Flush()
}

// FormatMode renders mode as a four digit octal string, the inverse of ParseMode.
func FormatMode(mode os.FileMode) string {
	m := uint32(mode.Perm())
	if mode&os.ModeSetuid != 0 {
		m |= 0o4000
	}
	if mode&os.ModeSetgid != 0 {
		m |= 0o2000
	}
	if mode&os.ModeSticky != 0 {
		m |= 0o1000
	}
	return fmt.Sprintf("%04o", m)
}

func dirOrDot(dir string) string {
	if dir == "" {
		return "."
	}
	return dir
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=:@,+", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
