package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/policy"
	"github.com/cocinero/cocinero/pkg/stores"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	kindStyle    = lipgloss.NewStyle().Width(7)
	statusStyles = map[string]lipgloss.Style{
		string(engine.ActionStatusSucceeded): okStyle,
		string(engine.ActionStatusFailed):    failStyle,
		string(engine.ActionStatusSkipped):   dimStyle,
		string(engine.RunStateCompleted):     okStyle,
	}
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

func describeAction(a engine.Action) string {
	switch a.Kind {
	case engine.ActionWriteFile:
		return fmt.Sprintf("%s %s", engine.FormatMode(a.Mode), a.Path)
	case engine.ActionExecScript:
		if a.NeedsExecutable {
			return a.Path + dimStyle.Render(" (chmod u+rx)")
		}
		return a.Path
	default:
		return a.Command
	}
}

func printPlan(w io.Writer, plan *engine.Plan) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Plan %s", plan.ID)))
	fmt.Fprintf(w, "Recipes: %s\n", strings.Join(plan.Recipes, ", "))
	fmt.Fprintf(w, "Actions: %d\n\n", len(plan.Actions))

	for i, a := range plan.Actions {
		fmt.Fprintf(w, "%3d  %s %s  %s\n", i+1,
			kindStyle.Render(string(a.StepKind)),
			dimStyle.Render(fmt.Sprintf("[%s#%d]", a.Recipe, a.StepIndex)),
			describeAction(a))
	}

	if len(plan.Packages) > 0 {
		fmt.Fprintf(w, "\nPackages: %s\n", strings.Join(plan.Packages, " "))
	}
	if len(plan.SystemdUnits) > 0 {
		fmt.Fprintf(w, "Units:    %s\n", strings.Join(plan.SystemdUnits, " "))
	}
}

func printPolicyResult(w io.Writer, result *policy.Result) {
	if result == nil {
		return
	}
	if len(result.Violations) == 0 && len(result.Warnings) == 0 && len(result.Errors) == 0 {
		fmt.Fprintf(w, "%s %d policies passed\n", okStyle.Render("✓"), len(result.EvaluatedPolicies))
		return
	}
	for _, v := range result.Violations {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("✗ "+v.Policy), violationLine(v))
	}
	for _, v := range result.Warnings {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("! "+v.Policy), violationLine(v))
	}
	for _, msg := range result.Errors {
		fmt.Fprintf(w, "%s %s\n", warnStyle.Render("? error"), msg)
	}
}

func violationLine(v policy.Violation) string {
	line := fmt.Sprintf("[%s] %s", v.Severity, v.Message)
	if v.Action >= 0 {
		line += dimStyle.Render(fmt.Sprintf(" (action %d: %s)", v.Action+1, v.Target))
	}
	return line
}

func printOutcome(w io.Writer, plan *engine.Plan, out *engine.Outcome) {
	for i, r := range out.Results {
		fmt.Fprintf(w, "%3d  %-10s %s", i+1, renderStatus(string(r.Status)), describeAction(plan.Actions[i]))
		if r.Status != engine.ActionStatusSkipped {
			fmt.Fprint(w, dimStyle.Render(fmt.Sprintf("  %s", r.Duration.Round(time.Millisecond))))
		}
		fmt.Fprintln(w)
		if r.Status == engine.ActionStatusFailed {
			if r.Stderr != "" {
				fmt.Fprintln(w, indent(strings.TrimRight(r.Stderr, "\n")))
			}
			if r.Error != nil {
				fmt.Fprintln(w, indent(r.Error.Error()))
			}
		}
	}

	if out.Hooks != nil {
		if len(out.Hooks.PackagesInstalled) > 0 {
			fmt.Fprintf(w, "\nInstalled: %s\n", strings.Join(out.Hooks.PackagesInstalled, " "))
		}
		if len(out.Hooks.UnitsActivated) > 0 {
			fmt.Fprintf(w, "Activated: %s\n", strings.Join(out.Hooks.UnitsActivated, " "))
		}
		if out.Hooks.Err != nil {
			fmt.Fprintf(w, "%s %v\n", failStyle.Render("hooks failed:"), out.Hooks.Err)
		}
	}

	ok, failed, skipped := out.Counts()
	fmt.Fprintf(w, "\nRun %s %s: %d succeeded, %d failed, %d skipped in %s\n",
		out.RunID, renderStatus(string(out.State)), ok, failed, skipped,
		out.CompletedAt.Sub(out.StartedAt).Round(time.Millisecond))
}

func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-36s  %-10s  %-7s  %-20s  %s", "RUN", "STATE", "ACTIONS", "STARTED", "RECIPES")))
	for _, r := range runs {
		state := r.State
		if r.HooksError != nil {
			state += "*"
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-7d  %-20s  %s\n", r.ID, renderStatus(state), r.ActionCount,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), strings.Join(r.Recipes, ","))
	}
}

func printRun(w io.Writer, run *stores.Run, actions []*stores.ActionRecord, events []*stores.Event) {
	fmt.Fprintln(w, headerStyle.Render("Run "+run.ID))
	fmt.Fprintf(w, "Plan:     %s\n", run.PlanID)
	fmt.Fprintf(w, "Recipes:  %s\n", strings.Join(run.Recipes, ", "))
	fmt.Fprintf(w, "State:    %s\n", renderStatus(run.State))
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", run.Duration().Round(time.Millisecond))
	}
	if run.Error != nil {
		fmt.Fprintf(w, "Error:    %s\n", failStyle.Render(*run.Error))
	}
	if run.HooksError != nil {
		fmt.Fprintf(w, "Hooks:    %s\n", failStyle.Render(*run.HooksError))
	}

	fmt.Fprintln(w, "\n"+headerStyle.Render("Actions"))
	for _, a := range actions {
		fmt.Fprintf(w, "%3d  %-10s %s\n", a.Position+1, renderStatus(a.Status), a.Target)
		if a.Error != nil {
			fmt.Fprintln(w, indent(*a.Error))
		}
	}

	if len(events) > 0 {
		fmt.Fprintln(w, "\n"+headerStyle.Render("Events"))
		for _, e := range events {
			fmt.Fprintf(w, "%s  %-7s  %s\n", dimStyle.Render(e.Timestamp.Local().Format("15:04:05.000")), e.Level, e.Message)
		}
	}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "       " + l
	}
	return dimStyle.Render(strings.Join(lines, "\n"))
}
