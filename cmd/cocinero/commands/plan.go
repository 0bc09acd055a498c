package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/policy"
)

func newPlanCommand(opts *globalOptions) *cobra.Command {
	var scriptPath string

	cmd := &cobra.Command{
		Use:   "plan [path...]",
		Short: "Show the actions a run would perform",
		Long: `Build a plan from the recipes at the given paths and print it. Policy
violations are reported but do not fail the command.

With --script, the plan is exported as a POSIX shell script instead.
Use "-" to write the script to standard output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			plan, err := a.buildPlan(ctx, recipeArgs(args), opts.root)
			if err != nil {
				return err
			}

			if scriptPath != "" {
				return exportScript(cmd, plan, scriptPath)
			}

			result, err := a.checkPolicies(ctx, plan)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(w, struct {
					Plan   *engine.Plan   `json:"plan"`
					Policy *policy.Result `json:"policy"`
				}{plan, result})
			}
			printPlan(w, plan)
			fmt.Fprintln(w)
			printPolicyResult(w, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&scriptPath, "script", "", "export the plan as a shell script to this file (- for stdout)")
	return cmd
}

func exportScript(cmd *cobra.Command, plan *engine.Plan, path string) error {
	if path == "-" {
		return engine.WriteScript(cmd.OutOrStdout(), plan)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create script: %w", err)
	}
	if err := engine.WriteScript(f, plan); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write script: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d action(s) to %s\n", len(plan.Actions), path)
	return nil
}
