package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/stores"
	"github.com/cocinero/cocinero/pkg/system"
)

func newApplyCommand(opts *globalOptions) *cobra.Command {
	var (
		dryRun   bool
		noPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "apply [path...]",
		Short: "Provision the host from recipes",
		Long: `Build a plan from the recipes at the given paths and run it. Actions run
one at a time in plan order and the run stops at the first failure. When
every action succeeded the declared packages are installed and the declared
systemd units are enabled and reloaded.

Blocking policy violations stop the run before any action, unless
--no-policy is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			plan, err := a.buildPlan(ctx, recipeArgs(args), opts.root)
			if err != nil {
				return err
			}

			if !noPolicy {
				result, err := a.checkPolicies(ctx, plan)
				if err != nil {
					return err
				}
				if perr := result.Err(); perr != nil {
					if a.settings.Policy.Enforce {
						printPolicyResult(cmd.ErrOrStderr(), result)
						a.recordError(perr)
						return perr
					}
					a.logger.Warn().Err(perr).Msg("Policy enforcement disabled, continuing")
				}
			}

			if dryRun {
				if opts.jsonOutput {
					return writeJSON(w, plan)
				}
				printPlan(w, plan)
				return nil
			}

			exec := system.NewExec(a.settings.Runtime.Shell)
			hooks := engine.NewHookRunner(
				system.NewPackageManager(a.settings.Runtime.PackageManager, exec),
				system.NewSystemd(exec),
				a.logger,
			)
			runOpts := []engine.RunnerOption{
				engine.WithHooks(hooks),
				engine.WithRunnerLogger(a.logger),
			}

			if a.settings.State.Enabled {
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer func() {
					if err := store.Close(); err != nil {
						a.logger.Warn().Err(err).Msg("Failed to close state database")
					}
				}()
				a.tel.Events.Subscribe(stores.EventSink(store, a.logger), nil)
				runOpts = append(runOpts, engine.WithRecorder(stores.NewRecorder(store, a.logger)))
			}

			out := engine.NewRunner(a.fs, exec, runOpts...).RunPlan(a.tel.WithContext(ctx), plan)

			if opts.jsonOutput {
				if err := writeJSON(w, runReport(out)); err != nil {
					return err
				}
			} else {
				printOutcome(w, plan, out)
			}

			switch {
			case out.Err != nil:
				a.recordError(out.Err)
				return out.Err
			case out.Hooks != nil && out.Hooks.Err != nil:
				a.recordError(out.Hooks.Err)
				return out.Hooks.Err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build and check the plan without running it")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip policy evaluation")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics to this node_exporter textfile")
	return cmd
}

type outcomeReport struct {
	*engine.Outcome
	Error      string `json:"error,omitempty"`
	HooksError string `json:"hooks_error,omitempty"`
}

func runReport(out *engine.Outcome) outcomeReport {
	r := outcomeReport{Outcome: out}
	if out.Err != nil {
		r.Error = out.Err.Error()
	}
	if out.Hooks != nil && out.Hooks.Err != nil {
		r.HooksError = fmt.Sprint(out.Hooks.Err)
	}
	return r
}
