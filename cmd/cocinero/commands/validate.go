package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cocinero/cocinero/pkg/engine"
	"github.com/cocinero/cocinero/pkg/policy"
	"github.com/cocinero/cocinero/pkg/recipe"
)

func newValidateCommand(opts *globalOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate recipes without running them",
		Long: `Parse the recipes at the given paths, build a plan from them and check it
against the policies. Nothing on the host is changed.

With --watch, validation is repeated whenever a recipe file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			paths := recipeArgs(args)
			w := cmd.OutOrStdout()

			validate := func(ctx context.Context) error {
				return a.validate(ctx, w, paths, opts)
			}
			err = validate(cmd.Context())
			if !watch {
				return err
			}
			if err != nil {
				a.logger.Error().Err(err).Msg("Validation failed")
			}
			return recipe.NewWatcher(recipe.DefaultWatchDelay, a.logger).Watch(cmd.Context(), paths, validate)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate when recipe files change")
	return cmd
}

type validateReport struct {
	Valid   bool           `json:"valid"`
	Recipes []string       `json:"recipes,omitempty"`
	Actions int            `json:"actions"`
	Error   string         `json:"error,omitempty"`
	Kind    string         `json:"kind,omitempty"`
	Policy  *policy.Result `json:"policy,omitempty"`
}

func (a *app) validate(ctx context.Context, w io.Writer, paths []string, opts *globalOptions) error {
	plan, err := a.buildPlan(ctx, paths, opts.root)
	if err != nil {
		if opts.jsonOutput {
			_ = writeJSON(w, validateReport{Error: err.Error(), Kind: string(engine.KindOf(err))})
		}
		return err
	}

	result, err := a.checkPolicies(ctx, plan)
	if err != nil {
		return err
	}
	perr := result.Err()

	if opts.jsonOutput {
		return firstErr(writeJSON(w, validateReport{
			Valid:   perr == nil,
			Recipes: plan.Recipes,
			Actions: len(plan.Actions),
			Policy:  result,
		}), perr)
	}

	printPolicyResult(w, result)
	if perr == nil {
		fmt.Fprintf(w, "%s %d recipe(s), %d action(s)\n", okStyle.Render("valid:"), len(plan.Recipes), len(plan.Actions))
	}
	return perr
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
