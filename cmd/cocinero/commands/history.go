package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cocinero/cocinero/pkg/stores"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	cmd.AddCommand(newHistoryShowCommand(opts))
	return cmd
}

func newHistoryShowCommand(opts *globalOptions) *cobra.Command {
	var eventLimit int

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run with its actions and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, store, err := openHistory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			runID := args[0]
			run, err := store.GetRun(ctx, runID)
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("run %s not found", runID)
			}
			if err != nil {
				return err
			}
			actions, err := store.ListActionsByRun(ctx, runID)
			if err != nil {
				return err
			}
			events, err := store.GetEvents(ctx, &runID, nil, eventLimit, 0)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), struct {
					Run     *stores.Run            `json:"run"`
					Actions []*stores.ActionRecord `json:"actions"`
					Events  []*stores.Event        `json:"events"`
				}{run, actions, events})
			}
			printRun(cmd.OutOrStdout(), run, actions, events)
			return nil
		},
	}
	cmd.Flags().IntVar(&eventLimit, "events", 100, "maximum number of events to show")
	return cmd
}

func openHistory(ctx context.Context, opts *globalOptions) (*app, *stores.SQLiteStore, error) {
	a, err := newApp(opts)
	if err != nil {
		return nil, nil, err
	}
	if !a.settings.State.Enabled {
		a.close()
		return nil, nil, errors.New("run history is disabled (state.enabled = false)")
	}
	store, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return a, store, nil
}
