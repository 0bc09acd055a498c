package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool
	stateDB    string
	root       string
	shell      string

	metricsFile string

	version string
	commit  string
	date    string
}

// settings loads the settings file and applies flag overrides.
func (o *globalOptions) settings() (*Settings, error) {
	s, err := LoadSettings(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.stateDB != "" {
		s.State.Path = o.stateDB
	}
	if o.shell != "" {
		s.Runtime.Shell = o.shell
	}
	if o.metricsFile != "" {
		s.Metrics.Enabled = true
		s.Metrics.TextfilePath = o.metricsFile
	}
	if o.verbose {
		s.Logging.Level = "debug"
	}
	if o.jsonOutput {
		s.Logging.Format = "json"
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return NewRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

// NewRootCommand builds the cocinero command tree.
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version, commit: commit, date: buildDate}

	rootCmd := &cobra.Command{
		Use:   "cocinero",
		Short: "cocinero - declarative host provisioning",
		Long: `cocinero provisions the local host from recipes.

A recipe declares packages, systemd units, template variable sets and an
ordered list of steps. cocinero builds a plan from one or more recipes,
checks it against policies and runs it one action at a time, stopping at
the first failure. After a successful run it installs the packages and
enables the units.

Recipes are TOML (recipe.toml) or YAML (recipe.yaml). A directory of recipe
directories is a cookbook and is planned as a whole.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file path (default ./cocinero.toml or /etc/cocinero/cocinero.toml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&opts.stateDB, "state-db", "", "run history database path (env "+EnvStateDB+")")
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", "", "re-root every installed file under this directory")
	rootCmd.PersistentFlags().StringVar(&opts.shell, "shell", "", "shell used for shell steps")

	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newApplyCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newVersionCommand(opts))

	return rootCmd
}

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(w, map[string]string{
					"version": opts.version,
					"commit":  opts.commit,
					"date":    opts.date,
				})
			}
			printVersion(w, opts)
			return nil
		},
	}
}

func printVersion(w io.Writer, opts *globalOptions) {
	fmt.Fprintf(w, "cocinero %s\n", opts.version)
	fmt.Fprintf(w, "  commit: %s\n", opts.commit)
	fmt.Fprintf(w, "  built:  %s\n", opts.date)
}

// recipeArgs defaults to the current directory.
func recipeArgs(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}
