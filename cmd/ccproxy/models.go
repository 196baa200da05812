package main

import (
	"fmt"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/spf13/cobra"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var (
		filter  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "models <provider>",
		Short: "List the models a provider advertises",
		Long:  "Runs model discovery against one provider and prints the model ids, one per line. The config file is not modified.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := config.NewStore(opts.configPath, cliLogger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			snap := store.Snapshot()
			p, ok := snap.Config.Provider(args[0])
			if !ok {
				return &config.NotFoundError{Kind: "provider", Name: args[0]}
			}
			if !cmd.Flags().Changed("filter") {
				filter = snap.Config.Discovery.Filter
			}
			if timeout <= 0 {
				timeout = snap.Config.Discovery.Timeout()
			}

			models, err := discovery.FetchModels(cmd.Context(), snap, p, discovery.Options{
				Timeout: timeout,
				Filter:  filter,
			})
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "comma-separated keywords; keep models containing any (default from config)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "discovery timeout (default from config)")
	return cmd
}
