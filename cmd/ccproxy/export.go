package main

import (
	"fmt"
	"os"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/export"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		output string
		filter string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert the provider list for another router",
		Long:  "Writes the configured providers in CLIProxyAPI (cliproxy, YAML) or claude-code-router (ccr, JSON) format. Note rows are skipped.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			raw, err := config.ReadFile(opts.configPath)
			if err != nil {
				return err
			}
			out, err := export.Render(format, cfg, raw, filter)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s config to %s\n", format, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", export.FormatCLIProxy, "output format: cliproxy or ccr")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "comma-separated model keywords to keep")
	return cmd
}
