package main

import (
	"errors"
	"fmt"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		direction string
		steps     int
		persist   string
		dsn       string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the status store schema",
		Long:  "Applies the embedded schema migrations for the sqlite and postgres status backends. Backend and DSN default to the config's status section.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if persist == "" || dsn == "" {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				if persist == "" {
					persist = cfg.Status.Persist
				}
				if dsn == "" {
					dsn = cfg.Status.DSN
				}
			}

			m, err := status.NewMigrator(persist, dsn)
			if err != nil {
				return err
			}
			defer m.Close()

			switch direction {
			case "up":
				if steps > 0 {
					err = m.Steps(steps)
				} else {
					err = m.Up()
				}
			case "down":
				if steps > 0 {
					err = m.Steps(-steps)
				} else {
					err = m.Down()
				}
			default:
				return fmt.Errorf("invalid direction %q (use up or down)", direction)
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}

			v, dirty, _ := m.Version()
			fmt.Fprintf(cmd.OutOrStdout(), "migration %s complete (backend: %s, version: %d, dirty: %v)\n", direction, persist, v, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "migration direction: up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	cmd.Flags().StringVar(&persist, "persist", "", "backend: sqlite or postgres (default from config)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN (default from config)")
	return cmd
}
