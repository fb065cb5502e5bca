package main

import (
	"fmt"
	"os"
	"strconv"

	"ms-events/internal/database/migrations"
	"ms-events/internal/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(r *migrations.Runner, _ []string) error {
				return r.MigrateUp()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(r *migrations.Runner, _ []string) error {
				return r.MigrateDown()
			}),
		},
		&cobra.Command{
			Use:   "to VERSION",
			Short: "Migrate up or down to VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: withRunner(func(r *migrations.Runner, args []string) error {
				version, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return r.MigrateTo(uint(version))
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the recorded version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withRunner(func(r *migrations.Runner, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return r.Force(version)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(r *migrations.Runner, _ []string) error {
				version, dirty, err := r.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		},
	)
}

func withRunner(fn func(*migrations.Runner, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := logger.New(os.Stdout, nil)
		cfg, err := loadConfig(log)
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrations apply to postgres only, DB_DRIVER is %s", cfg.Database.Driver)
		}

		runner := migrations.NewRunner(cfg.Database.DSN, log)
		defer runner.Close()
		return fn(runner, args)
	}
}
