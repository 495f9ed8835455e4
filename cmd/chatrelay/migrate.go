package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/meikuraledutech/chatrelay"
	"github.com/meikuraledutech/chatrelay/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withPostgres(func(cmd *cobra.Command, pg *postgres.PGStore) error {
				applied, err := pg.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(applied) == 0 {
					fmt.Fprintln(out, "Schema is up to date.")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(out, "applied  %s\n", name)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withPostgres(func(cmd *cobra.Command, pg *postgres.PGStore) error {
				name, err := pg.Rollback(cmd.Context())
				if errors.Is(err, postgres.ErrNoMigrations) {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back  %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: withPostgres(func(cmd *cobra.Command, pg *postgres.PGStore) error {
				records, err := pg.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				renderMigrations(cmd.OutOrStdout(), records)
				return nil
			}),
		},
	)
	return cmd
}

// withPostgres opens the configured PostgreSQL store for the duration of fn.
func withPostgres(fn func(*cobra.Command, *postgres.PGStore) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store != chatrelay.BackendPostgres {
			return fmt.Errorf("migrations apply to the postgres store only (store=%s)", cfg.Store)
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(cmd, store.(*postgres.PGStore))
	}
}

var (
	appliedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

func renderMigrations(w io.Writer, records []chatrelay.MigrationRecord) {
	for _, r := range records {
		if r.Applied {
			at := ""
			if r.AppliedAt != nil {
				at = r.AppliedAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s  %s  %s\n", appliedStyle.Render("applied"), r.Name, faintStyle.Render(at))
			continue
		}
		fmt.Fprintf(w, "%s  %s\n", pendingStyle.Render("pending"), r.Name)
	}
}
