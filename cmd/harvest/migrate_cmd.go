package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/iota-uz/effort/migrations"
	"github.com/iota-uz/effort/pkg/configuration"
)

type migrationLine struct {
	Command   string `json:"command"`
	Version   int64  `json:"version"`
	Path      string `json:"path"`
	State     string `json:"state,omitempty"`
	Direction string `json:"direction,omitempty"`
	AppliedAt string `json:"applied_at,omitempty"`
	Empty     bool   `json:"empty,omitempty"`
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply, roll back or list the embedded database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			defer conf.Unload()

			pool, err := connectDB(cmd.Context(), conf.Database.Opts)
			if err != nil {
				return withCode(exitDB, err)
			}
			defer pool.Close()

			db := stdlib.OpenDBFromPool(pool)
			defer db.Close()
			provider, err := migrations.NewProvider(db)
			if err != nil {
				return withCode(exitValidation, err)
			}
			return runMigrate(cmd.Context(), provider, args[0], cmd.OutOrStdout())
		},
	}
	return cmd
}

type migrator interface {
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
	Down(ctx context.Context) (*goose.MigrationResult, error)
	Status(ctx context.Context) ([]*goose.MigrationStatus, error)
}

func runMigrate(ctx context.Context, m migrator, action string, out io.Writer) error {
	switch action {
	case "up":
		results, err := m.Up(ctx)
		if err != nil {
			return withCode(exitDBWrite, err)
		}
		for _, r := range results {
			if err := writeJSONLine(out, resultLine(action, r)); err != nil {
				return err
			}
		}
		return nil
	case "down":
		r, err := m.Down(ctx)
		if err != nil {
			return withCode(exitDBWrite, err)
		}
		return writeJSONLine(out, resultLine(action, r))
	case "status":
		statuses, err := m.Status(ctx)
		if err != nil {
			return withCode(exitDB, err)
		}
		for _, s := range statuses {
			line := migrationLine{Command: action, State: string(s.State)}
			if s.Source != nil {
				line.Version, line.Path = s.Source.Version, s.Source.Path
			}
			if !s.AppliedAt.IsZero() {
				line.AppliedAt = s.AppliedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			if err := writeJSONLine(out, line); err != nil {
				return err
			}
		}
		return nil
	default:
		return withCode(exitUsage, fmt.Errorf("unknown migrate action %q", action))
	}
}

func resultLine(action string, r *goose.MigrationResult) migrationLine {
	line := migrationLine{Command: action}
	if r == nil {
		return line
	}
	line.Direction, line.Empty = r.Direction, r.Empty
	if r.Source != nil {
		line.Version, line.Path = r.Source.Version, r.Source.Path
	}
	return line
}
