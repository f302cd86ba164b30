package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCmd создаёт команду применения миграций.
func NewMigrateCmd(migrateFn func(ctx context.Context) error, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrateFn(cmd.Context()); err != nil {
				return err
			}
			outputFn().Success("Migrations applied")
			return nil
		},
	}
}
