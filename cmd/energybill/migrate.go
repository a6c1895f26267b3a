package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bher20/energybill/internal/migrate"
	"github.com/bher20/energybill/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		migrateSubcommand("up", "Apply all pending migrations", migrate.Up),
		migrateSubcommand("down", "Roll back the most recent migration", migrate.Down),
		migrateSubcommand("status", "Show applied migrations", migrate.Status),
	)
	return cmd
}

func migrateSubcommand(use, short string, fn func(context.Context, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			drv := e.cfg.DBDriver

			switch {
			case migrate.Supports(drv):
				return fn(ctx, drv, e.cfg.DBDSN)
			case drv == "dynamodb" && use == "up":
				client, err := storage.NewDynamoClient(ctx, e.storageConfig().Dynamo)
				if err != nil {
					return err
				}
				return storage.NewDynamoStorage(client, e.cfg.DynamoTablePrefix).Migrate(ctx)
			default:
				return fmt.Errorf("migrate %s is not supported for driver %q", use, drv)
			}
		},
	}
}
