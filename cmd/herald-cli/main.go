// Herald CLI — операторский инструмент для work items.
//
// Использование:
//
//	herald [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	migrate   Применение миграций
//	items     Просмотр и отмена work items
//
// Хранилище выбирается теми же переменными окружения, что и у воркера
// (HERALD_STORE, DB_URL, HERALD_SQLITE_PATH).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/cli"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/storage"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool
	var backend *storage.Backend

	rootCmd := &cobra.Command{
		Use:           "herald",
		Short:         "Herald CLI — due notification work items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			if backend != nil {
				_ = backend.Close()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	open := func(ctx context.Context, migrate bool) (*storage.Backend, error) {
		if backend != nil {
			return backend, nil
		}
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		backend, err = storage.Open(ctx, cfg, migrate)
		return backend, err
	}

	storeFn := func(ctx context.Context) (repo.Store, error) { return open(ctx, false) }
	migrateFn := func(ctx context.Context) error {
		_, err := open(ctx, true)
		return err
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput, os.Stdout, os.Stderr) }

	rootCmd.AddCommand(
		cli.NewMigrateCmd(migrateFn, outputFn),
		cli.NewItemsCmd(storeFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
