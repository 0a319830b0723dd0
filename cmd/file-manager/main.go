// Точка входа File Manager — каталога файлов с квотами, версиями,
// миниатюрами и share-ссылками.
// Без подкоманды запускается HTTP-сервер; служебные подкоманды
// (migrate, usage, thumbnails) выполняют разовые операции и завершаются.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions — глобальные флаги.
type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "file-manager",
		Short:         "File Manager — хранилище файлов с каталогом в PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Файл конфигурации (yaml, json, toml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Файл переменных окружения")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newUsageCommand(opts),
		newThumbnailsCommand(opts),
	)
	return root
}

// loadEnvFile подгружает переменные из файла; отсутствие файла не ошибка.
// Уже заданные переменные окружения не перезаписываются.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("чтение %s: %w", path, err)
	}
	return nil
}
