package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/database"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// Флаги служебных команд.
const (
	ownerKindFlag = "owner-kind"
	ownerIDFlag   = "owner-id"
	diskFlag      = "disk"
	limitFlag     = "limit"
)

func ownerFlags() map[string]cobraflags.Flag {
	return map[string]cobraflags.Flag{
		ownerKindFlag: &cobraflags.StringFlag{
			Name:  ownerKindFlag,
			Value: "",
			Usage: "Вид владельца: user или department",
		},
		ownerIDFlag: &cobraflags.StringFlag{
			Name:  ownerIDFlag,
			Value: "",
			Usage: "Идентификатор владельца",
		},
	}
}

// parseOwner разбирает значения --owner-kind и --owner-id.
// ok=false — владелец не указан.
func parseOwner(kind, rawID string) (owner model.Owner, ok bool, err error) {
	if kind == "" && rawID == "" {
		return owner, false, nil
	}
	owner.Kind, err = model.ParseOwnerKind(kind)
	if err != nil {
		return owner, false, fmt.Errorf("--%s: %w", ownerKindFlag, err)
	}
	owner.ID, err = strconv.ParseInt(rawID, 10, 64)
	if err != nil || owner.ID <= 0 {
		return owner, false, fmt.Errorf("--%s: ожидается положительное целое, получено %q", ownerIDFlag, rawID)
	}
	return owner, true, nil
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД и завершиться",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("ошибка конфигурации: %w", err)
			}
			logger := config.SetupLogger(cfg)
			if err := database.Migrate(cfg, logger); err != nil {
				return fmt.Errorf("ошибка миграций БД: %w", err)
			}
			logger.Info("Миграции применены")
			return nil
		},
	}
}

func newUsageCommand(opts *rootOptions) *cobra.Command {
	usage := &cobra.Command{
		Use:   "usage",
		Short: "Счётчики использования хранилища",
	}
	usage.AddCommand(newUsageRecalculateCommand(opts), newUsageSetQuotaCommand(opts))
	return usage
}

func newUsageRecalculateCommand(opts *rootOptions) *cobra.Command {
	flags := ownerFlags()
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Пересчитать счётчики по каталогу файлов",
		Long: `Пересчитывает used_space и file_count по каталогу файлов.
Без --owner-kind/--owner-id пересчитываются все известные счётчики.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, single, err := parseOwner(flags[ownerKindFlag].GetString(), flags[ownerIDFlag].GetString())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var n int
			if single {
				n, err = a.quota.RecalculateOwner(cmd.Context(), owner)
			} else {
				n, err = a.quota.RecalculateAll(cmd.Context())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Пересчитано счётчиков: %d\n", n)
			return err
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newUsageSetQuotaCommand(opts *rootOptions) *cobra.Command {
	flags := ownerFlags()
	flags[diskFlag] = &cobraflags.StringFlag{
		Name:  diskFlag,
		Value: "",
		Usage: "Диск (пусто — диск по умолчанию)",
	}
	flags[limitFlag] = &cobraflags.StringFlag{
		Name:  limitFlag,
		Value: "",
		Usage: "Лимит в байтах (0 — без ограничения)",
	}

	cmd := &cobra.Command{
		Use:   "set-quota",
		Short: "Задать квоту владельца на диске",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, ok, err := parseOwner(flags[ownerKindFlag].GetString(), flags[ownerIDFlag].GetString())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("--%s и --%s обязательны", ownerKindFlag, ownerIDFlag)
			}
			limit, err := strconv.ParseInt(flags[limitFlag].GetString(), 10, 64)
			if err != nil || limit < 0 {
				return fmt.Errorf("--%s: ожидается неотрицательное целое", limitFlag)
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			_, provider, err := a.disks.Disk(flags[diskFlag].GetString())
			if err != nil {
				return err
			}
			u, err := a.quota.SetQuota(cmd.Context(), owner, provider, limit)
			if err != nil {
				return err
			}
			a.logger.Info("Квота установлена",
				slog.String("owner", owner.String()),
				slog.String("disk", provider),
				slog.Int64("quota_limit", u.QuotaLimit),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s на %s: использовано %d из %d байт\n",
				owner, provider, u.UsedSpace, u.QuotaLimit)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newThumbnailsCommand(opts *rootOptions) *cobra.Command {
	thumbs := &cobra.Command{
		Use:   "thumbnails",
		Short: "Обслуживание миниатюр",
	}
	thumbs.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Удалить миниатюры, на которые не ссылается ни один файл",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.thumbs.CleanupOrphaned(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Удалено миниатюр: %d\n", n)
			return err
		},
	})
	return thumbs
}
