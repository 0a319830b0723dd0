package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/goartstore/file-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/database"
	"github.com/bigkaa/goartstore/file-manager/internal/events"
	"github.com/bigkaa/goartstore/file-manager/internal/server"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// thumbQueuePerWorker — ёмкость локальной очереди миниатюр на один воркер.
const thumbQueuePerWorker = 64

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить HTTP-сервер (по умолчанию)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

//nolint:funlen // последовательная сборка компонентов
func runServe(ctx context.Context, opts *rootOptions) error {
	// 1. Конфигурация, PostgreSQL, диски
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	logger.Info("File Manager запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("default_disk", a.disks.DefaultDisk()),
		slog.Any("disks", a.disks.Names()),
	)
	if os.Getenv("FM_DEPHEALTH_GROUP") == "" {
		logger.Warn("FM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("ошибка миграций БД: %w", err)
	}

	// 3. События и задания миниатюр: RabbitMQ или пул воркеров в процессе
	var (
		publisher  events.Publisher
		dispatcher service.ThumbnailDispatcher
		local      *service.LocalDispatcher
		consumer   *events.Consumer
	)
	if cfg.AMQPURL != "" {
		p, err := events.NewPublisher(cfg.AMQPURL, logger)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
		dispatcher = service.NewQueueDispatcher(p, logger)

		consumer, err = events.NewConsumer(cfg.AMQPURL, cfg.ThumbWorkers, a.thumbs.GenerateByID, logger)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return err
		}
	} else {
		local = service.NewLocalDispatcher(a.thumbs, cfg.ThumbWorkers, cfg.ThumbWorkers*thumbQueuePerWorker, logger)
		local.Start(ctx)
		dispatcher = local
	}

	// 4. Сервисы
	files := a.fileService(dispatcher, publisher)
	shares := service.NewShareService(a.shares, files, cfg.ShareBaseURL, logger)
	categories := service.NewCategoryService(a.categories, logger)

	// 5. Задачи обслуживания
	scheduler := service.NewScheduler(logger)
	for _, job := range service.MaintenanceJobs(a.quota, a.thumbs, cfg.UsageRecalcSchedule, cfg.ThumbCleanupSchedule) {
		if err := scheduler.Register(job); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)

	// 6. topologymetrics — мониторинг зависимостей (PostgreSQL, JWKS)
	pgDB := stdlib.OpenDBFromPool(a.pool)
	defer pgDB.Close()

	var deps handlers.DependencyHealth
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "file-manager",
		Group:         cfg.DephealthGroup,
		PostgresURL:   cfg.DatabaseDSN(),
		JWKSURL:       cfg.JWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
	} else {
		deps = dephealthSvc
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 7. Аутентификация
	auth, err := newAuth(cfg, logger)
	if err != nil {
		return err
	}

	// 8. HTTP API
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(a.pool), deps),
		handlers.Services{
			Files:      files,
			Shares:     shares,
			Categories: categories,
			Quota:      a.quota,
			Thumbnails: a.thumbs,
			Scheduler:  scheduler,
		},
		logger,
	)

	srv := server.New(cfg, logger, apiHandler, auth)
	runErr := srv.Run(ctx)

	// 9. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	scheduler.Stop()
	if consumer != nil {
		consumer.Stop()
	}
	if local != nil {
		local.Stop()
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("File Manager остановлен")
	return nil
}

// newAuth возвращает JWT middleware, если задан JWKS, иначе
// доверяет заголовкам пользователя от API Gateway.
func newAuth(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.JWKSURL == "" {
		logger.Warn("FM_JWKS_URL не задан, пользователь определяется по заголовкам API Gateway",
			slog.String("header", middleware.HeaderUserID),
		)
		return middleware.TrustedHeaders(), nil
	}
	jwtAuth, err := middleware.NewJWTAuth(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWKSRefreshInterval, cfg.JWTLeeway, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания JWT middleware: %w", err)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)
	return jwtAuth.Middleware(), nil
}
