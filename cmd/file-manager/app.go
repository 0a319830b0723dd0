package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
	"github.com/bigkaa/goartstore/file-manager/internal/database"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/events"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/thumbnail"
)

// app — общие компоненты сервера и служебных команд.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool

	files      repository.FileRepository
	usage      repository.UsageRepository
	shares     repository.ShareRepository
	versions   repository.VersionRepository
	categories repository.CategoryRepository

	disks  *disk.Manager
	quota  *service.QuotaService
	thumbs *service.ThumbnailService
}

// newApp загружает конфигурацию, подключается к PostgreSQL и дискам.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	disks, err := disk.NewManagerFromConfig(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		files:      repository.NewFileRepository(pool),
		usage:      repository.NewUsageRepository(pool),
		shares:     repository.NewShareRepository(pool),
		versions:   repository.NewVersionRepository(pool),
		categories: repository.NewCategoryRepository(pool),
		disks:      disks,
	}
	a.quota = service.NewQuotaService(a.usage, cfg.QuotaUserDefault, cfg.QuotaDepartmentDefault, logger)
	a.thumbs = service.NewThumbnailService(a.files, disks, service.ThumbnailConfig{
		Enabled: cfg.ThumbEnabled,
		Disk:    cfg.ThumbDisk,
		MIME:    cfg.ThumbMIME,
		Options: thumbnail.Options{
			MaxWidth:  cfg.ThumbWidth,
			MaxHeight: cfg.ThumbHeight,
			Quality:   cfg.ThumbQuality,
			MaxPixels: cfg.ThumbMaxPixels,
		},
	}, logger)
	return a, nil
}

// fileService собирает File Record Store с указанными диспетчером и издателем.
func (a *app) fileService(dispatcher service.ThumbnailDispatcher, publisher events.Publisher) *service.FileService {
	return service.NewFileService(service.FileServiceDeps{
		Files:      a.files,
		Versions:   a.versions,
		Categories: a.categories,
		Disks:      a.disks,
		Quota:      a.quota,
		Cache:      service.NewCacheService(a.cfg.CacheSize, a.cfg.CacheTTL),
		Thumbnails: a.thumbs,
		Dispatcher: dispatcher,
		Publisher:  publisher,
	}, service.FileServiceConfig{
		Policy: validation.Policy{
			MaxSize:     a.cfg.UploadMaxSize,
			AllowedMIME: a.cfg.UploadAllowedMIME,
		},
		UploadDir:   a.cfg.UploadDir,
		VersionKeep: a.cfg.VersionKeep,
		TempURLTTL:  a.cfg.TempURLTTL,
	}, a.logger)
}

func (a *app) Close() {
	a.pool.Close()
}
