// quota.go — учёт использования хранилища и проверка квот.
//
// Счётчики storage_usage обновляются атомарным SQL (upsert с GREATEST),
// но остаются быстрым путём: конкурентные загрузки одного владельца
// могут пройти проверку одновременно. Источник истины — Recalculate,
// который пересчитывает счётчики по каталогу файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
)

var quotaRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fm_quota_rejections_total",
	Help: "Отказы в загрузке по квоте (по уровню квоты).",
}, []string{"scope"})

// QuotaService — Quota Tracker.
type QuotaService struct {
	usage       repository.UsageRepository
	userDefault int64
	deptDefault int64
	logger      *slog.Logger
}

// NewQuotaService создаёт сервис квот.
// userDefault, deptDefault — лимиты в байтах, когда для владельца
// не задан собственный (0 — без ограничения).
func NewQuotaService(usage repository.UsageRepository, userDefault, deptDefault int64, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		usage:       usage,
		userDefault: userDefault,
		deptDefault: deptDefault,
		logger:      logger.With(slog.String("component", "quota_service")),
	}
}

func (s *QuotaService) defaultLimit(kind model.OwnerKind) int64 {
	switch kind {
	case model.OwnerUser:
		return s.userDefault
	case model.OwnerDepartment:
		return s.deptDefault
	}
	return 0
}

// Current возвращает счётчик владельца на диске с действующим лимитом.
// Отсутствующая строка — нулевое использование.
func (s *QuotaService) Current(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	u, err := s.usage.Get(ctx, owner, provider)
	if errors.Is(err, repository.ErrNotFound) {
		u = &model.StorageUsage{OwnerKind: owner.Kind, OwnerID: owner.ID, Provider: provider}
	} else if err != nil {
		return nil, err
	}
	if u.QuotaLimit <= 0 {
		u.QuotaLimit = s.defaultLimit(owner.Kind)
	}
	return u, nil
}

// CanAcceptUpload сообщает, помещается ли size байт в квоту владельца.
func (s *QuotaService) CanAcceptUpload(ctx context.Context, owner model.Owner, provider string, size int64) (bool, error) {
	u, err := s.Current(ctx, owner, provider)
	if err != nil {
		return false, err
	}
	return u.CanAccept(size), nil
}

// CheckUpload проверяет квоту пользователя, затем квоту отдела.
// Отказ возвращается как *QuotaError с уровнем квоты.
func (s *QuotaService) CheckUpload(ctx context.Context, userID int64, departmentID *int64, provider string, size int64) error {
	owners := []model.Owner{{Kind: model.OwnerUser, ID: userID}}
	if departmentID != nil {
		owners = append(owners, model.Owner{Kind: model.OwnerDepartment, ID: *departmentID})
	}

	for _, owner := range owners {
		u, err := s.Current(ctx, owner, provider)
		if err != nil {
			return fmt.Errorf("ошибка проверки квоты %s: %w", owner, err)
		}
		if !u.CanAccept(size) {
			quotaRejectionsTotal.WithLabelValues(string(owner.Kind)).Inc()
			return &QuotaError{
				Scope:     owner.Kind,
				OwnerID:   owner.ID,
				Provider:  provider,
				Used:      u.UsedSpace,
				Limit:     u.QuotaLimit,
				Requested: size,
			}
		}
	}
	return nil
}

// AddUsage учитывает файл в счётчиках владельца и отдела.
func (s *QuotaService) AddUsage(ctx context.Context, f *model.StoredFile) error {
	return s.apply(ctx, f, f.Size, 1)
}

// RemoveUsage вычитает файл из счётчиков; значения не опускаются ниже нуля.
func (s *QuotaService) RemoveUsage(ctx context.Context, f *model.StoredFile) error {
	return s.apply(ctx, f, -f.Size, -1)
}

func (s *QuotaService) apply(ctx context.Context, f *model.StoredFile, bytes, count int64) error {
	var errs []error
	for _, owner := range f.Owners() {
		if err := s.usage.Add(ctx, owner, f.Disk, bytes, count); err != nil {
			s.logger.Error("Ошибка обновления счётчика использования",
				slog.String("owner", owner.String()),
				slog.String("disk", f.Disk),
				slog.Int64("file_id", f.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recalculate пересчитывает счётчик по каталогу. Идемпотентен.
func (s *QuotaService) Recalculate(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	u, err := s.usage.Recalculate(ctx, owner, provider)
	if err != nil {
		return nil, err
	}
	if u.QuotaLimit <= 0 {
		u.QuotaLimit = s.defaultLimit(owner.Kind)
	}
	return u, nil
}

// RecalculateOwner пересчитывает счётчики владельца на всех его дисках.
func (s *QuotaService) RecalculateOwner(ctx context.Context, owner model.Owner) (int, error) {
	keys, err := s.usage.ListKeys(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if k.Owner != owner {
			continue
		}
		if _, err := s.Recalculate(ctx, k.Owner, k.Provider); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// RecalculateAll пересчитывает все известные счётчики.
// Возвращает количество пересчитанных; ошибки по отдельным владельцам
// логируются и не прерывают проход.
func (s *QuotaService) RecalculateAll(ctx context.Context) (int, error) {
	keys, err := s.usage.ListKeys(ctx)
	if err != nil {
		return 0, err
	}

	var (
		done int
		errs []error
	)
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		u, err := s.usage.Recalculate(ctx, k.Owner, k.Provider)
		if err != nil {
			s.logger.Error("Ошибка пересчёта использования",
				slog.String("owner", k.Owner.String()),
				slog.String("disk", k.Provider),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		done++
		s.logger.Debug("Использование пересчитано",
			slog.String("owner", k.Owner.String()),
			slog.String("disk", k.Provider),
			slog.Int64("used_space", u.UsedSpace),
			slog.Int64("file_count", u.FileCount),
		)
	}

	s.logger.Info("Пересчёт использования завершён",
		slog.Int("total", len(keys)),
		slog.Int("recalculated", done),
	)
	return done, errors.Join(errs...)
}

// Usage возвращает счётчики владельца с действующими лимитами.
func (s *QuotaService) Usage(ctx context.Context, owner model.Owner) ([]*model.StorageUsage, error) {
	list, err := s.usage.ListForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, u := range list {
		if u.QuotaLimit <= 0 {
			u.QuotaLimit = s.defaultLimit(owner.Kind)
		}
	}
	return list, nil
}

// SetQuota задаёт собственный лимит владельца (0 — вернуть лимит по умолчанию).
func (s *QuotaService) SetQuota(ctx context.Context, owner model.Owner, provider string, limit int64) (*model.StorageUsage, error) {
	if limit < 0 {
		return nil, validationErr("лимит не может быть отрицательным")
	}
	u, err := s.usage.SetQuota(ctx, owner, provider, limit)
	if err != nil {
		return nil, err
	}
	if u.QuotaLimit <= 0 {
		u.QuotaLimit = s.defaultLimit(owner.Kind)
	}
	return u, nil
}
