// thumbnails.go — Thumbnail Generator: построение, пересоздание,
// удаление миниатюр и сборка осиротевших файлов миниатюр.
//
// Любая ошибка построения логируется и не выходит за пределы сервиса:
// отсутствие миниатюры допустимо для всех читателей.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/thumbnail"
)

var thumbnailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fm_thumbnails_total",
	Help: "Попытки построения миниатюр (по результату).",
}, []string{"result"})

const (
	thumbnailDir    = "thumbnails"
	thumbnailSuffix = "_thumb.jpg"
)

// ThumbnailConfig — параметры генератора.
type ThumbnailConfig struct {
	Enabled bool
	// Disk — диск для миниатюр
	Disk string
	// MIME — растровые типы, для которых строятся миниатюры
	MIME    []string
	Options thumbnail.Options
}

// ThumbnailService — генератор миниатюр.
type ThumbnailService struct {
	files  repository.FileRepository
	disks  *disk.Manager
	cfg    ThumbnailConfig
	logger *slog.Logger
}

// NewThumbnailService создаёт генератор миниатюр.
func NewThumbnailService(
	files repository.FileRepository,
	disks *disk.Manager,
	cfg ThumbnailConfig,
	logger *slog.Logger,
) *ThumbnailService {
	return &ThumbnailService{
		files:  files,
		disks:  disks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "thumbnail_service")),
	}
}

// ThumbnailPath возвращает путь миниатюры для объекта p:
// <dir>/thumbnails/<basename>_thumb.jpg.
func ThumbnailPath(p string) string {
	base := path.Base(p)
	base = strings.TrimSuffix(base, path.Ext(base))
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return path.Join(thumbnailDir, base+thumbnailSuffix)
	}
	return path.Join(dir, thumbnailDir, base+thumbnailSuffix)
}

// InThumbnailNamespace сообщает, лежит ли путь внутри директории миниатюр
// (любой сегмент пути равен thumbnails). Исходные файлы туда не кладутся.
func InThumbnailNamespace(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == thumbnailDir {
			return true
		}
	}
	return false
}

// isThumbnailPath сообщает, похож ли путь на файл миниатюры.
func isThumbnailPath(p string) bool {
	if !strings.HasSuffix(p, thumbnailSuffix) {
		return false
	}
	return InThumbnailNamespace(path.Dir(p))
}

// Eligible сообщает, строится ли миниатюра для файла.
// Векторные форматы (SVG) в список не входят и не растеризуются.
func (s *ThumbnailService) Eligible(f *model.StoredFile) bool {
	if !s.cfg.Enabled || !f.Status.HasBytes() {
		return false
	}
	if len(s.cfg.MIME) == 0 {
		return false
	}
	return validation.MIMEAllowed(f.MimeType, s.cfg.MIME)
}

// Generate строит миниатюру и сохраняет её путь в записи.
// Возвращает ("", false), если файл не подходит или построение не удалось.
func (s *ThumbnailService) Generate(ctx context.Context, f *model.StoredFile) (string, bool) {
	if !s.Eligible(f) {
		thumbnailsTotal.WithLabelValues("skipped").Inc()
		return "", false
	}

	log := s.logger.With(
		slog.Int64("file_id", f.ID),
		slog.String("disk", f.Disk),
		slog.String("path", f.Path),
	)

	rc, err := s.disks.Get(ctx, f.Disk, f.Path)
	if err != nil {
		log.Warn("Миниатюра не построена: исходный файл недоступен", slog.String("error", err.Error()))
		thumbnailsTotal.WithLabelValues("failed").Inc()
		return "", false
	}
	data, err := thumbnail.Render(rc, s.cfg.Options)
	_ = rc.Close()
	if err != nil {
		log.Warn("Миниатюра не построена: ошибка декодирования", slog.String("error", err.Error()))
		thumbnailsTotal.WithLabelValues("failed").Inc()
		return "", false
	}

	thumbPath := ThumbnailPath(f.Path)
	if err := s.disks.Put(ctx, s.cfg.Disk, thumbPath, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		log.Warn("Миниатюра не построена: ошибка записи", slog.String("error", err.Error()))
		thumbnailsTotal.WithLabelValues("failed").Inc()
		return "", false
	}

	if err := s.files.SetThumbnail(ctx, f.ID, &thumbPath); err != nil {
		log.Warn("Миниатюра построена, но не сохранена в каталоге", slog.String("error", err.Error()))
		_ = s.disks.Delete(ctx, s.cfg.Disk, thumbPath)
		thumbnailsTotal.WithLabelValues("failed").Inc()
		return "", false
	}

	f.ThumbnailPath = &thumbPath
	thumbnailsTotal.WithLabelValues("generated").Inc()
	log.Debug("Миниатюра построена", slog.String("thumbnail", thumbPath))
	return thumbPath, true
}

// GenerateByID загружает запись и строит миниатюру.
// Ошибку возвращает только чтение каталога; удалённые файлы пропускаются.
func (s *ThumbnailService) GenerateByID(ctx context.Context, fileID int64) error {
	f, err := s.files.GetByID(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Generate(ctx, f)
	return nil
}

// Delete удаляет файл миниатюры. Ошибки только логируются.
func (s *ThumbnailService) Delete(ctx context.Context, f *model.StoredFile) {
	if f.ThumbnailPath == nil {
		return
	}
	err := s.disks.Delete(ctx, s.cfg.Disk, *f.ThumbnailPath)
	if err != nil && !disk.IsNotExist(err) {
		s.logger.Warn("Ошибка удаления миниатюры",
			slog.Int64("file_id", f.ID),
			slog.String("thumbnail", *f.ThumbnailPath),
			slog.String("error", err.Error()),
		)
	}
}

// Regenerate удаляет существующую миниатюру и строит новую. Идемпотентен.
func (s *ThumbnailService) Regenerate(ctx context.Context, f *model.StoredFile) (string, bool) {
	if f.ThumbnailPath != nil {
		s.Delete(ctx, f)
		if err := s.files.SetThumbnail(ctx, f.ID, nil); err != nil {
			s.logger.Warn("Ошибка сброса пути миниатюры",
				slog.Int64("file_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
		f.ThumbnailPath = nil
	}
	return s.Generate(ctx, f)
}

// CleanupOrphaned удаляет с диска миниатюр файлы из директорий thumbnails/,
// на которые не ссылается ни одна запись каталога: ни как на миниатюру,
// ни как на байты неудалённого файла. Возвращает количество удалённых.
func (s *ThumbnailService) CleanupOrphaned(ctx context.Context) (int, error) {
	_, diskName, err := s.disks.Disk(s.cfg.Disk)
	if err != nil {
		return 0, err
	}
	referenced, err := s.files.ReferencedThumbnails(ctx, diskName)
	if err != nil {
		return 0, err
	}
	paths, err := s.disks.List(ctx, diskName, "")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range paths {
		if !isThumbnailPath(p) {
			continue
		}
		if _, ok := referenced[p]; ok {
			continue
		}
		if err := s.disks.Delete(ctx, diskName, p); err != nil && !disk.IsNotExist(err) {
			s.logger.Warn("Ошибка удаления осиротевшей миниатюры",
				slog.String("thumbnail", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	s.logger.Info("Очистка миниатюр завершена",
		slog.Int("scanned", len(paths)),
		slog.Int("removed", removed),
	)
	return removed, nil
}
