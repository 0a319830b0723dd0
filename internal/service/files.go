// files.go — File Record Store: единственный компонент, который
// создаёт и изменяет записи каталога файлов.
//
// Порядок загрузки:
//  1. Проверка по политике (размер, MIME, имя)
//  2. Квота пользователя, затем квота отдела
//  3. Проверка привязки к сущности
//  4. Генерация имени на диске и запись байтов (MD5 + SHA-256 на лету)
//  5. Запись в каталог (при ошибке байты удаляются)
//  6. Счётчики использования, событие file.uploaded, задание миниатюры
//
// При отказе на шагах 1-3 байты не пишутся и запись не создаётся.
package service

import (
	"context"
	"crypto/md5" //nolint:gosec // MD5 — контрольная сумма, не криптография
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/events"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_operations_total",
		Help: "Операции над файлами (по операции и результату).",
	}, []string{"operation", "result"})

	storageBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_storage_bytes_total",
		Help: "Байты, записанные на диски и удалённые с них.",
	}, []string{"op"})
)

// MetadataSHA256 — ключ метаданных с SHA-256 содержимого.
const MetadataSHA256 = "sha256"

// Actor — пользователь, выполняющий операцию.
type Actor struct {
	UserID       int64
	DepartmentID *int64
}

// FileServiceConfig — параметры File Record Store.
type FileServiceConfig struct {
	// Policy — политика загрузки без категории
	Policy validation.Policy
	// UploadDir — директория для файлов без категории
	UploadDir string
	// VersionKeep — сколько последних версий хранить (0 — все)
	VersionKeep int
	// TempURLTTL — время жизни временной ссылки по умолчанию
	TempURLTTL time.Duration
}

// FileServiceDeps — зависимости File Record Store.
// Dispatcher, Thumbnails и Publisher необязательны.
type FileServiceDeps struct {
	Files       repository.FileRepository
	Versions    repository.VersionRepository
	Categories  repository.CategoryRepository
	Disks       *disk.Manager
	Quota       *QuotaService
	Attachments *AttachmentRegistry
	Cache       *CacheService
	Thumbnails  *ThumbnailService
	Dispatcher  ThumbnailDispatcher
	Publisher   events.Publisher
}

// FileService — File Record Store.
type FileService struct {
	files       repository.FileRepository
	versions    repository.VersionRepository
	categories  repository.CategoryRepository
	disks       *disk.Manager
	quota       *QuotaService
	attachments *AttachmentRegistry
	cache       *CacheService
	thumbs      *ThumbnailService
	dispatcher  ThumbnailDispatcher
	publisher   events.Publisher
	cfg         FileServiceConfig
	now         func() time.Time
	logger      *slog.Logger
}

// NewFileService создаёт File Record Store.
func NewFileService(deps FileServiceDeps, cfg FileServiceConfig, logger *slog.Logger) *FileService {
	attachments := deps.Attachments
	if attachments == nil {
		attachments = DefaultAttachmentRegistry()
	}
	return &FileService{
		files:       deps.Files,
		versions:    deps.Versions,
		categories:  deps.Categories,
		disks:       deps.Disks,
		quota:       deps.Quota,
		attachments: attachments,
		cache:       deps.Cache,
		thumbs:      deps.Thumbnails,
		dispatcher:  deps.Dispatcher,
		publisher:   deps.Publisher,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "file_service")),
	}
}

// UploadRequest — параметры загрузки.
type UploadRequest struct {
	Reader io.Reader
	// OriginalName — имя файла у клиента
	OriginalName string
	// Name — отображаемое имя (по умолчанию OriginalName)
	Name     string
	MimeType string
	// Size — заявленный размер; должен совпасть с фактическим
	Size int64
	// Disk — целевой диск (пусто — диск по умолчанию)
	Disk        string
	CategoryID  *int64
	Attachment  *model.EntityRef
	Visibility  model.Visibility
	Description *string
	Metadata    map[string]any
	// Policy — явная политика вместо политики категории
	Policy *validation.Policy
	Actor  Actor
}

// VersionRequest — параметры новой версии файла.
type VersionRequest struct {
	Reader            io.Reader
	OriginalName      string
	MimeType          string
	Size              int64
	ChangeDescription *string
	Actor             Actor
}

// FileUpdate — изменяемые поля записи. nil — поле не меняется.
type FileUpdate struct {
	Name        *string
	Description *string
	CategoryID  *int64
	// ClearCategory снимает категорию
	ClearCategory bool
	Visibility    *model.Visibility
	// Metadata сливается с текущими метаданными; nil-значение удаляет ключ
	Metadata map[string]any
}

type contentSums struct {
	size   int64
	md5    string
	sha256 string
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// Upload принимает файл: проверка, квота, запись байтов, запись в каталог.
func (s *FileService) Upload(ctx context.Context, req UploadRequest) (*model.StoredFile, error) {
	policy, dir, err := s.uploadPolicy(ctx, req.CategoryID)
	if err != nil {
		return nil, err
	}
	if req.Policy != nil {
		policy = *req.Policy
	}

	candidate := validation.Candidate{Name: req.OriginalName, MimeType: req.MimeType, Size: req.Size}
	if fail := validation.Validate(candidate, policy); fail != nil {
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, fail)
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}

	_, diskName, err := s.disks.Disk(req.Disk)
	if err != nil {
		return nil, validationErr("диск %q не сконфигурирован", diskName)
	}

	if err := s.quota.CheckUpload(ctx, req.Actor.UserID, req.Actor.DepartmentID, diskName, req.Size); err != nil {
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, err
	}
	if err := s.attachments.Resolve(ctx, req.Attachment); err != nil {
		operationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, err
	}

	id := uuid.New()
	storagePath := StorageName(dir, req.OriginalName, s.now(), id)
	sums, err := s.store(ctx, diskName, storagePath, req.Reader, req.Size, req.MimeType)
	if err != nil {
		operationsTotal.WithLabelValues("upload", "failed").Inc()
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.OriginalName
	}
	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[MetadataSHA256] = sums.sha256

	f := &model.StoredFile{
		UUID:         id,
		Name:         name,
		OriginalName: req.OriginalName,
		Path:         storagePath,
		Disk:         diskName,
		MimeType:     req.MimeType,
		Size:         sums.size,
		CategoryID:   req.CategoryID,
		Description:  req.Description,
		Metadata:     metadata,
		Visibility:   visibility,
		Status:       model.StatusActive,
		Checksum:     sums.md5,
		Attachment:   req.Attachment,
		LineageID:    uuid.New(),
		Version:      1,
		OwnerID:      req.Actor.UserID,
		DepartmentID: req.Actor.DepartmentID,
		CreatedBy:    req.Actor.UserID,
	}
	if err := s.files.Create(ctx, f); err != nil {
		s.discard(ctx, diskName, storagePath)
		operationsTotal.WithLabelValues("upload", "failed").Inc()
		return nil, mapRepoErr(err)
	}

	s.afterStore(ctx, f, events.FileUploaded)
	operationsTotal.WithLabelValues("upload", "ok").Inc()
	s.logger.Info("Файл загружен",
		slog.Int64("file_id", f.ID),
		slog.String("uuid", f.UUID.String()),
		slog.String("disk", f.Disk),
		slog.Int64("size", f.Size),
	)
	return f, nil
}

// uploadPolicy возвращает политику и директорию для категории.
func (s *FileService) uploadPolicy(ctx context.Context, categoryID *int64) (validation.Policy, string, error) {
	if categoryID == nil {
		if InThumbnailNamespace(s.cfg.UploadDir) {
			return validation.Policy{}, "", validationErr("директория загрузки %q внутри директории миниатюр", s.cfg.UploadDir)
		}
		return s.cfg.Policy, s.cfg.UploadDir, nil
	}
	cat, err := s.categories.GetByID(ctx, *categoryID)
	if errors.Is(err, repository.ErrNotFound) {
		return validation.Policy{}, "", validationErr("категория %d не найдена", *categoryID)
	}
	if err != nil {
		return validation.Policy{}, "", err
	}
	if !cat.IsActive {
		return validation.Policy{}, "", validationErr("категория %q неактивна", cat.Slug)
	}
	if InThumbnailNamespace(cat.Directory()) {
		return validation.Policy{}, "", validationErr("директория категории %q внутри директории миниатюр", cat.Slug)
	}
	return validation.ForCategory(cat), cat.Directory(), nil
}

// store пишет байты на диск, считая размер и контрольные суммы.
// Фактический размер должен совпасть с заявленным, иначе байты удаляются.
func (s *FileService) store(
	ctx context.Context, diskName, p string, r io.Reader, size int64, contentType string,
) (contentSums, error) {
	md5h := md5.New() //nolint:gosec // контрольная сумма
	shah := sha256.New()
	counter := &countingWriter{}
	tee := io.TeeReader(r, io.MultiWriter(md5h, shah, counter))

	if err := s.disks.Put(ctx, diskName, p, tee, size, contentType); err != nil {
		s.logger.Error("Ошибка записи файла на диск",
			slog.String("disk", diskName),
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
		return contentSums{}, err
	}

	if counter.n != size {
		s.discard(ctx, diskName, p)
		return contentSums{}, validationErr("фактический размер %d байт не совпадает с заявленным %d", counter.n, size)
	}

	storageBytesTotal.WithLabelValues("write").Add(float64(counter.n))
	return contentSums{
		size:   counter.n,
		md5:    hex.EncodeToString(md5h.Sum(nil)),
		sha256: hex.EncodeToString(shah.Sum(nil)),
	}, nil
}

// discard удаляет байты, для которых не удалось создать запись.
func (s *FileService) discard(ctx context.Context, diskName, p string) {
	if err := s.disks.Delete(ctx, diskName, p); err != nil && !disk.IsNotExist(err) {
		s.logger.Error("Не удалось удалить байты без записи каталога",
			slog.String("disk", diskName),
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

// afterStore — общие шаги после записи новой строки каталога.
func (s *FileService) afterStore(ctx context.Context, f *model.StoredFile, event events.EventType) {
	// Ошибка счётчика исправляется пересчётом, загрузку не откатываем
	_ = s.quota.AddUsage(ctx, f)
	s.publish(ctx, event, f)
	s.requestThumbnail(ctx, f)
}

func (s *FileService) publish(ctx context.Context, t events.EventType, f *model.StoredFile) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events.NewFileEvent(t, f)); err != nil {
		s.logger.Warn("Событие не опубликовано",
			slog.String("event", string(t)),
			slog.Int64("file_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) requestThumbnail(ctx context.Context, f *model.StoredFile) {
	if s.dispatcher == nil || s.thumbs == nil || !s.thumbs.Eligible(f) {
		return
	}
	s.dispatcher.Dispatch(ctx, f)
}

func (s *FileService) evict(f *model.StoredFile) {
	if s.cache != nil {
		s.cache.Delete(f.UUID)
	}
}

// Get возвращает запись по внутреннему идентификатору.
func (s *FileService) Get(ctx context.Context, id int64) (*model.StoredFile, error) {
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return f, nil
}

// GetByUUID возвращает запись по внешнему идентификатору (через кэш).
func (s *FileService) GetByUUID(ctx context.Context, id uuid.UUID) (*model.StoredFile, error) {
	if s.cache != nil {
		if f, ok := s.cache.Get(id); ok {
			return f, nil
		}
	}
	f, err := s.files.GetByUUID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if s.cache != nil && f.Status != model.StatusDeleted {
		s.cache.Set(f)
	}
	return f, nil
}

// List возвращает страницу каталога и общее количество.
func (s *FileService) List(ctx context.Context, filter repository.FileFilter) ([]*model.StoredFile, int, error) {
	files, err := s.files.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.files.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// Delete удаляет байты и помечает запись удалённой.
// Отсутствующие байты не мешают удалению записи; другая ошибка
// носителя прерывает операцию, запись не меняется.
func (s *FileService) Delete(ctx context.Context, id int64, actor Actor) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteFile(ctx, f, actor)
}

func (s *FileService) deleteFile(ctx context.Context, f *model.StoredFile, actor Actor) error {
	switch f.Status {
	case model.StatusDeleted:
		return fmt.Errorf("%w: файл %d уже удалён", ErrInvalidState, f.ID)
	case model.StatusActive, model.StatusArchived:
	}

	log := s.logger.With(
		slog.Int64("file_id", f.ID),
		slog.String("disk", f.Disk),
		slog.String("path", f.Path),
	)

	if err := s.disks.Delete(ctx, f.Disk, f.Path); err != nil {
		if !disk.IsNotExist(err) {
			log.Error("Файл не удалён: ошибка носителя", slog.String("error", err.Error()))
			operationsTotal.WithLabelValues("delete", "failed").Inc()
			return err
		}
		log.Warn("Байты файла уже отсутствуют на диске, удаляем запись")
	} else {
		storageBytesTotal.WithLabelValues("delete").Add(float64(f.Size))
	}

	if err := s.files.SoftDelete(ctx, f.ID, actor.UserID); err != nil {
		log.Error("Байты удалены, но запись не помечена удалённой", slog.String("error", err.Error()))
		operationsTotal.WithLabelValues("delete", "failed").Inc()
		return mapRepoErr(err)
	}

	_ = s.quota.RemoveUsage(ctx, f)
	if s.thumbs != nil {
		s.thumbs.Delete(ctx, f)
	}
	s.evict(f)

	f.Status = model.StatusDeleted
	f.ThumbnailPath = nil
	s.publish(ctx, events.FileDeleted, f)
	operationsTotal.WithLabelValues("delete", "ok").Inc()
	log.Info("Файл удалён")
	return nil
}

// Purge окончательно удаляет запись, уже помеченную удалённой.
func (s *FileService) Purge(ctx context.Context, id int64) error {
	f, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch f.Status {
	case model.StatusDeleted:
	case model.StatusActive, model.StatusArchived:
		return fmt.Errorf("%w: очистка доступна только для удалённых файлов", ErrInvalidState)
	}
	if err := s.files.Purge(ctx, f.ID); err != nil {
		return mapRepoErr(err)
	}
	s.evict(f)
	s.logger.Info("Запись файла очищена", slog.Int64("file_id", f.ID))
	return nil
}

// Move перемещает байты и обновляет путь в записи.
// При ошибке носителя запись не меняется.
func (s *FileService) Move(ctx context.Context, id int64, newPath string, actor Actor) (*model.StoredFile, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !f.Status.HasBytes() {
		return nil, fmt.Errorf("%w: файл %d удалён", ErrInvalidState, f.ID)
	}

	dst, err := disk.CleanPath(newPath)
	if err != nil || !validation.SafeFilename(path.Base(dst)) {
		return nil, validationErr("недопустимый путь %q", newPath)
	}
	if InThumbnailNamespace(dst) {
		return nil, validationErr("путь %q внутри директории миниатюр", newPath)
	}
	if dst == f.Path {
		return f, nil
	}
	exists, err := s.disks.Exists(ctx, f.Disk, dst)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: объект %s уже существует", ErrConflict, dst)
	}

	if err := s.disks.Move(ctx, f.Disk, f.Path, dst); err != nil {
		operationsTotal.WithLabelValues("move", "failed").Inc()
		return nil, err
	}

	moved := *f
	moved.Path = dst
	moved.UpdatedBy = &actor.UserID
	if err := s.files.Update(ctx, &moved); err != nil {
		if mvErr := s.disks.Move(ctx, f.Disk, dst, f.Path); mvErr != nil {
			s.logger.Error("Не удалось вернуть байты после ошибки каталога",
				slog.Int64("file_id", f.ID),
				slog.String("disk", f.Disk),
				slog.String("path", dst),
				slog.String("error", mvErr.Error()),
			)
		}
		operationsTotal.WithLabelValues("move", "failed").Inc()
		return nil, mapRepoErr(err)
	}

	// Миниатюра привязана к старому пути
	if moved.ThumbnailPath != nil {
		stale := moved
		if err := s.files.SetThumbnail(ctx, f.ID, nil); err != nil {
			s.logger.Warn("Ошибка сброса пути миниатюры",
				slog.Int64("file_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
		moved.ThumbnailPath = nil
		if s.thumbs != nil {
			s.thumbs.Delete(ctx, &stale)
		}
	}
	s.evict(f)
	s.publish(ctx, events.FileMoved, &moved)
	s.requestThumbnail(ctx, &moved)
	operationsTotal.WithLabelValues("move", "ok").Inc()
	return &moved, nil
}

// Copy создаёт независимую запись с копией байтов.
// Копия принадлежит actor и учитывается в его квоте.
func (s *FileService) Copy(ctx context.Context, id int64, actor Actor) (*model.StoredFile, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !src.Status.HasBytes() {
		return nil, fmt.Errorf("%w: файл %d удалён", ErrInvalidState, src.ID)
	}
	if err := s.quota.CheckUpload(ctx, actor.UserID, actor.DepartmentID, src.Disk, src.Size); err != nil {
		operationsTotal.WithLabelValues("copy", "rejected").Inc()
		return nil, err
	}

	newID := uuid.New()
	dst := StorageName(src.Dir(), src.OriginalName, s.now(), newID)
	if err := s.disks.Copy(ctx, src.Disk, src.Path, dst); err != nil {
		operationsTotal.WithLabelValues("copy", "failed").Inc()
		return nil, err
	}

	metadata := maps.Clone(src.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["copied_from"] = src.UUID.String()

	cp := &model.StoredFile{
		UUID:         newID,
		Name:         src.Name,
		OriginalName: src.OriginalName,
		Path:         dst,
		Disk:         src.Disk,
		MimeType:     src.MimeType,
		Size:         src.Size,
		CategoryID:   src.CategoryID,
		Description:  src.Description,
		Metadata:     metadata,
		Visibility:   src.Visibility,
		Status:       model.StatusActive,
		Checksum:     src.Checksum,
		Attachment:   src.Attachment,
		LineageID:    uuid.New(),
		Version:      1,
		OwnerID:      actor.UserID,
		DepartmentID: actor.DepartmentID,
		CreatedBy:    actor.UserID,
	}
	if err := s.files.Create(ctx, cp); err != nil {
		s.discard(ctx, src.Disk, dst)
		operationsTotal.WithLabelValues("copy", "failed").Inc()
		return nil, mapRepoErr(err)
	}

	storageBytesTotal.WithLabelValues("write").Add(float64(cp.Size))
	s.afterStore(ctx, cp, events.FileCopied)
	operationsTotal.WithLabelValues("copy", "ok").Inc()
	return cp, nil
}

// VerifyIntegrity проверяет наличие байтов на диске.
// Отсутствие — *IntegrityError; исправление не выполняется.
func (s *FileService) VerifyIntegrity(ctx context.Context, f *model.StoredFile) error {
	if !f.Status.HasBytes() {
		return fmt.Errorf("%w: файл %d удалён", ErrInvalidState, f.ID)
	}
	ok, err := s.disks.Exists(ctx, f.Disk, f.Path)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Error("Нарушена целостность: байты отсутствуют",
			slog.Int64("file_id", f.ID),
			slog.String("disk", f.Disk),
			slog.String("path", f.Path),
		)
		operationsTotal.WithLabelValues("verify", "mismatch").Inc()
		return &IntegrityError{FileID: f.ID, Reason: "missing"}
	}
	operationsTotal.WithLabelValues("verify", "ok").Inc()
	return nil
}

// VerifyChecksum пересчитывает MD5 содержимого и сравнивает с записью.
func (s *FileService) VerifyChecksum(ctx context.Context, f *model.StoredFile) error {
	if !f.Status.HasBytes() {
		return fmt.Errorf("%w: файл %d удалён", ErrInvalidState, f.ID)
	}
	rc, err := s.disks.Get(ctx, f.Disk, f.Path)
	if err != nil {
		if disk.IsNotExist(err) {
			return &IntegrityError{FileID: f.ID, Reason: "missing"}
		}
		return err
	}
	defer rc.Close()

	h := md5.New() //nolint:gosec // контрольная сумма
	if _, err := io.Copy(h, rc); err != nil {
		return &disk.IOError{Op: "read", Disk: f.Disk, Path: f.Path, Err: err}
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, f.Checksum) {
		s.logger.Error("Нарушена целостность: контрольная сумма не совпадает",
			slog.Int64("file_id", f.ID),
			slog.String("disk", f.Disk),
			slog.String("path", f.Path),
		)
		operationsTotal.WithLabelValues("verify", "mismatch").Inc()
		return &IntegrityError{FileID: f.ID, Reason: "checksum", Expected: f.Checksum, Actual: actual}
	}
	return nil
}

// CreateVersion добавляет в линию файла новую версию с собственными байтами.
// Предыдущие версии не меняются; снимок прежней последней версии
// сохраняется в истории. Номер версии — максимум в линии плюс один.
func (s *FileService) CreateVersion(ctx context.Context, id int64, req VersionRequest) (*model.StoredFile, error) {
	base, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !base.Status.HasBytes() {
		return nil, fmt.Errorf("%w: файл %d удалён", ErrInvalidState, base.ID)
	}

	lineage, err := s.files.ListLineage(ctx, base.LineageID)
	if err != nil {
		return nil, err
	}
	head := base
	if len(lineage) > 0 {
		head = lineage[len(lineage)-1]
	}

	policy := s.cfg.Policy
	if base.CategoryID != nil {
		cat, err := s.categories.GetByID(ctx, *base.CategoryID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if cat != nil {
			policy = validation.ForCategory(cat)
		}
	}
	candidate := validation.Candidate{Name: req.OriginalName, MimeType: req.MimeType, Size: req.Size}
	if fail := validation.Validate(candidate, policy); fail != nil {
		operationsTotal.WithLabelValues("version", "rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, fail)
	}
	if err := s.quota.CheckUpload(ctx, base.OwnerID, base.DepartmentID, base.Disk, req.Size); err != nil {
		operationsTotal.WithLabelValues("version", "rejected").Inc()
		return nil, err
	}

	newID := uuid.New()
	storagePath := StorageName(base.Dir(), req.OriginalName, s.now(), newID)
	sums, err := s.store(ctx, base.Disk, storagePath, req.Reader, req.Size, req.MimeType)
	if err != nil {
		operationsTotal.WithLabelValues("version", "failed").Inc()
		return nil, err
	}

	maxVersion, err := s.files.MaxVersion(ctx, base.LineageID)
	if err != nil {
		s.discard(ctx, base.Disk, storagePath)
		operationsTotal.WithLabelValues("version", "failed").Inc()
		return nil, err
	}

	rootID := base.RootID()
	nf := &model.StoredFile{
		UUID:         newID,
		Name:         base.Name,
		OriginalName: req.OriginalName,
		Path:         storagePath,
		Disk:         base.Disk,
		MimeType:     req.MimeType,
		Size:         sums.size,
		CategoryID:   base.CategoryID,
		Description:  base.Description,
		Metadata:     map[string]any{MetadataSHA256: sums.sha256},
		Visibility:   base.Visibility,
		Status:       model.StatusActive,
		Checksum:     sums.md5,
		Attachment:   base.Attachment,
		LineageID:    base.LineageID,
		Version:      max(maxVersion, head.Version) + 1,
		ParentID:     &rootID,
		OwnerID:      base.OwnerID,
		DepartmentID: base.DepartmentID,
		CreatedBy:    req.Actor.UserID,
	}
	if err := s.files.Create(ctx, nf); err != nil {
		s.discard(ctx, base.Disk, storagePath)
		operationsTotal.WithLabelValues("version", "failed").Inc()
		return nil, mapRepoErr(err)
	}

	snapshot := model.SnapshotOf(head, req.ChangeDescription, req.Actor.UserID)
	if err := s.versions.Create(ctx, snapshot); err != nil {
		s.logger.Warn("Снимок предыдущей версии не сохранён",
			slog.Int64("file_id", head.ID),
			slog.Int("version", head.Version),
			slog.String("error", err.Error()),
		)
	}

	s.afterStore(ctx, nf, events.FileVersionCreated)
	s.pruneVersions(ctx, nf.LineageID, req.Actor)
	operationsTotal.WithLabelValues("version", "ok").Inc()
	s.logger.Info("Создана версия файла",
		slog.Int64("file_id", nf.ID),
		slog.String("lineage_id", nf.LineageID.String()),
		slog.Int("version", nf.Version),
	)
	return nf, nil
}

// pruneVersions удаляет версии старше последних VersionKeep.
func (s *FileService) pruneVersions(ctx context.Context, lineageID uuid.UUID, actor Actor) {
	if s.cfg.VersionKeep <= 0 {
		return
	}
	lineage, err := s.files.ListLineage(ctx, lineageID)
	if err != nil {
		s.logger.Warn("Ошибка получения линии версий", slog.String("error", err.Error()))
		return
	}
	var live []*model.StoredFile
	for _, f := range lineage {
		if f.Status.HasBytes() {
			live = append(live, f)
		}
	}
	excess := len(live) - s.cfg.VersionKeep
	for i := 0; i < excess; i++ {
		if err := s.deleteFile(ctx, live[i], actor); err != nil {
			s.logger.Warn("Старая версия не удалена",
				slog.Int64("file_id", live[i].ID),
				slog.Int("version", live[i].Version),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Versions возвращает все версии линии файла по возрастанию номера.
func (s *FileService) Versions(ctx context.Context, f *model.StoredFile) ([]*model.StoredFile, error) {
	return s.files.ListLineage(ctx, f.LineageID)
}

// History возвращает снимки версий линии файла.
func (s *FileService) History(ctx context.Context, f *model.StoredFile) ([]*model.FileVersion, error) {
	return s.versions.ListByLineage(ctx, f.LineageID)
}

// Update меняет изменяемые поля записи. Имя и категория общие
// для всей линии версий и меняются у всех её записей.
//
//nolint:cyclop // последовательная проверка полей
func (s *FileService) Update(ctx context.Context, id int64, upd FileUpdate, actor Actor) (*model.StoredFile, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case model.StatusDeleted:
		return nil, fmt.Errorf("%w: файл %d удалён", ErrInvalidState, f.ID)
	case model.StatusActive, model.StatusArchived:
	}

	lineageChanged := false
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || !validation.SafeFilename(name) {
			return nil, validationErr("недопустимое имя файла")
		}
		lineageChanged = lineageChanged || name != f.Name
		f.Name = name
	}
	if upd.ClearCategory {
		lineageChanged = lineageChanged || f.CategoryID != nil
		f.CategoryID = nil
	} else if upd.CategoryID != nil {
		if _, err := s.categories.GetByID(ctx, *upd.CategoryID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, validationErr("категория %d не найдена", *upd.CategoryID)
			}
			return nil, err
		}
		lineageChanged = true
		f.CategoryID = upd.CategoryID
	}
	if upd.Description != nil {
		f.Description = upd.Description
	}
	if upd.Visibility != nil {
		f.Visibility = *upd.Visibility
	}
	if upd.Metadata != nil {
		if f.Metadata == nil {
			f.Metadata = map[string]any{}
		}
		for k, v := range upd.Metadata {
			if v == nil {
				delete(f.Metadata, k)
				continue
			}
			f.Metadata[k] = v
		}
	}
	f.UpdatedBy = &actor.UserID

	if err := s.files.Update(ctx, f); err != nil {
		return nil, mapRepoErr(err)
	}
	s.evict(f)

	if lineageChanged {
		s.syncLineage(ctx, f)
	}
	s.publish(ctx, events.FileUpdated, f)
	return f, nil
}

// syncLineage переносит имя и категорию на остальные версии линии.
func (s *FileService) syncLineage(ctx context.Context, f *model.StoredFile) {
	lineage, err := s.files.ListLineage(ctx, f.LineageID)
	if err != nil {
		s.logger.Warn("Ошибка получения линии версий", slog.String("error", err.Error()))
		return
	}
	for _, v := range lineage {
		if v.ID == f.ID || v.Status == model.StatusDeleted {
			continue
		}
		v.Name = f.Name
		v.CategoryID = f.CategoryID
		v.UpdatedBy = f.UpdatedBy
		if err := s.files.Update(ctx, v); err != nil {
			s.logger.Warn("Версия не синхронизирована",
				slog.Int64("file_id", v.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.evict(v)
	}
}

// Archive переводит активный файл в архив.
func (s *FileService) Archive(ctx context.Context, id int64, actor Actor) (*model.StoredFile, error) {
	return s.transition(ctx, id, model.StatusArchived, actor)
}

// Restore возвращает архивный файл в оборот.
func (s *FileService) Restore(ctx context.Context, id int64, actor Actor) (*model.StoredFile, error) {
	return s.transition(ctx, id, model.StatusActive, actor)
}

func (s *FileService) transition(ctx context.Context, id int64, to model.FileStatus, actor Actor) (*model.StoredFile, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	switch f.Status {
	case model.StatusActive:
		allowed = to == model.StatusArchived
	case model.StatusArchived:
		allowed = to == model.StatusActive
	case model.StatusDeleted:
	}
	if !allowed {
		return nil, fmt.Errorf("%w: переход %s → %s", ErrInvalidState, f.Status, to)
	}

	f.Status = to
	f.UpdatedBy = &actor.UserID
	if err := s.files.Update(ctx, f); err != nil {
		return nil, mapRepoErr(err)
	}
	s.evict(f)

	event := events.FileArchived
	if to == model.StatusActive {
		event = events.FileRestored
	}
	s.publish(ctx, event, f)
	return f, nil
}

// Open открывает байты файла для потоковой отдачи и учитывает скачивание.
func (s *FileService) Open(ctx context.Context, f *model.StoredFile) (io.ReadCloser, error) {
	if !f.Status.HasBytes() {
		return nil, fmt.Errorf("%w: файл %d удалён", ErrNotFound, f.ID)
	}
	rc, err := s.disks.Get(ctx, f.Disk, f.Path)
	if err != nil {
		s.logger.Error("Ошибка чтения файла",
			slog.Int64("file_id", f.ID),
			slog.String("disk", f.Disk),
			slog.String("path", f.Path),
			slog.String("error", err.Error()),
		)
		operationsTotal.WithLabelValues("download", "failed").Inc()
		return nil, err
	}

	if err := s.files.TouchAccess(ctx, f.ID); err != nil {
		s.logger.Warn("Счётчик скачиваний не обновлён",
			slog.Int64("file_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
	s.evict(f)
	operationsTotal.WithLabelValues("download", "ok").Inc()
	return rc, nil
}

// DownloadURL возвращает временную ссылку на байты.
// ttl <= 0 — время жизни по умолчанию.
func (s *FileService) DownloadURL(ctx context.Context, f *model.StoredFile, ttl time.Duration) (string, error) {
	if !f.Status.HasBytes() {
		return "", fmt.Errorf("%w: файл %d удалён", ErrNotFound, f.ID)
	}
	if ttl <= 0 {
		ttl = s.cfg.TempURLTTL
	}
	return s.disks.TemporaryURL(ctx, f.Disk, f.Path, ttl)
}

// TempURLTTL — время жизни временной ссылки по умолчанию.
func (s *FileService) TempURLTTL() time.Duration {
	return s.cfg.TempURLTTL
}
