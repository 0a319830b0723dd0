package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// FileRepository — доступ к таблице files.
type FileRepository interface {
	// Create вставляет запись и заполняет ID и временные метки.
	Create(ctx context.Context, f *model.StoredFile) error
	GetByID(ctx context.Context, id int64) (*model.StoredFile, error)
	GetByUUID(ctx context.Context, id uuid.UUID) (*model.StoredFile, error)
	// List возвращает файлы по фильтру, новые первыми.
	List(ctx context.Context, filter FileFilter) ([]*model.StoredFile, error)
	Count(ctx context.Context, filter FileFilter) (int, error)
	// Update сохраняет изменяемые поля записи.
	Update(ctx context.Context, f *model.StoredFile) error
	// SoftDelete переводит запись в статус deleted.
	SoftDelete(ctx context.Context, id int64, by int64) error
	// Purge физически удаляет запись со статусом deleted.
	Purge(ctx context.Context, id int64) error
	SetThumbnail(ctx context.Context, id int64, thumbnailPath *string) error
	// TouchAccess увеличивает счётчик скачиваний и обновляет last_accessed_at.
	TouchAccess(ctx context.Context, id int64) error
	// MaxVersion возвращает наибольший номер версии в линии.
	MaxVersion(ctx context.Context, lineageID uuid.UUID) (int, error)
	// ListLineage возвращает все версии линии по возрастанию номера.
	ListLineage(ctx context.Context, lineageID uuid.UUID) ([]*model.StoredFile, error)
	// ReferencedThumbnails возвращает пути миниатюр, на которые ссылаются записи,
	// и пути байтов неудалённых файлов на диске disk.
	ReferencedThumbnails(ctx context.Context, disk string) (map[string]struct{}, error)
}

// FileFilter — фильтры каталога. Пустые поля не ограничивают выборку.
type FileFilter struct {
	Status     *model.FileStatus
	Visibility *model.Visibility
	// Visibilities — любая из перечисленных видимостей (пусто — без ограничения)
	Visibilities []model.Visibility
	// MimeType — точный тип или шаблон "image/*"
	MimeType   string
	MinSize    *int64
	MaxSize    *int64
	OwnerID    *int64
	CategoryID *int64
	Attachment *model.EntityRef
	LineageID  *uuid.UUID
	// Search — подстрока имени или описания
	Search string
	Limit  int
	Offset int
}

const fileColumns = `id, uuid, name, original_name, path, disk, mime_type, size,
	category_id, description, metadata, visibility, status, thumbnail_path,
	download_count, last_accessed_at, checksum, attachable_type, attachable_id,
	lineage_id, version, parent_id, owner_id, department_id, created_by, updated_by,
	deleted_at, created_at, updated_at`

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий каталога файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func scanFile(row rowScanner) (*model.StoredFile, error) {
	f := &model.StoredFile{}
	var (
		attachType *string
		attachID   *int64
	)
	err := row.Scan(
		&f.ID, &f.UUID, &f.Name, &f.OriginalName, &f.Path, &f.Disk, &f.MimeType, &f.Size,
		&f.CategoryID, &f.Description, &f.Metadata, &f.Visibility, &f.Status, &f.ThumbnailPath,
		&f.DownloadCount, &f.LastAccessedAt, &f.Checksum, &attachType, &attachID,
		&f.LineageID, &f.Version, &f.ParentID, &f.OwnerID, &f.DepartmentID, &f.CreatedBy, &f.UpdatedBy,
		&f.DeletedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if attachType != nil && attachID != nil {
		f.Attachment = &model.EntityRef{Kind: model.EntityKind(*attachType), ID: *attachID}
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	return f, nil
}

func attachmentColumns(ref *model.EntityRef) (*string, *int64) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := ref.ID
	return &kind, &id
}

func (r *fileRepo) Create(ctx context.Context, f *model.StoredFile) error {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	attachType, attachID := attachmentColumns(f.Attachment)

	query := `
		INSERT INTO files (uuid, name, original_name, path, disk, mime_type, size,
			category_id, description, metadata, visibility, status, thumbnail_path,
			checksum, attachable_type, attachable_id, lineage_id, version, parent_id,
			owner_id, department_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.UUID, f.Name, f.OriginalName, f.Path, f.Disk, f.MimeType, f.Size,
		f.CategoryID, f.Description, f.Metadata, f.Visibility, f.Status, f.ThumbnailPath,
		f.Checksum, attachType, attachID, f.LineageID, f.Version, f.ParentID,
		f.OwnerID, f.DepartmentID, f.CreatedBy,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл с таким UUID или версией уже существует", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: категория или родительский файл", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.StoredFile, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *fileRepo) GetByUUID(ctx context.Context, id uuid.UUID) (*model.StoredFile, error) {
	return r.getOne(ctx, "uuid = $1", id)
}

func (r *fileRepo) getOne(ctx context.Context, cond string, arg any) (*model.StoredFile, error) {
	query := "SELECT " + fileColumns + " FROM files WHERE " + cond
	f, err := scanFile(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// buildFileWhere строит WHERE-условие и аргументы для фильтрации файлов.
//
//nolint:cyclop // линейный перебор фильтров
func buildFileWhere(filter FileFilter, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	add := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, arg)
		argNum++
	}

	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Visibility != nil {
		add("visibility = $%d", *filter.Visibility)
	}
	if len(filter.Visibilities) > 0 {
		values := make([]string, len(filter.Visibilities))
		for i, v := range filter.Visibilities {
			values[i] = string(v)
		}
		add("visibility = ANY($%d)", values)
	}
	if filter.MimeType != "" {
		if prefix, ok := strings.CutSuffix(filter.MimeType, "/*"); ok {
			add("mime_type LIKE $%d", prefix+"/%")
		} else {
			add("mime_type = $%d", filter.MimeType)
		}
	}
	if filter.MinSize != nil {
		add("size >= $%d", *filter.MinSize)
	}
	if filter.MaxSize != nil {
		add("size <= $%d", *filter.MaxSize)
	}
	if filter.OwnerID != nil {
		add("owner_id = $%d", *filter.OwnerID)
	}
	if filter.CategoryID != nil {
		add("category_id = $%d", *filter.CategoryID)
	}
	if filter.Attachment != nil {
		add("attachable_type = $%d", string(filter.Attachment.Kind))
		add("attachable_id = $%d", filter.Attachment.ID)
	}
	if filter.LineageID != nil {
		add("lineage_id = $%d", *filter.LineageID)
	}
	if filter.Search != "" {
		conditions = append(conditions,
			fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argNum, argNum))
		args = append(args, likePattern(filter.Search))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *fileRepo) List(ctx context.Context, filter FileFilter) ([]*model.StoredFile, error) {
	where, args := buildFileWhere(filter, 1)
	argNum := len(args) + 1

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM files
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, fileColumns, where, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	return r.query(ctx, query, args...)
}

func (r *fileRepo) query(ctx context.Context, query string, args ...any) ([]*model.StoredFile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *fileRepo) Count(ctx context.Context, filter FileFilter) (int, error) {
	where, args := buildFileWhere(filter, 1)
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM files "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}
	return count, nil
}

// Update перезаписывает изменяемые поля записи. thumbnail_path не трогает:
// его пишет только SetThumbnail.
func (r *fileRepo) Update(ctx context.Context, f *model.StoredFile) error {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	attachType, attachID := attachmentColumns(f.Attachment)

	query := `
		UPDATE files
		SET name = $2, path = $3, disk = $4, category_id = $5, description = $6,
			metadata = $7, visibility = $8, status = $9,
			attachable_type = $10, attachable_id = $11, updated_by = $12,
			deleted_at = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING thumbnail_path, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.ID, f.Name, f.Path, f.Disk, f.CategoryID, f.Description,
		f.Metadata, f.Visibility, f.Status,
		attachType, attachID, f.UpdatedBy, f.DeletedAt,
	).Scan(&f.ThumbnailPath, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: категория", ErrNotFound)
		}
		return fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return nil
}

func (r *fileRepo) SoftDelete(ctx context.Context, id int64, by int64) error {
	query := `
		UPDATE files
		SET status = 'deleted', deleted_at = NOW(), thumbnail_path = NULL,
			updated_by = $2, updated_at = NOW()
		WHERE id = $1 AND status != 'deleted'`

	tag, err := r.db.Exec(ctx, query, id, by)
	if err != nil {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) Purge(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1 AND status = 'deleted'`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: на запись ссылаются другие версии", ErrConflict)
		}
		return fmt.Errorf("ошибка очистки файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) SetThumbnail(ctx context.Context, id int64, thumbnailPath *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET thumbnail_path = $2, updated_at = NOW() WHERE id = $1`, id, thumbnailPath)
	if err != nil {
		return fmt.Errorf("ошибка обновления миниатюры: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) TouchAccess(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE files
		SET download_count = download_count + 1, last_accessed_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчика скачиваний: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *fileRepo) MaxVersion(ctx context.Context, lineageID uuid.UUID) (int, error) {
	var v int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM files WHERE lineage_id = $1`, lineageID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения номера версии: %w", err)
	}
	return v, nil
}

func (r *fileRepo) ListLineage(ctx context.Context, lineageID uuid.UUID) ([]*model.StoredFile, error) {
	query := "SELECT " + fileColumns + " FROM files WHERE lineage_id = $1 ORDER BY version"
	return r.query(ctx, query, lineageID)
}

func (r *fileRepo) ReferencedThumbnails(ctx context.Context, disk string) (map[string]struct{}, error) {
	rows, err := r.db.Query(ctx, `
		SELECT thumbnail_path FROM files WHERE thumbnail_path IS NOT NULL
		UNION
		SELECT path FROM files WHERE disk = $1 AND status <> 'deleted'`, disk)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения миниатюр: %w", err)
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("ошибка сканирования миниатюры: %w", err)
		}
		result[p] = struct{}{}
	}
	return result, rows.Err()
}
