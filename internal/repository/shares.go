package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// ShareRepository — share-ссылки на файлы.
type ShareRepository interface {
	// Create вставляет ссылку. Совпадение токена — ErrConflict.
	Create(ctx context.Context, s *model.FileShare) error
	GetByID(ctx context.Context, id int64) (*model.FileShare, error)
	GetByToken(ctx context.Context, token string) (*model.FileShare, error)
	ListByFile(ctx context.Context, fileID int64) ([]*model.FileShare, error)
	// IncrementDownloads атомарно увеличивает счётчик, если ссылка
	// ещё действительна. Возвращает false, если лимит исчерпан или срок истёк.
	IncrementDownloads(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
}

const shareColumns = `id, file_id, grantee_type, grantee_id, permissions, expires_at,
	token, download_count, max_downloads, created_by, created_at, updated_at`

type shareRepo struct {
	db DBTX
}

// NewShareRepository создаёт репозиторий share-ссылок.
func NewShareRepository(db DBTX) ShareRepository {
	return &shareRepo{db: db}
}

func scanShare(row rowScanner) (*model.FileShare, error) {
	s := &model.FileShare{}
	var (
		granteeType *string
		granteeID   *int64
		perms       []string
	)
	err := row.Scan(&s.ID, &s.FileID, &granteeType, &granteeID, &perms, &s.ExpiresAt,
		&s.Token, &s.DownloadCount, &s.MaxDownloads, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if granteeType != nil && granteeID != nil {
		s.Grantee = &model.EntityRef{Kind: model.EntityKind(*granteeType), ID: *granteeID}
	}
	s.Permissions = make([]model.Permission, 0, len(perms))
	for _, p := range perms {
		s.Permissions = append(s.Permissions, model.Permission(p))
	}
	return s, nil
}

func (r *shareRepo) Create(ctx context.Context, s *model.FileShare) error {
	granteeType, granteeID := attachmentColumns(s.Grantee)
	perms := make([]string, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		perms = append(perms, string(p))
	}

	query := `
		INSERT INTO file_shares (file_id, grantee_type, grantee_id, permissions,
			expires_at, token, max_downloads, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, download_count, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.FileID, granteeType, granteeID, perms, s.ExpiresAt, s.Token, s.MaxDownloads, s.CreatedBy,
	).Scan(&s.ID, &s.DownloadCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: токен ссылки уже используется", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: файл %d", ErrNotFound, s.FileID)
		}
		return fmt.Errorf("ошибка создания ссылки: %w", err)
	}
	return nil
}

func (r *shareRepo) GetByID(ctx context.Context, id int64) (*model.FileShare, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *shareRepo) GetByToken(ctx context.Context, token string) (*model.FileShare, error) {
	return r.getOne(ctx, "token = $1", token)
}

func (r *shareRepo) getOne(ctx context.Context, cond string, arg any) (*model.FileShare, error) {
	s, err := scanShare(r.db.QueryRow(ctx, "SELECT "+shareColumns+" FROM file_shares WHERE "+cond, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ссылки: %w", err)
	}
	return s, nil
}

func (r *shareRepo) ListByFile(ctx context.Context, fileID int64) ([]*model.FileShare, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+shareColumns+" FROM file_shares WHERE file_id = $1 ORDER BY created_at DESC, id DESC", fileID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ссылок файла: %w", err)
	}
	defer rows.Close()

	var result []*model.FileShare
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ссылки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *shareRepo) IncrementDownloads(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE file_shares
		SET download_count = download_count + 1, updated_at = NOW()
		WHERE id = $1
			AND (max_downloads IS NULL OR download_count < max_downloads)
			AND (expires_at IS NULL OR expires_at > NOW())`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("ошибка учёта скачивания: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *shareRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_shares WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления ссылки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
