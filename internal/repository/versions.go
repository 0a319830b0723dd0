package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// VersionRepository — снимки версий файлов.
type VersionRepository interface {
	Create(ctx context.Context, v *model.FileVersion) error
	ListByLineage(ctx context.Context, lineageID uuid.UUID) ([]*model.FileVersion, error)
}

type versionRepo struct {
	db DBTX
}

// NewVersionRepository создаёт репозиторий снимков версий.
func NewVersionRepository(db DBTX) VersionRepository {
	return &versionRepo{db: db}
}

func (r *versionRepo) Create(ctx context.Context, v *model.FileVersion) error {
	query := `
		INSERT INTO file_versions (file_id, lineage_id, version, name, path, disk,
			size, checksum, change_description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		v.FileID, v.LineageID, v.Version, v.Name, v.Path, v.Disk,
		v.Size, v.Checksum, v.ChangeDescription, v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: снимок версии %d уже существует", ErrConflict, v.Version)
		}
		return fmt.Errorf("ошибка создания снимка версии: %w", err)
	}
	return nil
}

func (r *versionRepo) ListByLineage(ctx context.Context, lineageID uuid.UUID) ([]*model.FileVersion, error) {
	query := `
		SELECT id, file_id, lineage_id, version, name, path, disk, size, checksum,
			change_description, created_by, created_at
		FROM file_versions
		WHERE lineage_id = $1
		ORDER BY version`

	rows, err := r.db.Query(ctx, query, lineageID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения версий: %w", err)
	}
	defer rows.Close()

	var result []*model.FileVersion
	for rows.Next() {
		v := &model.FileVersion{}
		if err := rows.Scan(&v.ID, &v.FileID, &v.LineageID, &v.Version, &v.Name, &v.Path,
			&v.Disk, &v.Size, &v.Checksum, &v.ChangeDescription, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования версии: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}
