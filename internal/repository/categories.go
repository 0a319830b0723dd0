package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// CategoryRepository — классификатор файлов.
type CategoryRepository interface {
	Create(ctx context.Context, c *model.FileCategory) error
	GetByID(ctx context.Context, id int64) (*model.FileCategory, error)
	GetBySlug(ctx context.Context, slug string) (*model.FileCategory, error)
	// List возвращает категории в порядке sort_order, name.
	List(ctx context.Context, activeOnly bool) ([]*model.FileCategory, error)
	Update(ctx context.Context, c *model.FileCategory) error
}

const categoryColumns = `id, name, slug, icon, description, parent_id, is_active,
	sort_order, max_file_size, allowed_mime, created_at, updated_at`

type categoryRepo struct {
	db DBTX
}

// NewCategoryRepository создаёт репозиторий категорий.
func NewCategoryRepository(db DBTX) CategoryRepository {
	return &categoryRepo{db: db}
}

func scanCategory(row rowScanner) (*model.FileCategory, error) {
	c := &model.FileCategory{}
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Icon, &c.Description, &c.ParentID, &c.IsActive,
		&c.SortOrder, &c.MaxFileSize, &c.AllowedMIME, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *categoryRepo) Create(ctx context.Context, c *model.FileCategory) error {
	if c.AllowedMIME == nil {
		c.AllowedMIME = []string{}
	}
	query := `
		INSERT INTO file_categories (name, slug, icon, description, parent_id, is_active,
			sort_order, max_file_size, allowed_mime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.Name, c.Slug, c.Icon, c.Description, c.ParentID, c.IsActive,
		c.SortOrder, c.MaxFileSize, c.AllowedMIME,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: категория со slug %q уже существует", ErrConflict, c.Slug)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: родительская категория", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания категории: %w", err)
	}
	return nil
}

func (r *categoryRepo) GetByID(ctx context.Context, id int64) (*model.FileCategory, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *categoryRepo) GetBySlug(ctx context.Context, slug string) (*model.FileCategory, error) {
	return r.getOne(ctx, "slug = $1", slug)
}

func (r *categoryRepo) getOne(ctx context.Context, cond string, arg any) (*model.FileCategory, error) {
	c, err := scanCategory(r.db.QueryRow(ctx, "SELECT "+categoryColumns+" FROM file_categories WHERE "+cond, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения категории: %w", err)
	}
	return c, nil
}

func (r *categoryRepo) List(ctx context.Context, activeOnly bool) ([]*model.FileCategory, error) {
	query := "SELECT " + categoryColumns + " FROM file_categories"
	if activeOnly {
		query += " WHERE is_active"
	}
	query += " ORDER BY sort_order, name"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения категорий: %w", err)
	}
	defer rows.Close()

	var result []*model.FileCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования категории: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *categoryRepo) Update(ctx context.Context, c *model.FileCategory) error {
	if c.AllowedMIME == nil {
		c.AllowedMIME = []string{}
	}
	query := `
		UPDATE file_categories
		SET name = $2, slug = $3, icon = $4, description = $5, parent_id = $6,
			is_active = $7, sort_order = $8, max_file_size = $9, allowed_mime = $10,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.Name, c.Slug, c.Icon, c.Description, c.ParentID,
		c.IsActive, c.SortOrder, c.MaxFileSize, c.AllowedMIME,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: категория со slug %q уже существует", ErrConflict, c.Slug)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: родительская категория", ErrNotFound)
		}
		return fmt.Errorf("ошибка обновления категории: %w", err)
	}
	return nil
}
