package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// UsageKey — ключ счётчика: владелец и диск.
type UsageKey struct {
	Owner    model.Owner
	Provider string
}

// UsageRepository — счётчики использования хранилища.
// Изменения выполняются одним SQL-оператором, без read-modify-write.
type UsageRepository interface {
	Get(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error)
	// Add атомарно прибавляет дельты, создавая строку при отсутствии.
	// Результат не опускается ниже нуля.
	Add(ctx context.Context, owner model.Owner, provider string, bytes, count int64) error
	SetQuota(ctx context.Context, owner model.Owner, provider string, limit int64) (*model.StorageUsage, error)
	// Recalculate пересчитывает счётчик по каталогу файлов.
	Recalculate(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error)
	// ListKeys возвращает все пары (владелец, диск), известные каталогу или счётчикам.
	ListKeys(ctx context.Context) ([]UsageKey, error)
	ListForOwner(ctx context.Context, owner model.Owner) ([]*model.StorageUsage, error)
}

const usageColumns = `owner_type, owner_id, provider, used_space, file_count,
	quota_limit, last_calculated_at, updated_at`

type usageRepo struct {
	db DBTX
}

// NewUsageRepository создаёт репозиторий счётчиков.
func NewUsageRepository(db DBTX) UsageRepository {
	return &usageRepo{db: db}
}

func scanUsage(row rowScanner) (*model.StorageUsage, error) {
	u := &model.StorageUsage{}
	err := row.Scan(&u.OwnerKind, &u.OwnerID, &u.Provider, &u.UsedSpace, &u.FileCount,
		&u.QuotaLimit, &u.LastCalculatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ownerColumn — колонка files, по которой агрегируется владелец.
func ownerColumn(kind model.OwnerKind) (string, error) {
	switch kind {
	case model.OwnerUser:
		return "owner_id", nil
	case model.OwnerDepartment:
		return "department_id", nil
	default:
		return "", fmt.Errorf("неизвестный вид владельца: %q", kind)
	}
}

func (r *usageRepo) Get(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	query := "SELECT " + usageColumns + ` FROM storage_usage
		WHERE owner_type = $1 AND owner_id = $2 AND provider = $3`

	u, err := scanUsage(r.db.QueryRow(ctx, query, owner.Kind, owner.ID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения счётчика %s/%s: %w", owner, provider, err)
	}
	return u, nil
}

func (r *usageRepo) Add(ctx context.Context, owner model.Owner, provider string, bytes, count int64) error {
	query := `
		INSERT INTO storage_usage (owner_type, owner_id, provider, used_space, file_count)
		VALUES ($1, $2, $3, GREATEST($4::BIGINT, 0), GREATEST($5::BIGINT, 0))
		ON CONFLICT (owner_type, owner_id, provider) DO UPDATE
		SET used_space = GREATEST(storage_usage.used_space + $4::BIGINT, 0),
			file_count = GREATEST(storage_usage.file_count + $5::BIGINT, 0),
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, owner.Kind, owner.ID, provider, bytes, count); err != nil {
		return fmt.Errorf("ошибка обновления счётчика %s/%s: %w", owner, provider, err)
	}
	return nil
}

func (r *usageRepo) SetQuota(ctx context.Context, owner model.Owner, provider string, limit int64) (*model.StorageUsage, error) {
	query := `
		INSERT INTO storage_usage (owner_type, owner_id, provider, quota_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_type, owner_id, provider) DO UPDATE
		SET quota_limit = EXCLUDED.quota_limit, updated_at = NOW()
		RETURNING ` + usageColumns

	u, err := scanUsage(r.db.QueryRow(ctx, query, owner.Kind, owner.ID, provider, limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка установки квоты %s/%s: %w", owner, provider, err)
	}
	return u, nil
}

func (r *usageRepo) Recalculate(ctx context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	col, err := ownerColumn(owner.Kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO storage_usage (owner_type, owner_id, provider, used_space, file_count, last_calculated_at)
		SELECT $1, $2, $3, COALESCE(SUM(size), 0), COUNT(*), NOW()
		FROM files
		WHERE %s = $2 AND disk = $3 AND status != 'deleted'
		ON CONFLICT (owner_type, owner_id, provider) DO UPDATE
		SET used_space = EXCLUDED.used_space,
			file_count = EXCLUDED.file_count,
			last_calculated_at = EXCLUDED.last_calculated_at,
			updated_at = NOW()
		RETURNING %s`, col, usageColumns)

	u, err := scanUsage(r.db.QueryRow(ctx, query, owner.Kind, owner.ID, provider))
	if err != nil {
		return nil, fmt.Errorf("ошибка пересчёта счётчика %s/%s: %w", owner, provider, err)
	}
	return u, nil
}

func (r *usageRepo) ListKeys(ctx context.Context) ([]UsageKey, error) {
	query := `
		SELECT 'user', owner_id, disk FROM files
		UNION
		SELECT 'department', department_id, disk FROM files WHERE department_id IS NOT NULL
		UNION
		SELECT owner_type, owner_id, provider FROM storage_usage
		ORDER BY 1, 2, 3`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения владельцев: %w", err)
	}
	defer rows.Close()

	var keys []UsageKey
	for rows.Next() {
		var k UsageKey
		if err := rows.Scan(&k.Owner.Kind, &k.Owner.ID, &k.Provider); err != nil {
			return nil, fmt.Errorf("ошибка сканирования владельца: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *usageRepo) ListForOwner(ctx context.Context, owner model.Owner) ([]*model.StorageUsage, error) {
	query := "SELECT " + usageColumns + ` FROM storage_usage
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY provider`

	rows, err := r.db.Query(ctx, query, owner.Kind, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения счётчиков %s: %w", owner, err)
	}
	defer rows.Close()

	var result []*model.StorageUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
