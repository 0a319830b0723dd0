// Пакет memory — реализации репозиториев в памяти.
// Используются в тестах сервисов и HTTP-обработчиков вместо PostgreSQL;
// семантика конфликтов и фильтров повторяет SQL-реализацию.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
)

// Проверка реализации интерфейсов.
var (
	_ repository.FileRepository     = (*FileRepo)(nil)
	_ repository.UsageRepository    = (*UsageRepo)(nil)
	_ repository.ShareRepository    = (*ShareRepo)(nil)
	_ repository.VersionRepository  = (*VersionRepo)(nil)
	_ repository.CategoryRepository = (*CategoryRepo)(nil)
)

// --- Файлы ---

// FileRepo — каталог файлов в памяти.
type FileRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.StoredFile

	// CreateErr и UpdateErr возвращаются вместо записи, если заданы.
	CreateErr error
	UpdateErr error
}

// NewFileRepo создаёт пустой каталог.
func NewFileRepo() *FileRepo {
	return &FileRepo{rows: make(map[int64]*model.StoredFile)}
}

func cloneFile(f *model.StoredFile) *model.StoredFile {
	c := *f
	return &c
}

// Len возвращает количество записей в любом статусе.
func (r *FileRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *FileRepo) Create(_ context.Context, f *model.StoredFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	for _, row := range r.rows {
		if row.LineageID == f.LineageID && row.Version == f.Version {
			return fmt.Errorf("%w: версия %d уже существует", repository.ErrConflict, f.Version)
		}
	}
	r.nextID++
	f.ID = r.nextID
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	r.rows[f.ID] = cloneFile(f)
	return nil
}

func (r *FileRepo) GetByID(_ context.Context, id int64) (*model.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneFile(f), nil
}

func (r *FileRepo) GetByUUID(_ context.Context, id uuid.UUID) (*model.StoredFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.rows {
		if f.UUID == id {
			return cloneFile(f), nil
		}
	}
	return nil, repository.ErrNotFound
}

func match(f *model.StoredFile, filter repository.FileFilter) bool {
	switch {
	case filter.Status != nil && f.Status != *filter.Status:
		return false
	case filter.Visibility != nil && f.Visibility != *filter.Visibility:
		return false
	case len(filter.Visibilities) > 0 && !slices.Contains(filter.Visibilities, f.Visibility):
		return false
	case filter.OwnerID != nil && f.OwnerID != *filter.OwnerID:
		return false
	case filter.CategoryID != nil && (f.CategoryID == nil || *f.CategoryID != *filter.CategoryID):
		return false
	case filter.LineageID != nil && f.LineageID != *filter.LineageID:
		return false
	case filter.Attachment != nil && (f.Attachment == nil || *f.Attachment != *filter.Attachment):
		return false
	case filter.MimeType != "" && !validation.MIMEAllowed(f.MimeType, []string{filter.MimeType}):
		return false
	case filter.MinSize != nil && f.Size < *filter.MinSize:
		return false
	case filter.MaxSize != nil && f.Size > *filter.MaxSize:
		return false
	}
	if filter.Search != "" {
		q := strings.ToLower(filter.Search)
		desc := ""
		if f.Description != nil {
			desc = *f.Description
		}
		if !strings.Contains(strings.ToLower(f.Name), q) && !strings.Contains(strings.ToLower(desc), q) {
			return false
		}
	}
	return true
}

func (r *FileRepo) filtered(filter repository.FileFilter) []*model.StoredFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.StoredFile
	for _, f := range r.rows {
		if match(f, filter) {
			result = append(result, cloneFile(f))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result
}

func (r *FileRepo) List(_ context.Context, filter repository.FileFilter) ([]*model.StoredFile, error) {
	result := r.filtered(filter)
	if filter.Offset > 0 {
		result = result[min(filter.Offset, len(result)):]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *FileRepo) Count(_ context.Context, filter repository.FileFilter) (int, error) {
	return len(r.filtered(filter)), nil
}

func (r *FileRepo) Update(_ context.Context, f *model.StoredFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	cur, ok := r.rows[f.ID]
	if !ok {
		return repository.ErrNotFound
	}
	f.ThumbnailPath = cur.ThumbnailPath
	f.UpdatedAt = time.Now()
	r.rows[f.ID] = cloneFile(f)
	return nil
}

func (r *FileRepo) SoftDelete(_ context.Context, id int64, by int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rows[id]
	if !ok || f.Status == model.StatusDeleted {
		return repository.ErrNotFound
	}
	now := time.Now()
	f.Status = model.StatusDeleted
	f.DeletedAt = &now
	f.ThumbnailPath = nil
	f.UpdatedBy = &by
	return nil
}

func (r *FileRepo) Purge(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rows[id]
	if !ok || f.Status != model.StatusDeleted {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *FileRepo) SetThumbnail(_ context.Context, id int64, p *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.ThumbnailPath = p
	return nil
}

func (r *FileRepo) TouchAccess(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	f.DownloadCount++
	f.LastAccessedAt = &now
	return nil
}

func (r *FileRepo) MaxVersion(ctx context.Context, lineageID uuid.UUID) (int, error) {
	list, _ := r.ListLineage(ctx, lineageID)
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Version, nil
}

func (r *FileRepo) ListLineage(_ context.Context, lineageID uuid.UUID) ([]*model.StoredFile, error) {
	result := r.filtered(repository.FileFilter{LineageID: &lineageID})
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

func (r *FileRepo) ReferencedThumbnails(_ context.Context, disk string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make(map[string]struct{})
	for _, f := range r.rows {
		if f.ThumbnailPath != nil {
			refs[*f.ThumbnailPath] = struct{}{}
		}
		if f.Disk == disk && f.Status != model.StatusDeleted {
			refs[f.Path] = struct{}{}
		}
	}
	return refs, nil
}

// --- Счётчики использования ---

// UsageRepo — счётчики в памяти; Recalculate читает FileRepo.
type UsageRepo struct {
	mu    sync.Mutex
	rows  map[repository.UsageKey]*model.StorageUsage
	files *FileRepo

	// AddErr — ошибка Add, счётчик при этом не меняется.
	AddErr error
}

// NewUsageRepo создаёт счётчики поверх каталога files.
func NewUsageRepo(files *FileRepo) *UsageRepo {
	return &UsageRepo{rows: make(map[repository.UsageKey]*model.StorageUsage), files: files}
}

func (r *UsageRepo) row(owner model.Owner, provider string) *model.StorageUsage {
	key := repository.UsageKey{Owner: owner, Provider: provider}
	u, ok := r.rows[key]
	if !ok {
		u = &model.StorageUsage{OwnerKind: owner.Kind, OwnerID: owner.ID, Provider: provider}
		r.rows[key] = u
	}
	return u
}

func (r *UsageRepo) Get(_ context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[repository.UsageKey{Owner: owner, Provider: provider}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *UsageRepo) Add(_ context.Context, owner model.Owner, provider string, bytes, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AddErr != nil {
		return r.AddErr
	}
	u := r.row(owner, provider)
	u.UsedSpace = max(u.UsedSpace+bytes, 0)
	u.FileCount = max(u.FileCount+count, 0)
	return nil
}

func (r *UsageRepo) SetQuota(_ context.Context, owner model.Owner, provider string, limit int64) (*model.StorageUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.row(owner, provider)
	u.QuotaLimit = limit
	c := *u
	return &c, nil
}

func (r *UsageRepo) Recalculate(_ context.Context, owner model.Owner, provider string) (*model.StorageUsage, error) {
	var used, count int64
	for _, f := range r.files.filtered(repository.FileFilter{}) {
		if !f.Status.CountsTowardsQuota() || f.Disk != provider {
			continue
		}
		for _, o := range f.Owners() {
			if o == owner {
				used += f.Size
				count++
			}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.row(owner, provider)
	now := time.Now()
	u.UsedSpace, u.FileCount, u.LastCalculatedAt = used, count, &now
	c := *u
	return &c, nil
}

func (r *UsageRepo) ListKeys(_ context.Context) ([]repository.UsageKey, error) {
	seen := make(map[repository.UsageKey]struct{})
	for _, f := range r.files.filtered(repository.FileFilter{}) {
		for _, o := range f.Owners() {
			seen[repository.UsageKey{Owner: o, Provider: f.Disk}] = struct{}{}
		}
	}
	r.mu.Lock()
	for k := range r.rows {
		seen[k] = struct{}{}
	}
	r.mu.Unlock()

	keys := make([]repository.UsageKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

func (r *UsageRepo) ListForOwner(_ context.Context, owner model.Owner) ([]*model.StorageUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.StorageUsage
	for k, u := range r.rows {
		if k.Owner == owner {
			c := *u
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

// --- Ссылки доступа ---

// ShareRepo — ссылки доступа в памяти.
type ShareRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.FileShare

	// Now — источник времени для created_at и проверки срока.
	Now func() time.Time
}

// NewShareRepo создаёт пустое хранилище ссылок.
func NewShareRepo() *ShareRepo {
	return &ShareRepo{rows: make(map[int64]*model.FileShare), Now: time.Now}
}

func (r *ShareRepo) Create(_ context.Context, s *model.FileShare) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Token == s.Token {
			return fmt.Errorf("%w: токен уже существует", repository.ErrConflict)
		}
	}
	r.nextID++
	s.ID = r.nextID
	s.CreatedAt = r.Now()
	c := *s
	r.rows[s.ID] = &c
	return nil
}

func (r *ShareRepo) GetByID(_ context.Context, id int64) (*model.FileShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *ShareRepo) GetByToken(_ context.Context, token string) (*model.FileShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if s.Token == token {
			c := *s
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *ShareRepo) ListByFile(_ context.Context, fileID int64) ([]*model.FileShare, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileShare
	for _, s := range r.rows {
		if s.FileID == fileID {
			c := *s
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// IncrementDownloads расходует скачивание, только если ссылка ещё действительна.
func (r *ShareRepo) IncrementDownloads(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || !s.IsValid(r.Now()) {
		return false, nil
	}
	s.DownloadCount++
	return true, nil
}

func (r *ShareRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

// --- Снимки версий ---

// VersionRepo — снимки версий в памяти.
type VersionRepo struct {
	mu   sync.Mutex
	rows []*model.FileVersion
}

// NewVersionRepo создаёт пустое хранилище снимков.
func NewVersionRepo() *VersionRepo {
	return &VersionRepo{}
}

func (r *VersionRepo) Create(_ context.Context, v *model.FileVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.ID = int64(len(r.rows) + 1)
	v.CreatedAt = time.Now()
	c := *v
	r.rows = append(r.rows, &c)
	return nil
}

func (r *VersionRepo) ListByLineage(_ context.Context, lineageID uuid.UUID) ([]*model.FileVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileVersion
	for _, v := range r.rows {
		if v.LineageID == lineageID {
			c := *v
			result = append(result, &c)
		}
	}
	return result, nil
}

// --- Категории ---

// CategoryRepo — классификатор в памяти.
type CategoryRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.FileCategory
}

// NewCategoryRepo создаёт пустой классификатор.
func NewCategoryRepo() *CategoryRepo {
	return &CategoryRepo{rows: make(map[int64]*model.FileCategory)}
}

func (r *CategoryRepo) slugTaken(slug string, except int64) bool {
	for _, c := range r.rows {
		if c.Slug == slug && c.ID != except {
			return true
		}
	}
	return false
}

func (r *CategoryRepo) Create(_ context.Context, c *model.FileCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slugTaken(c.Slug, 0) {
		return fmt.Errorf("%w: категория со slug %q уже существует", repository.ErrConflict, c.Slug)
	}
	r.nextID++
	c.ID = r.nextID
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}

func (r *CategoryRepo) GetByID(_ context.Context, id int64) (*model.FileCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CategoryRepo) GetBySlug(_ context.Context, slug string) (*model.FileCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *CategoryRepo) List(_ context.Context, activeOnly bool) ([]*model.FileCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileCategory
	for _, c := range r.rows {
		if activeOnly && !c.IsActive {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *CategoryRepo) Update(_ context.Context, c *model.FileCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[c.ID]; !ok {
		return repository.ErrNotFound
	}
	if r.slugTaken(c.Slug, c.ID) {
		return fmt.Errorf("%w: категория со slug %q уже существует", repository.ErrConflict, c.Slug)
	}
	c.UpdatedAt = time.Now()
	cp := *c
	r.rows[c.ID] = &cp
	return nil
}
