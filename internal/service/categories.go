package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
)

// maxCategoryDepth ограничивает обход дерева категорий.
const maxCategoryDepth = 32

// CategoryInput — поля категории при создании и изменении.
type CategoryInput struct {
	Name string
	// Slug — явный slug (пусто — из Name)
	Slug        string
	Icon        *string
	Description *string
	ParentID    *int64
	SortOrder   int
	MaxFileSize *int64
	AllowedMIME []string
	IsActive    *bool
}

// CategoryService — классификатор файлов.
type CategoryService struct {
	repo   repository.CategoryRepository
	logger *slog.Logger
}

// NewCategoryService создаёт сервис категорий.
func NewCategoryService(repo repository.CategoryRepository, logger *slog.Logger) *CategoryService {
	return &CategoryService{
		repo:   repo,
		logger: logger.With(slog.String("component", "category_service")),
	}
}

func (s *CategoryService) normalize(in CategoryInput) (string, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", validationErr("название категории обязательно")
	}
	slug := in.Slug
	if slug == "" {
		slug = name
	}
	slug = Slugify(slug)
	if slug == "" {
		return "", "", validationErr("не удалось построить slug из %q", name)
	}
	if in.MaxFileSize != nil && *in.MaxFileSize <= 0 {
		return "", "", validationErr("max_file_size должен быть положительным")
	}
	return name, slug, nil
}

// Create создаёт категорию.
func (s *CategoryService) Create(ctx context.Context, in CategoryInput) (*model.FileCategory, error) {
	name, slug, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if in.ParentID != nil {
		if _, err := s.repo.GetByID(ctx, *in.ParentID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, validationErr("родительская категория %d не найдена", *in.ParentID)
			}
			return nil, err
		}
	}

	c := &model.FileCategory{
		Name:        name,
		Slug:        slug,
		Icon:        in.Icon,
		Description: in.Description,
		ParentID:    in.ParentID,
		IsActive:    in.IsActive == nil || *in.IsActive,
		SortOrder:   in.SortOrder,
		MaxFileSize: in.MaxFileSize,
		AllowedMIME: in.AllowedMIME,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, mapRepoErr(err)
	}
	s.logger.Info("Категория создана", slog.Int64("category_id", c.ID), slog.String("slug", c.Slug))
	return c, nil
}

// Update заменяет поля категории. Смена родителя проверяется на цикл.
func (s *CategoryService) Update(ctx context.Context, id int64, in CategoryInput) (*model.FileCategory, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	name, slug, err := s.normalize(in)
	if err != nil {
		return nil, err
	}

	if in.ParentID != nil && !equalID(in.ParentID, c.ParentID) {
		if *in.ParentID == c.ID {
			return nil, validationErr("категория не может быть родителем самой себя")
		}
		chain, err := s.Breadcrumb(ctx, *in.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, validationErr("родительская категория %d не найдена", *in.ParentID)
			}
			return nil, err
		}
		if slices.ContainsFunc(chain, func(p *model.FileCategory) bool { return p.ID == c.ID }) {
			return nil, validationErr("смена родителя образует цикл")
		}
	}

	c.Name = name
	c.Slug = slug
	c.Icon = in.Icon
	c.Description = in.Description
	c.ParentID = in.ParentID
	c.SortOrder = in.SortOrder
	c.MaxFileSize = in.MaxFileSize
	c.AllowedMIME = in.AllowedMIME
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, mapRepoErr(err)
	}
	return c, nil
}

// Deactivate закрывает категорию для новых загрузок.
// Существующие файлы категории не меняются.
func (s *CategoryService) Deactivate(ctx context.Context, id int64) (*model.FileCategory, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return c, nil
	}
	c.IsActive = false
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, mapRepoErr(err)
	}
	s.logger.Info("Категория деактивирована", slog.Int64("category_id", c.ID))
	return c, nil
}

// Get возвращает категорию.
func (s *CategoryService) Get(ctx context.Context, id int64) (*model.FileCategory, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return c, nil
}

// GetBySlug возвращает категорию по slug.
func (s *CategoryService) GetBySlug(ctx context.Context, slug string) (*model.FileCategory, error) {
	c, err := s.repo.GetBySlug(ctx, slug)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return c, nil
}

// List возвращает категории.
func (s *CategoryService) List(ctx context.Context, activeOnly bool) ([]*model.FileCategory, error) {
	return s.repo.List(ctx, activeOnly)
}

// Breadcrumb возвращает цепочку категорий от корня до id включительно.
func (s *CategoryService) Breadcrumb(ctx context.Context, id int64) ([]*model.FileCategory, error) {
	var chain []*model.FileCategory
	seen := make(map[int64]struct{})
	next := &id
	for next != nil {
		if _, ok := seen[*next]; ok || len(chain) >= maxCategoryDepth {
			return nil, fmt.Errorf("%w: цикл в дереве категорий у %d", ErrConflict, *next)
		}
		seen[*next] = struct{}{}
		c, err := s.Get(ctx, *next)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
		next = c.ParentID
	}
	slices.Reverse(chain)
	return chain, nil
}

// EffectivePolicy возвращает политику загрузки категории.
func (s *CategoryService) EffectivePolicy(ctx context.Context, id int64) (validation.Policy, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return validation.Policy{}, err
	}
	return validation.ForCategory(c), nil
}

func equalID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
