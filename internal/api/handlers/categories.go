// categories.go — обработчики /api/v1/categories endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// categoryResponse — представление FileCategory в API.
type categoryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Icon        *string   `json:"icon,omitempty"`
	Description *string   `json:"description,omitempty"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	SortOrder   int       `json:"sort_order"`
	MaxFileSize *int64    `json:"max_file_size,omitempty"`
	AllowedMIME []string  `json:"allowed_mime_types,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	// Breadcrumb заполняется только для одной категории
	Breadcrumb []breadcrumbItem `json:"breadcrumb,omitempty"`
}

type breadcrumbItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func mapCategory(c *model.FileCategory) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Icon:        c.Icon,
		Description: c.Description,
		ParentID:    c.ParentID,
		IsActive:    c.IsActive,
		SortOrder:   c.SortOrder,
		MaxFileSize: c.MaxFileSize,
		AllowedMIME: c.AllowedMIME,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// categoryRequest — тело POST и PATCH /api/v1/categories.
// В PATCH отсутствующие поля не меняются.
type categoryRequest struct {
	Name        *string   `json:"name"`
	Slug        *string   `json:"slug"`
	Icon        *string   `json:"icon"`
	Description *string   `json:"description"`
	ParentID    *int64    `json:"parent_id"`
	ClearParent bool      `json:"clear_parent"`
	SortOrder   *int      `json:"sort_order"`
	MaxFileSize *int64    `json:"max_file_size"`
	AllowedMIME *[]string `json:"allowed_mime_types"`
	IsActive    *bool     `json:"is_active"`
}

// apply накладывает поля запроса на input.
func (req categoryRequest) apply(in service.CategoryInput) service.CategoryInput {
	if req.Name != nil {
		in.Name = *req.Name
	}
	if req.Slug != nil {
		in.Slug = *req.Slug
	}
	if req.Icon != nil {
		in.Icon = req.Icon
	}
	if req.Description != nil {
		in.Description = req.Description
	}
	if req.ClearParent {
		in.ParentID = nil
	} else if req.ParentID != nil {
		in.ParentID = req.ParentID
	}
	if req.SortOrder != nil {
		in.SortOrder = *req.SortOrder
	}
	if req.MaxFileSize != nil {
		in.MaxFileSize = req.MaxFileSize
	}
	if req.AllowedMIME != nil {
		in.AllowedMIME = *req.AllowedMIME
	}
	if req.IsActive != nil {
		in.IsActive = req.IsActive
	}
	return in
}

// ListCategories — GET /api/v1/categories.
// ?active=1 — только активные.
func (h *APIHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	list, err := h.categories.List(r.Context(), r.URL.Query().Get("active") != "")
	if err != nil {
		h.writeServiceError(w, r, "list_categories", err)
		return
	}
	items := make([]categoryResponse, 0, len(list))
	for _, c := range list {
		items = append(items, mapCategory(c))
	}
	writeJSON(w, http.StatusOK, listResponse[categoryResponse]{
		Items: items, Total: len(items), Limit: len(items),
	})
}

// CreateCategory — POST /api/v1/categories.
func (h *APIHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.categories.Create(r.Context(), req.apply(service.CategoryInput{}))
	if err != nil {
		h.writeServiceError(w, r, "create_category", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapCategory(c))
}

// GetCategory — GET /api/v1/categories/{id}, с цепочкой до корня.
func (h *APIHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	chain, err := h.categories.Breadcrumb(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_category", err)
		return
	}
	resp := mapCategory(chain[len(chain)-1])
	for _, c := range chain {
		resp.Breadcrumb = append(resp.Breadcrumb, breadcrumbItem{ID: c.ID, Name: c.Name, Slug: c.Slug})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateCategory — PATCH /api/v1/categories/{id}.
func (h *APIHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	current, err := h.categories.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "update_category", err)
		return
	}
	in := service.CategoryInput{
		Name:        current.Name,
		Slug:        current.Slug,
		Icon:        current.Icon,
		Description: current.Description,
		ParentID:    current.ParentID,
		SortOrder:   current.SortOrder,
		MaxFileSize: current.MaxFileSize,
		AllowedMIME: current.AllowedMIME,
	}
	c, err := h.categories.Update(r.Context(), id, req.apply(in))
	if err != nil {
		h.writeServiceError(w, r, "update_category", err)
		return
	}
	writeJSON(w, http.StatusOK, mapCategory(c))
}

// DeactivateCategory — DELETE /api/v1/categories/{id}.
// Категория закрывается для загрузок, записи не удаляются.
func (h *APIHandler) DeactivateCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.categories.Deactivate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "deactivate_category", err)
		return
	}
	writeJSON(w, http.StatusOK, mapCategory(c))
}
