// shares.go — обработчики ссылок доступа.
// /api/v1/files/{id}/shares и /api/v1/shares/{id} — управление владельцем;
// /s/{token} — публичный доступ, токен и есть авторизация.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// shareResponse — представление FileShare в API.
type shareResponse struct {
	ID            int64          `json:"id"`
	FileID        int64          `json:"file_id"`
	Grantee       *entityRefJSON `json:"grantee,omitempty"`
	Permissions   []string       `json:"permissions"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Token         string         `json:"token"`
	URL           string         `json:"url"`
	DownloadCount int            `json:"download_count"`
	MaxDownloads  *int           `json:"max_downloads,omitempty"`
	Valid         bool           `json:"valid"`
	CreatedBy     int64          `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (h *APIHandler) mapShare(s *model.FileShare) shareResponse {
	perms := make([]string, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		perms = append(perms, string(p))
	}
	return shareResponse{
		ID:            s.ID,
		FileID:        s.FileID,
		Grantee:       mapEntityRef(s.Grantee),
		Permissions:   perms,
		ExpiresAt:     s.ExpiresAt,
		Token:         s.Token,
		URL:           h.shares.URL(s),
		DownloadCount: s.DownloadCount,
		MaxDownloads:  s.MaxDownloads,
		Valid:         h.shares.IsValid(s),
		CreatedBy:     s.CreatedBy,
		CreatedAt:     s.CreatedAt,
	}
}

// shareCreateRequest — тело POST /api/v1/files/{id}/shares.
type shareCreateRequest struct {
	Grantee      *entityRefJSON `json:"grantee"`
	Permissions  []string       `json:"permissions"`
	ExpiresAt    *time.Time     `json:"expires_at"`
	MaxDownloads *int           `json:"max_downloads"`
}

// CreateShare — POST /api/v1/files/{id}/shares.
func (h *APIHandler) CreateShare(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	var req shareCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grantee, err := req.Grantee.toModel()
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	share, err := h.shares.CreateShare(r.Context(), f.ID, service.ShareRequest{
		Grantee:      grantee,
		Permissions:  req.Permissions,
		ExpiresAt:    req.ExpiresAt,
		MaxDownloads: req.MaxDownloads,
	}, a)
	if err != nil {
		h.writeServiceError(w, r, "create_share", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.mapShare(share))
}

// ListShares — GET /api/v1/files/{id}/shares.
func (h *APIHandler) ListShares(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	shares, err := h.shares.ListForFile(r.Context(), f.ID)
	if err != nil {
		h.writeServiceError(w, r, "list_shares", err)
		return
	}
	items := make([]shareResponse, 0, len(shares))
	for _, s := range shares {
		items = append(items, h.mapShare(s))
	}
	writeJSON(w, http.StatusOK, listResponse[shareResponse]{
		Items: items, Total: len(items), Limit: len(items),
	})
}

// RevokeShare — DELETE /api/v1/shares/{id}.
// Отозвать ссылку может владелец файла.
func (h *APIHandler) RevokeShare(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	share, err := h.shares.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "revoke_share", err)
		return
	}
	f, err := h.files.Get(r.Context(), share.FileID)
	if err != nil {
		h.writeServiceError(w, r, "revoke_share", err)
		return
	}
	if !canModify(a, f) {
		apierrors.Forbidden(w, "Отозвать ссылку может только владелец файла")
		return
	}
	if err := h.shares.Revoke(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "revoke_share", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// publicShareResponse — метаданные файла по публичной ссылке.
type publicShareResponse struct {
	Name               string     `json:"name"`
	MimeType           string     `json:"mime_type"`
	Size               int64      `json:"size"`
	Description        *string    `json:"description,omitempty"`
	Permissions        []string   `json:"permissions"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RemainingDownloads *int       `json:"remaining_downloads,omitempty"`
}

// ViewShare — GET /s/{token}.
// Любая причина недействительности — один и тот же ответ 404.
func (h *APIHandler) ViewShare(w http.ResponseWriter, r *http.Request) {
	share, f, err := h.shares.View(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeServiceError(w, r, "share_view", err)
		return
	}
	resp := publicShareResponse{
		Name:        f.Name,
		MimeType:    f.MimeType,
		Size:        f.Size,
		Description: f.Description,
		ExpiresAt:   share.ExpiresAt,
	}
	for _, p := range share.Permissions {
		resp.Permissions = append(resp.Permissions, string(p))
	}
	if n, limited := share.RemainingDownloads(); limited {
		resp.RemainingDownloads = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// DownloadShare — GET /s/{token}/download.
// Каждый успешный вызов расходует одно скачивание.
func (h *APIHandler) DownloadShare(w http.ResponseWriter, r *http.Request) {
	f, rc, err := h.shares.Download(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeServiceError(w, r, "share_download", err)
		return
	}
	defer rc.Close()
	streamFile(w, f, rc, h.logger)
}
