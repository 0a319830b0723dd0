// files.go — обработчики /api/v1/files endpoints.
// Загрузка, каталог, перемещение, копирование, версии, скачивание.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// maxMemory — часть multipart-формы, которая держится в памяти.
const maxMemory = 32 << 20

// fileResponse — представление StoredFile в API.
type fileResponse struct {
	ID             int64          `json:"id"`
	UUID           string         `json:"uuid"`
	Name           string         `json:"name"`
	OriginalName   string         `json:"original_name"`
	Path           string         `json:"path"`
	Disk           string         `json:"disk"`
	MimeType       string         `json:"mime_type"`
	Size           int64          `json:"size"`
	CategoryID     *int64         `json:"category_id,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Visibility     string         `json:"visibility"`
	Status         string         `json:"status"`
	ThumbnailPath  *string        `json:"thumbnail_path,omitempty"`
	DownloadCount  int64          `json:"download_count"`
	LastAccessedAt *time.Time     `json:"last_accessed_at,omitempty"`
	Checksum       string         `json:"checksum"`
	Attachment     *entityRefJSON `json:"attachment,omitempty"`
	LineageID      string         `json:"lineage_id"`
	Version        int            `json:"version"`
	ParentID       *int64         `json:"parent_id,omitempty"`
	OwnerID        int64          `json:"owner_id"`
	DepartmentID   *int64         `json:"department_id,omitempty"`
	CreatedBy      int64          `json:"created_by"`
	UpdatedBy      *int64         `json:"updated_by,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// entityRefJSON — ссылка на сущность (attachment, grantee).
type entityRefJSON struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func mapEntityRef(ref *model.EntityRef) *entityRefJSON {
	if ref == nil {
		return nil
	}
	return &entityRefJSON{Type: string(ref.Kind), ID: ref.ID}
}

func (e *entityRefJSON) toModel() (*model.EntityRef, error) {
	if e == nil {
		return nil, nil
	}
	return model.NewEntityRef(e.Type, e.ID)
}

func mapFile(f *model.StoredFile) fileResponse {
	return fileResponse{
		ID:             f.ID,
		UUID:           f.UUID.String(),
		Name:           f.Name,
		OriginalName:   f.OriginalName,
		Path:           f.Path,
		Disk:           f.Disk,
		MimeType:       f.MimeType,
		Size:           f.Size,
		CategoryID:     f.CategoryID,
		Description:    f.Description,
		Metadata:       f.Metadata,
		Visibility:     string(f.Visibility),
		Status:         string(f.Status),
		ThumbnailPath:  f.ThumbnailPath,
		DownloadCount:  f.DownloadCount,
		LastAccessedAt: f.LastAccessedAt,
		Checksum:       f.Checksum,
		Attachment:     mapEntityRef(f.Attachment),
		LineageID:      f.LineageID.String(),
		Version:        f.Version,
		ParentID:       f.ParentID,
		OwnerID:        f.OwnerID,
		DepartmentID:   f.DepartmentID,
		CreatedBy:      f.CreatedBy,
		UpdatedBy:      f.UpdatedBy,
		DeletedAt:      f.DeletedAt,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

func mapFiles(files []*model.StoredFile) []fileResponse {
	out := make([]fileResponse, 0, len(files))
	for _, f := range files {
		out = append(out, mapFile(f))
	}
	return out
}

// canRead — владелец видит свои файлы, остальные — только не private.
func canRead(a service.Actor, f *model.StoredFile) bool {
	return f.OwnerID == a.UserID || f.Visibility != model.VisibilityPrivate
}

// canModify — изменять файл может только владелец.
func canModify(a service.Actor, f *model.StoredFile) bool {
	return f.OwnerID == a.UserID
}

// loadFile загружает файл из пути и проверяет доступ.
// write — требуется право изменения.
func (h *APIHandler) loadFile(w http.ResponseWriter, r *http.Request, write bool) (*model.StoredFile, service.Actor, bool) {
	a, ok := actor(w, r)
	if !ok {
		return nil, a, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, a, false
	}
	f, err := h.files.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return nil, a, false
	}
	if !canRead(a, f) {
		// Чужой приватный файл неотличим от отсутствующего
		apierrors.NotFound(w, fmt.Sprintf("Файл %d не найден", id))
		return nil, a, false
	}
	if write && !canModify(a, f) {
		apierrors.Forbidden(w, "Изменять файл может только владелец")
		return nil, a, false
	}
	return f, a, true
}

// logicalType — укрупнённый тип содержимого для метаданных.
func logicalType(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "text/"),
		mimeType == "application/pdf",
		strings.Contains(mimeType, "document"),
		strings.Contains(mimeType, "spreadsheet"),
		strings.Contains(mimeType, "presentation"):
		return "document"
	case strings.Contains(mimeType, "zip"), strings.Contains(mimeType, "compressed"):
		return "archive"
	default:
		return "other"
	}
}

// clientIP возвращает адрес клиента с учётом X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

// optionalString возвращает nil для пустой строки.
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// uploadForm — поля multipart-формы загрузки кроме файла.
type uploadForm struct {
	name        string
	disk        string
	categoryID  *int64
	attachment  *model.EntityRef
	visibility  model.Visibility
	description *string
	metadata    map[string]any
}

func parseUploadForm(r *http.Request) (uploadForm, error) {
	form := uploadForm{
		name:        r.FormValue("name"),
		disk:        r.FormValue("disk"),
		description: optionalString(r.FormValue("description")),
	}

	if v := r.FormValue("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return form, errors.New("category_id должен быть целым числом")
		}
		form.categoryID = &id
	}

	if t := r.FormValue("attachable_type"); t != "" {
		id, err := strconv.ParseInt(r.FormValue("attachable_id"), 10, 64)
		if err != nil {
			return form, errors.New("attachable_id должен быть целым числом")
		}
		ref, err := model.NewEntityRef(t, id)
		if err != nil {
			return form, err
		}
		form.attachment = ref
	}

	vis, err := model.ParseVisibility(r.FormValue("visibility"))
	if err != nil {
		return form, err
	}
	form.visibility = vis

	if v := r.FormValue("metadata"); v != "" {
		if err := json.Unmarshal([]byte(v), &form.metadata); err != nil {
			return form, errors.New("metadata должен быть JSON-объектом")
		}
	}
	return form, nil
}

// UploadFile — POST /api/v1/files.
// Multipart form: file (обязательно), name, disk, category_id,
// attachable_type + attachable_id, visibility, description, metadata (JSON).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	form, err := parseUploadForm(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}

	metadata := form.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["ip"] = clientIP(r)
	metadata["user_agent"] = r.UserAgent()
	metadata["type"] = logicalType(contentType)

	f, err := h.files.Upload(r.Context(), service.UploadRequest{
		Reader:       file,
		OriginalName: header.Filename,
		Name:         form.name,
		MimeType:     contentType,
		Size:         header.Size,
		Disk:         form.disk,
		CategoryID:   form.categoryID,
		Attachment:   form.attachment,
		Visibility:   form.visibility,
		Description:  form.description,
		Metadata:     metadata,
		Actor:        a,
	})
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapFile(f))
}

// ListFiles — GET /api/v1/files.
// Фильтры: status, visibility, mime_type, min_size, max_size, owner_id,
// category_id, attachable_type + attachable_id, q; пагинация: limit, offset.
// Без owner_id пользователь видит свои файлы; чужие — только не private.
//
//nolint:cyclop // последовательный разбор фильтров
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := repository.FileFilter{
		MimeType: q.Get("mime_type"),
		Search:   q.Get("q"),
	}

	if v := q.Get("status"); v != "" {
		st, err := model.ParseFileStatus(v)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Status = &st
	}
	if v := q.Get("visibility"); v != "" {
		vis, err := model.ParseVisibility(v)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Visibility = &vis
	}

	ints := map[string]**int64{
		"min_size":    &filter.MinSize,
		"max_size":    &filter.MaxSize,
		"owner_id":    &filter.OwnerID,
		"category_id": &filter.CategoryID,
	}
	for name, dst := range ints {
		v, err := queryInt(r, name)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		*dst = v
	}

	if t := q.Get("attachable_type"); t != "" {
		id, err := queryInt(r, "attachable_id")
		if err != nil || id == nil {
			apierrors.ValidationError(w, "attachable_id обязателен вместе с attachable_type")
			return
		}
		ref, err := model.NewEntityRef(t, *id)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		filter.Attachment = ref
	}

	switch {
	case filter.OwnerID == nil:
		filter.OwnerID = &a.UserID
	case *filter.OwnerID != a.UserID:
		if filter.Visibility != nil && *filter.Visibility == model.VisibilityPrivate {
			writeJSON(w, http.StatusOK, listResponse[fileResponse]{Items: []fileResponse{}})
			return
		}
		// Чужие файлы: только видимые не владельцу
		if filter.Visibility == nil {
			filter.Visibilities = []model.Visibility{model.VisibilityPublic, model.VisibilityInternal}
		}
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	filter.Limit, filter.Offset = paginationDefaults(limit, offset)

	files, total, err := h.files.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[fileResponse]{
		Items:   mapFiles(files),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+filter.Limit < total,
	})
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mapFile(f))
}

// GetFileByUUID — GET /api/v1/files/uuid/{uuid}.
func (h *APIHandler) GetFileByUUID(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный UUID")
		return
	}
	f, err := h.files.GetByUUID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	if !canRead(a, f) {
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", id))
		return
	}
	writeJSON(w, http.StatusOK, mapFile(f))
}

// fileUpdateRequest — тело PATCH /api/v1/files/{id}.
type fileUpdateRequest struct {
	Name          *string        `json:"name"`
	Description   *string        `json:"description"`
	CategoryID    *int64         `json:"category_id"`
	ClearCategory bool           `json:"clear_category"`
	Visibility    *string        `json:"visibility"`
	Metadata      map[string]any `json:"metadata"`
}

// UpdateFile — PATCH /api/v1/files/{id}.
func (h *APIHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	var req fileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := service.FileUpdate{
		Name:          req.Name,
		Description:   req.Description,
		CategoryID:    req.CategoryID,
		ClearCategory: req.ClearCategory,
		Metadata:      req.Metadata,
	}
	if req.Visibility != nil {
		vis, err := model.ParseVisibility(*req.Visibility)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		upd.Visibility = &vis
	}

	updated, err := h.files.Update(r.Context(), f.ID, upd, a)
	if err != nil {
		h.writeServiceError(w, r, "update", err)
		return
	}
	writeJSON(w, http.StatusOK, mapFile(updated))
}

// DeleteFile — DELETE /api/v1/files/{id}.
// Байты удаляются, запись остаётся со статусом deleted.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	if err := h.files.Delete(r.Context(), f.ID, a); err != nil {
		h.writeServiceError(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurgeFile — DELETE /api/v1/files/{id}/purge.
// Физически удаляет запись, уже помеченную удалённой.
func (h *APIHandler) PurgeFile(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	if err := h.files.Purge(r.Context(), f.ID); err != nil {
		h.writeServiceError(w, r, "purge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// moveRequest — тело POST /api/v1/files/{id}/move.
type moveRequest struct {
	Path string `json:"path"`
}

// MoveFile — POST /api/v1/files/{id}/move.
func (h *APIHandler) MoveFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		apierrors.ValidationError(w, "Поле path обязательно")
		return
	}
	moved, err := h.files.Move(r.Context(), f.ID, req.Path, a)
	if err != nil {
		h.writeServiceError(w, r, "move", err)
		return
	}
	writeJSON(w, http.StatusOK, mapFile(moved))
}

// CopyFile — POST /api/v1/files/{id}/copy.
// Копия принадлежит вызывающему и учитывается в его квоте.
func (h *APIHandler) CopyFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, false)
	if !ok {
		return
	}
	cp, err := h.files.Copy(r.Context(), f.ID, a)
	if err != nil {
		h.writeServiceError(w, r, "copy", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapFile(cp))
}

// ArchiveFile — POST /api/v1/files/{id}/archive.
func (h *APIHandler) ArchiveFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	archived, err := h.files.Archive(r.Context(), f.ID, a)
	if err != nil {
		h.writeServiceError(w, r, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, mapFile(archived))
}

// RestoreFile — POST /api/v1/files/{id}/restore.
func (h *APIHandler) RestoreFile(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	restored, err := h.files.Restore(r.Context(), f.ID, a)
	if err != nil {
		h.writeServiceError(w, r, "restore", err)
		return
	}
	writeJSON(w, http.StatusOK, mapFile(restored))
}

// urlResponse — временная ссылка на байты.
type urlResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadFile — GET /api/v1/files/{id}/download.
// По умолчанию байты отдаются потоком; ?redirect=1 — редирект
// на временную ссылку носителя, ?url=1 — ссылка в JSON.
// Параметр ttl (например, 15m) задаёт время жизни ссылки.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, false)
	if !ok {
		return
	}
	q := r.URL.Query()

	if q.Get("redirect") != "" || q.Get("url") != "" {
		var ttl time.Duration
		if v := q.Get("ttl"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				apierrors.ValidationError(w, "Некорректный ttl")
				return
			}
			ttl = d
		}
		u, err := h.files.DownloadURL(r.Context(), f, ttl)
		if err != nil {
			h.writeServiceError(w, r, "download_url", err)
			return
		}
		if q.Get("redirect") != "" {
			http.Redirect(w, r, u, http.StatusFound)
			return
		}
		if ttl <= 0 {
			ttl = h.files.TempURLTTL()
		}
		writeJSON(w, http.StatusOK, urlResponse{URL: u, ExpiresAt: time.Now().UTC().Add(ttl)})
		return
	}

	rc, err := h.files.Open(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "download", err)
		return
	}
	defer rc.Close()
	streamFile(w, f, rc, h.logger)
}

// streamFile пишет заголовки и байты файла.
func streamFile(w http.ResponseWriter, f *model.StoredFile, rc io.Reader, logger *slog.Logger) {
	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.Header().Set("ETag", `"`+f.Checksum+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// Заголовки уже отправлены, клиенту ошибку не сообщить
		logger.Warn("Передача файла прервана",
			slog.Int64("file_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

// integrityResponse — результат проверки целостности.
type integrityResponse struct {
	FileID   int64  `json:"file_id"`
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Checksum bool   `json:"checksum_verified"`
}

// VerifyFile — GET /api/v1/files/{id}/integrity.
// ?checksum=1 дополнительно пересчитывает MD5.
func (h *APIHandler) VerifyFile(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, false)
	if !ok {
		return
	}
	resp := integrityResponse{FileID: f.ID, OK: true}

	err := h.files.VerifyIntegrity(r.Context(), f)
	if err == nil && r.URL.Query().Get("checksum") != "" {
		resp.Checksum = true
		err = h.files.VerifyChecksum(r.Context(), f)
	}

	var integrity *service.IntegrityError
	switch {
	case err == nil:
	case errors.As(err, &integrity):
		resp.OK = false
		resp.Reason = integrity.Reason
	default:
		h.writeServiceError(w, r, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVersion — POST /api/v1/files/{id}/versions.
// Multipart form: file (обязательно), change_description.
func (h *APIHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	f, a, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	v, err := h.files.CreateVersion(r.Context(), f.ID, service.VersionRequest{
		Reader:            file,
		OriginalName:      header.Filename,
		MimeType:          contentType,
		Size:              header.Size,
		ChangeDescription: optionalString(r.FormValue("change_description")),
		Actor:             a,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_version", err)
		return
	}
	writeJSON(w, http.StatusCreated, mapFile(v))
}

// versionResponse — снимок версии.
type versionResponse struct {
	ID                int64     `json:"id"`
	FileID            int64     `json:"file_id"`
	Version           int       `json:"version"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	Disk              string    `json:"disk"`
	Size              int64     `json:"size"`
	Checksum          string    `json:"checksum"`
	ChangeDescription *string   `json:"change_description,omitempty"`
	CreatedBy         int64     `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

// versionsResponse — линия версий и история снимков.
type versionsResponse struct {
	LineageID string            `json:"lineage_id"`
	Versions  []fileResponse    `json:"versions"`
	History   []versionResponse `json:"history"`
}

// ListVersions — GET /api/v1/files/{id}/versions.
func (h *APIHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, false)
	if !ok {
		return
	}
	versions, err := h.files.Versions(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "versions", err)
		return
	}
	history, err := h.files.History(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "history", err)
		return
	}

	resp := versionsResponse{
		LineageID: f.LineageID.String(),
		Versions:  mapFiles(versions),
		History:   make([]versionResponse, 0, len(history)),
	}
	for _, v := range history {
		resp.History = append(resp.History, versionResponse{
			ID:                v.ID,
			FileID:            v.FileID,
			Version:           v.Version,
			Name:              v.Name,
			Path:              v.Path,
			Disk:              v.Disk,
			Size:              v.Size,
			Checksum:          v.Checksum,
			ChangeDescription: v.ChangeDescription,
			CreatedBy:         v.CreatedBy,
			CreatedAt:         v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// thumbnailResponse — результат построения миниатюры.
type thumbnailResponse struct {
	FileID        int64   `json:"file_id"`
	Generated     bool    `json:"generated"`
	ThumbnailPath *string `json:"thumbnail_path,omitempty"`
}

// RegenerateThumbnail — POST /api/v1/files/{id}/thumbnail.
// Неподходящий тип или ошибка построения — generated=false.
func (h *APIHandler) RegenerateThumbnail(w http.ResponseWriter, r *http.Request) {
	f, _, ok := h.loadFile(w, r, true)
	if !ok {
		return
	}
	if h.thumbs == nil {
		apierrors.FromService(w, service.ErrNotSupported)
		return
	}
	resp := thumbnailResponse{FileID: f.ID}
	if p, ok := h.thumbs.Regenerate(r.Context(), f); ok {
		resp.Generated = true
		resp.ThumbnailPath = &p
	}
	writeJSON(w, http.StatusOK, resp)
}
