package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/api/handlers"
	"github.com/bigkaa/goartstore/file-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/repository/memory"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/thumbnail"
)

// --- Тестовый стенд ---

type envOptions struct {
	userQuota int64
	policy    validation.Policy
}

// newTestRouter собирает роутер поверх репозиториев в памяти и локального диска.
func newTestRouter(t *testing.T, opts envOptions) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	local, err := disk.NewLocal(t.TempDir(), "https://files.example.com/storage")
	if err != nil {
		t.Fatalf("ошибка создания локального диска: %v", err)
	}
	disks, err := disk.NewManager(map[string]disk.Disk{"local": local}, "local", logger)
	if err != nil {
		t.Fatalf("ошибка создания Manager: %v", err)
	}

	files := memory.NewFileRepo()
	quota := service.NewQuotaService(memory.NewUsageRepo(files), opts.userQuota, 0, logger)
	thumbs := service.NewThumbnailService(files, disks, service.ThumbnailConfig{
		Enabled: true,
		Disk:    "local",
		MIME:    []string{"image/jpeg", "image/png"},
		Options: thumbnail.Options{MaxWidth: 32, MaxHeight: 32, Quality: 80},
	}, logger)
	categories := memory.NewCategoryRepo()

	fileSvc := service.NewFileService(service.FileServiceDeps{
		Files:      files,
		Versions:   memory.NewVersionRepo(),
		Categories: categories,
		Disks:      disks,
		Quota:      quota,
		Cache:      service.NewCacheService(100, time.Minute),
		Thumbnails: thumbs,
		Dispatcher: service.NewSyncDispatcher(thumbs),
	}, service.FileServiceConfig{
		Policy:     opts.policy,
		UploadDir:  "uploads",
		TempURLTTL: time.Hour,
	}, logger)

	scheduler := service.NewScheduler(logger)
	for _, job := range service.MaintenanceJobs(quota, thumbs, "", "") {
		if err := scheduler.Register(job); err != nil {
			t.Fatalf("ошибка регистрации задачи: %v", err)
		}
	}

	h := handlers.NewAPIHandler(handlers.NewHealthHandler(nil, nil), handlers.Services{
		Files:      fileSvc,
		Shares:     service.NewShareService(memory.NewShareRepo(), fileSvc, "https://files.example.com", logger),
		Categories: service.NewCategoryService(categories, logger),
		Quota:      quota,
		Thumbnails: thumbs,
		Scheduler:  scheduler,
	}, logger)

	return NewRouter(logger, h, middleware.TrustedHeaders())
}

// user — заголовки пользователя (dept 0 — без отдела).
type user struct {
	id   int64
	dept int64
}

func do(t *testing.T, router http.Handler, method, path string, body io.Reader, u *user, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if u != nil {
		req.Header.Set(middleware.HeaderUserID, fmt.Sprint(u.id))
		if u.dept > 0 {
			req.Header.Set(middleware.HeaderDepartmentID, fmt.Sprint(u.dept))
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any, u *user) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return do(t, router, method, path, body, u, "application/json")
}

func upload(t *testing.T, router http.Handler, u *user, filename, contentType string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return do(t, router, http.MethodPost, "/api/v1/files", &buf, u, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("ошибка разбора ответа %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("статус = %d, ожидался %d, тело: %s", rec.Code, want, rec.Body.String())
	}
}

type fileDTO struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	MimeType   string         `json:"mime_type"`
	Size       int64          `json:"size"`
	Status     string         `json:"status"`
	Visibility string         `json:"visibility"`
	Checksum   string         `json:"checksum"`
	Metadata   map[string]any `json:"metadata"`
	OwnerID    int64          `json:"owner_id"`
}

type errorDTO struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// --- Тесты ---

func TestRouter_FileLifecycle(t *testing.T) {
	router := newTestRouter(t, envOptions{})
	owner := &user{id: 1}
	content := []byte("%PDF-1.4 квартальный отчёт")

	rec := upload(t, router, owner, "report.pdf", "application/pdf", content, map[string]string{
		"description": "Отчёт за квартал",
	})
	expectStatus(t, rec, http.StatusCreated)
	f := decode[fileDTO](t, rec)
	if f.Name != "report.pdf" || f.Status != "active" || f.Visibility != "private" {
		t.Errorf("файл: %+v", f)
	}
	if f.Size != int64(len(content)) || f.Checksum == "" {
		t.Errorf("size=%d checksum=%q", f.Size, f.Checksum)
	}
	if f.Metadata["type"] != "document" {
		t.Errorf("metadata.type = %v", f.Metadata["type"])
	}

	filePath := fmt.Sprintf("/api/v1/files/%d", f.ID)

	rec = do(t, router, http.MethodGet, filePath, nil, owner, "")
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodGet, "/api/v1/files", nil, owner, "")
	expectStatus(t, rec, http.StatusOK)
	list := decode[struct {
		Items []fileDTO `json:"items"`
		Total int       `json:"total"`
	}](t, rec)
	if list.Total != 1 || len(list.Items) != 1 || list.Items[0].ID != f.ID {
		t.Errorf("список: %+v", list)
	}

	rec = do(t, router, http.MethodGet, filePath+"/download", nil, owner, "")
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("скачано %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = do(t, router, http.MethodGet, filePath+"/download?url=1&ttl=15m", nil, owner, "")
	expectStatus(t, rec, http.StatusOK)
	if u := decode[struct {
		URL string `json:"url"`
	}](t, rec); !strings.HasPrefix(u.URL, "https://files.example.com/storage/uploads/") {
		t.Errorf("url = %q", u.URL)
	}

	rec = do(t, router, http.MethodGet, filePath+"/integrity?checksum=1", nil, owner, "")
	expectStatus(t, rec, http.StatusOK)
	if v := decode[struct {
		OK bool `json:"ok"`
	}](t, rec); !v.OK {
		t.Errorf("целостность: %s", rec.Body.String())
	}

	// Ссылка на одно скачивание
	rec = doJSON(t, router, http.MethodPost, filePath+"/shares", map[string]any{
		"permissions":   []string{"view", "download"},
		"max_downloads": 1,
	}, owner)
	expectStatus(t, rec, http.StatusCreated)
	share := decode[struct {
		Token string `json:"token"`
		URL   string `json:"url"`
		Valid bool   `json:"valid"`
	}](t, rec)
	if len(share.Token) != service.ShareTokenLength || !share.Valid {
		t.Fatalf("ссылка: %+v", share)
	}
	if share.URL != "https://files.example.com/s/"+share.Token {
		t.Errorf("url = %q", share.URL)
	}

	rec = do(t, router, http.MethodGet, "/s/"+share.Token, nil, nil, "")
	expectStatus(t, rec, http.StatusOK)
	view := decode[struct {
		Name               string `json:"name"`
		RemainingDownloads *int   `json:"remaining_downloads"`
	}](t, rec)
	if view.Name != "report.pdf" || view.RemainingDownloads == nil || *view.RemainingDownloads != 1 {
		t.Errorf("просмотр: %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/s/"+share.Token+"/download", nil, nil, "")
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("по ссылке скачано %q", rec.Body.String())
	}

	// Лимит исчерпан
	rec = do(t, router, http.MethodGet, "/s/"+share.Token+"/download", nil, nil, "")
	expectStatus(t, rec, http.StatusNotFound)
	if e := decode[errorDTO](t, rec); e.Error.Code != "SHARE_INVALID" {
		t.Errorf("code = %s", e.Error.Code)
	}

	// Бессрочная ссылка перестаёт работать после удаления файла
	rec = doJSON(t, router, http.MethodPost, filePath+"/shares", map[string]any{}, owner)
	expectStatus(t, rec, http.StatusCreated)
	viewOnly := decode[struct {
		Token string `json:"token"`
	}](t, rec)

	rec = do(t, router, http.MethodDelete, filePath, nil, owner, "")
	expectStatus(t, rec, http.StatusNoContent)

	rec = do(t, router, http.MethodGet, "/s/"+viewOnly.Token, nil, nil, "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = do(t, router, http.MethodGet, filePath+"/download", nil, owner, "")
	if rec.Code == http.StatusOK {
		t.Error("удалённый файл скачивается")
	}

	rec = do(t, router, http.MethodDelete, filePath+"/purge", nil, owner, "")
	expectStatus(t, rec, http.StatusNoContent)
	rec = do(t, router, http.MethodGet, filePath, nil, owner, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRouter_Authentication(t *testing.T) {
	router := newTestRouter(t, envOptions{})

	rec := do(t, router, http.MethodGet, "/api/v1/files", nil, nil, "")
	expectStatus(t, rec, http.StatusUnauthorized)
	if e := decode[errorDTO](t, rec); e.Error.Code != "UNAUTHORIZED" {
		t.Errorf("code = %s", e.Error.Code)
	}

	// Публичные пути без заголовков
	rec = do(t, router, http.MethodGet, "/health/live", nil, nil, "")
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodGet, "/s/unknown-token", nil, nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRouter_AccessControl(t *testing.T) {
	router := newTestRouter(t, envOptions{})
	owner := &user{id: 1}
	other := &user{id: 2}

	rec := upload(t, router, owner, "secret.txt", "text/plain", []byte("тайна"), nil)
	expectStatus(t, rec, http.StatusCreated)
	f := decode[fileDTO](t, rec)
	filePath := fmt.Sprintf("/api/v1/files/%d", f.ID)

	// Чужой приватный файл неотличим от отсутствующего
	rec = do(t, router, http.MethodGet, filePath, nil, other, "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = do(t, router, http.MethodGet, fmt.Sprintf("/api/v1/files?owner_id=%d", owner.id), nil, other, "")
	expectStatus(t, rec, http.StatusOK)
	if l := decode[struct {
		Total int `json:"total"`
	}](t, rec); l.Total != 0 {
		t.Errorf("чужой список: %d", l.Total)
	}

	rec = doJSON(t, router, http.MethodPatch, filePath, map[string]any{"visibility": "public"}, owner)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodGet, filePath, nil, other, "")
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodDelete, filePath, nil, other, "")
	expectStatus(t, rec, http.StatusForbidden)

	// Копия принадлежит вызывающему
	rec = do(t, router, http.MethodPost, filePath+"/copy", nil, other, "")
	expectStatus(t, rec, http.StatusCreated)
	if cp := decode[fileDTO](t, rec); cp.OwnerID != other.id || cp.ID == f.ID {
		t.Errorf("копия: %+v", cp)
	}
}

// TestRouter_ListOthersFiles — чужой список без фильтра содержит
// public и internal файлы, но не private.
func TestRouter_ListOthersFiles(t *testing.T) {
	router := newTestRouter(t, envOptions{})
	owner := &user{id: 1}
	other := &user{id: 2}

	for _, vis := range []string{"public", "internal", "private"} {
		rec := upload(t, router, owner, vis+".txt", "text/plain", []byte(vis), map[string]string{"visibility": vis})
		expectStatus(t, rec, http.StatusCreated)
	}

	rec := do(t, router, http.MethodGet, fmt.Sprintf("/api/v1/files?owner_id=%d", owner.id), nil, other, "")
	expectStatus(t, rec, http.StatusOK)
	list := decode[struct {
		Items []fileDTO `json:"items"`
		Total int       `json:"total"`
	}](t, rec)
	if list.Total != 2 {
		t.Fatalf("total = %d, ожидалось 2", list.Total)
	}
	for _, f := range list.Items {
		if f.Visibility == "private" {
			t.Errorf("в чужом списке приватный файл %d", f.ID)
		}
	}

	rec = do(t, router, http.MethodGet, fmt.Sprintf("/api/v1/files?owner_id=%d&visibility=internal", owner.id), nil, other, "")
	expectStatus(t, rec, http.StatusOK)
	if l := decode[struct {
		Total int `json:"total"`
	}](t, rec); l.Total != 1 {
		t.Errorf("internal: total = %d", l.Total)
	}
}

func TestRouter_ValidationError(t *testing.T) {
	router := newTestRouter(t, envOptions{
		policy: validation.Policy{AllowedMIME: []string{"image/*"}},
	})

	rec := upload(t, router, &user{id: 1}, "report.pdf", "application/pdf", []byte("%PDF"), nil)
	expectStatus(t, rec, http.StatusBadRequest)
	e := decode[errorDTO](t, rec)
	if e.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s", e.Error.Code)
	}
	var reasons []validation.Reason
	if err := json.Unmarshal(e.Error.Details, &reasons); err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(reasons) != 1 || reasons[0].Code != validation.CodeMIMENotAllowed {
		t.Errorf("причины: %+v", reasons)
	}

	rec = do(t, router, http.MethodGet, "/api/v1/files/abc", nil, &user{id: 1}, "")
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestRouter_QuotaExceeded(t *testing.T) {
	router := newTestRouter(t, envOptions{userQuota: 8})
	u := &user{id: 1}

	rec := upload(t, router, u, "small.txt", "text/plain", []byte("1234"), nil)
	expectStatus(t, rec, http.StatusCreated)

	rec = upload(t, router, u, "big.txt", "text/plain", []byte("0123456789"), nil)
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
	e := decode[errorDTO](t, rec)
	if e.Error.Code != "QUOTA_EXCEEDED" {
		t.Errorf("code = %s", e.Error.Code)
	}
	var details struct {
		Scope     string `json:"scope"`
		Used      int64  `json:"used"`
		Limit     int64  `json:"limit"`
		Requested int64  `json:"requested"`
	}
	if err := json.Unmarshal(e.Error.Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Scope != "user" || details.Used != 4 || details.Limit != 8 || details.Requested != 10 {
		t.Errorf("details: %+v", details)
	}
}

func TestRouter_Categories(t *testing.T) {
	router := newTestRouter(t, envOptions{})
	u := &user{id: 1}

	type categoryDTO struct {
		ID         int64  `json:"id"`
		Slug       string `json:"slug"`
		IsActive   bool   `json:"is_active"`
		Breadcrumb []struct {
			Slug string `json:"slug"`
		} `json:"breadcrumb"`
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/categories", map[string]any{"name": "Документы"}, u)
	expectStatus(t, rec, http.StatusCreated)
	root := decode[categoryDTO](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/categories", map[string]any{
		"name":               "Сканы",
		"parent_id":          root.ID,
		"allowed_mime_types": []string{"image/*"},
	}, u)
	expectStatus(t, rec, http.StatusCreated)
	child := decode[categoryDTO](t, rec)

	rec = do(t, router, http.MethodGet, fmt.Sprintf("/api/v1/categories/%d", child.ID), nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	got := decode[categoryDTO](t, rec)
	if len(got.Breadcrumb) != 2 || got.Breadcrumb[0].Slug != root.Slug || got.Breadcrumb[1].Slug != child.Slug {
		t.Errorf("breadcrumb: %s", rec.Body.String())
	}

	// Политика категории применяется к загрузке
	rec = upload(t, router, u, "notes.txt", "text/plain", []byte("заметки"), map[string]string{
		"category_id": fmt.Sprint(child.ID),
	})
	expectStatus(t, rec, http.StatusBadRequest)

	// Дубликат slug
	rec = doJSON(t, router, http.MethodPost, "/api/v1/categories", map[string]any{"name": "Документы"}, u)
	expectStatus(t, rec, http.StatusConflict)

	rec = do(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/categories/%d", child.ID), nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	if c := decode[categoryDTO](t, rec); c.IsActive {
		t.Error("категория осталась активной")
	}

	rec = do(t, router, http.MethodGet, "/api/v1/categories?active=1", nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	if l := decode[struct {
		Total int `json:"total"`
	}](t, rec); l.Total != 1 {
		t.Errorf("активных категорий: %d", l.Total)
	}
}

func TestRouter_UsageAndMaintenance(t *testing.T) {
	router := newTestRouter(t, envOptions{userQuota: 1 << 20})
	u := &user{id: 1, dept: 7}

	rec := upload(t, router, u, "a.txt", "text/plain", []byte("abcdef"), nil)
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, router, http.MethodGet, "/api/v1/usage/me", nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	usage := decode[struct {
		User []struct {
			UsedSpace  int64 `json:"used_space"`
			FileCount  int64 `json:"file_count"`
			QuotaLimit int64 `json:"quota_limit"`
		} `json:"user"`
		Department []struct {
			UsedSpace int64 `json:"used_space"`
		} `json:"department"`
	}](t, rec)
	if len(usage.User) != 1 || usage.User[0].UsedSpace != 6 || usage.User[0].FileCount != 1 {
		t.Errorf("использование: %s", rec.Body.String())
	}
	if usage.User[0].QuotaLimit != 1<<20 {
		t.Errorf("quota_limit = %d", usage.User[0].QuotaLimit)
	}
	if len(usage.Department) != 1 || usage.Department[0].UsedSpace != 6 {
		t.Errorf("отдел: %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/maintenance", nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	if jobs := decode[[]service.JobInfo](t, rec); len(jobs) != 2 {
		t.Errorf("задач: %d", len(jobs))
	}

	rec = do(t, router, http.MethodPost, "/api/v1/maintenance/"+service.JobUsageRecalculate, nil, u, "")
	expectStatus(t, rec, http.StatusOK)
	if r := decode[struct {
		Processed int `json:"processed"`
	}](t, rec); r.Processed != 2 {
		t.Errorf("пересчитано счётчиков: %d", r.Processed)
	}

	rec = do(t, router, http.MethodPost, "/api/v1/maintenance/unknown", nil, u, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRouter_HealthReadyWithoutDatabase(t *testing.T) {
	router := newTestRouter(t, envOptions{})

	rec := do(t, router, http.MethodGet, "/health/ready", nil, nil, "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if r := decode[struct {
		Status string `json:"status"`
	}](t, rec); r.Status != "fail" {
		t.Errorf("status = %s", r.Status)
	}
}

func TestAuthWithExclusions(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := authWithExclusions(deny, publicPrefixes...)(ok)

	tests := []struct {
		path string
		want int
	}{
		{"/health/live", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/s/abc", http.StatusOK},
		{"/api/v1/files", http.StatusUnauthorized},
		{"/shares", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: статус %d, ожидался %d", tt.path, rec.Code, tt.want)
		}
	}
}
