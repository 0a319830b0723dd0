// handler.go — основной обработчик API File Manager.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/api/middleware"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// APIHandler — основной обработчик API File Manager.
type APIHandler struct {
	health     *HealthHandler
	files      *service.FileService
	shares     *service.ShareService
	categories *service.CategoryService
	quota      *service.QuotaService
	thumbs     *service.ThumbnailService
	scheduler  *service.Scheduler
	logger     *slog.Logger
}

// Services — сервисы, которые использует APIHandler.
// Thumbnails и Scheduler необязательны.
type Services struct {
	Files      *service.FileService
	Shares     *service.ShareService
	Categories *service.CategoryService
	Quota      *service.QuotaService
	Thumbnails *service.ThumbnailService
	Scheduler  *service.Scheduler
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, svc Services, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:     health,
		files:      svc.Files,
		shares:     svc.Shares,
		categories: svc.Categories,
		quota:      svc.Quota,
		thumbs:     svc.Thumbnails,
		scheduler:  svc.Scheduler,
		logger:     logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса; при ошибке пишет 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// writeServiceError пишет ответ по ошибке сервиса.
// Ошибки носителя и неизвестные ошибки логируются.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !apierrors.FromService(w, err) {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// actor возвращает пользователя запроса; при отсутствии пишет 401.
func actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	a, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Отсутствуют claims")
	}
	return a, ok
}

// pathID разбирает числовой параметр пути.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор %s: %q", name, raw))
		return 0, false
	}
	return id, true
}

// queryInt разбирает необязательный целочисленный параметр запроса.
func queryInt(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("параметр %s должен быть целым числом", name)
	}
	return &v, nil
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int64) (int, int) {
	l := 50
	o := 0

	if limit != nil {
		l = int(*limit)
		if l < 1 {
			l = 1
		}
		if l > 500 {
			l = 500
		}
	}
	if offset != nil && *offset > 0 {
		o = int(*offset)
	}
	return l, o
}

// listResponse — страница списка.
type listResponse[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}
