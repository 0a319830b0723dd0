// usage.go — использование хранилища и задачи обслуживания.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/file-manager/internal/api/errors"
	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
)

// usageResponse — счётчик использования по (владелец, диск).
type usageResponse struct {
	OwnerKind        string     `json:"owner_kind"`
	OwnerID          int64      `json:"owner_id"`
	Provider         string     `json:"provider"`
	UsedSpace        int64      `json:"used_space"`
	FileCount        int64      `json:"file_count"`
	QuotaLimit       int64      `json:"quota_limit"`
	Available        int64      `json:"available"`
	Percent          float64    `json:"percent"`
	NearLimit        bool       `json:"near_limit"`
	LastCalculatedAt *time.Time `json:"last_calculated_at,omitempty"`
}

func mapUsage(u *model.StorageUsage) usageResponse {
	return usageResponse{
		OwnerKind:        string(u.OwnerKind),
		OwnerID:          u.OwnerID,
		Provider:         u.Provider,
		UsedSpace:        u.UsedSpace,
		FileCount:        u.FileCount,
		QuotaLimit:       u.QuotaLimit,
		Available:        u.Available(),
		Percent:          u.Percent(),
		NearLimit:        u.NearLimit(),
		LastCalculatedAt: u.LastCalculatedAt,
	}
}

// myUsageResponse — использование пользователя и его отдела.
type myUsageResponse struct {
	User       []usageResponse `json:"user"`
	Department []usageResponse `json:"department,omitempty"`
}

// GetMyUsage — GET /api/v1/usage/me.
func (h *APIHandler) GetMyUsage(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(w, r)
	if !ok {
		return
	}
	user, err := h.quota.Usage(r.Context(), model.Owner{Kind: model.OwnerUser, ID: a.UserID})
	if err != nil {
		h.writeServiceError(w, r, "usage", err)
		return
	}
	resp := myUsageResponse{User: make([]usageResponse, 0, len(user))}
	for _, u := range user {
		resp.User = append(resp.User, mapUsage(u))
	}

	if a.DepartmentID != nil {
		dept, err := h.quota.Usage(r.Context(), model.Owner{Kind: model.OwnerDepartment, ID: *a.DepartmentID})
		if err != nil {
			h.writeServiceError(w, r, "usage", err)
			return
		}
		for _, u := range dept {
			resp.Department = append(resp.Department, mapUsage(u))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs — GET /api/v1/maintenance.
func (h *APIHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	if h.scheduler == nil {
		writeJSON(w, http.StatusOK, []service.JobInfo{})
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Jobs())
}

// jobRunResponse — результат ручного запуска задачи.
type jobRunResponse struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
}

// RunJob — POST /api/v1/maintenance/{job}.
// Выполняется синхронно; уже идущий запуск — 409.
func (h *APIHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	if h.scheduler == nil {
		apierrors.FromService(w, service.ErrNotSupported)
		return
	}
	name := chi.URLParam(r, "job")
	n, err := h.scheduler.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, service.ErrJobRunning):
		apierrors.Conflict(w, err.Error())
		return
	case err != nil:
		h.writeServiceError(w, r, "maintenance", err)
		return
	}
	writeJSON(w, http.StatusOK, jobRunResponse{Job: name, Processed: n})
}
