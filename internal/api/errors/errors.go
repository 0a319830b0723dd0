// Пакет errors — конструкторы стандартных ошибок File Manager.
// Единый формат: {"error": {"code": "...", "message": "...", "details": ...}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/service"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
)

// Коды ошибок.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflict          = "CONFLICT"
	CodeInvalidState      = "INVALID_STATE"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeStorageError      = "STORAGE_ERROR"
	CodeIntegrityMismatch = "INTEGRITY_MISMATCH"
	CodeShareInvalid      = "SHARE_INVALID"
	CodeNotSupported      = "NOT_SUPPORTED"
	CodeInternalError     = "INTERNAL_ERROR"
)

// Сообщения, которые не раскрывают причину отказа.
const (
	msgStorage      = "Хранилище временно недоступно, повторите попытку позже"
	msgShareInvalid = "Ссылка недействительна или истекла"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// QuotaDetails — цифры отказа по квоте.
type QuotaDetails struct {
	Scope     string `json:"scope"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Requested int64  `json:"requested"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorDetails(w, statusCode, code, message, nil)
}

// WriteErrorDetails — WriteError с машиночитаемыми деталями.
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// ShareInvalid — 404 без указания причины.
func ShareInvalid(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, CodeShareInvalid, msgShareInvalid)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// FromService записывает ответ по ошибке сервисного слоя.
// Возвращает false, если ошибка неизвестна и ответ — 500:
// такую ошибку вызывающий должен залогировать.
func FromService(w http.ResponseWriter, err error) bool {
	var (
		fail  *validation.Failure
		quota *service.QuotaError
	)
	switch {
	case errors.As(err, &fail):
		WriteErrorDetails(w, http.StatusBadRequest, CodeValidationError, fail.Error(), fail.Reasons)
	case errors.As(err, &quota):
		WriteErrorDetails(w, http.StatusRequestEntityTooLarge, CodeQuotaExceeded, quota.Error(), QuotaDetails{
			Scope:     string(quota.Scope),
			Used:      quota.Used,
			Limit:     quota.Limit,
			Requested: quota.Requested,
		})
	case errors.Is(err, service.ErrShareInvalid):
		ShareInvalid(w)
	case errors.Is(err, service.ErrValidation), errors.Is(err, disk.ErrInvalidPath):
		ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		WriteError(w, http.StatusConflict, CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrIntegrityMismatch):
		WriteError(w, http.StatusInternalServerError, CodeIntegrityMismatch, msgStorage)
		return false
	case errors.Is(err, service.ErrStorageIO):
		WriteError(w, http.StatusInternalServerError, CodeStorageError, msgStorage)
		return false
	case errors.Is(err, service.ErrNotSupported):
		WriteError(w, http.StatusNotImplemented, CodeNotSupported, err.Error())
	default:
		InternalError(w, "Внутренняя ошибка сервера")
		return false
	}
	return true
}
