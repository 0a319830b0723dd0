// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/repository"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс или зависимые записи).
	ErrConflict = errors.New("конфликт")
	// ErrValidation — ошибка валидации входных данных.
	// Отказ проверки загрузки дополнительно содержит *validation.Failure.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidState — операция недопустима в текущем статусе файла.
	ErrInvalidState = errors.New("операция недопустима в текущем статусе")
	// ErrQuotaExceeded — превышена квота хранилища; детали в *QuotaError.
	ErrQuotaExceeded = errors.New("превышена квота хранилища")
	// ErrStorageIO — ошибка носителя; детали в *disk.IOError.
	ErrStorageIO = disk.ErrStorageIO
	// ErrIntegrityMismatch — байты файла отсутствуют или не совпадают с контрольной суммой.
	ErrIntegrityMismatch = errors.New("нарушена целостность файла")
	// ErrShareInvalid — ссылка не найдена, истекла или исчерпана.
	// Причина наружу не раскрывается.
	ErrShareInvalid = errors.New("ссылка недействительна или истекла")
	// ErrNotSupported — операция не поддерживается.
	ErrNotSupported = errors.New("операция не поддерживается")
)

// QuotaError — отказ по квоте с цифрами для сообщения пользователю.
type QuotaError struct {
	// Scope — уровень квоты: user или department
	Scope     model.OwnerKind
	OwnerID   int64
	Provider  string
	Used      int64
	Limit     int64
	Requested int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("превышена квота (%s %d, диск %s): занято %d из %d байт, запрошено %d",
		e.Scope, e.OwnerID, e.Provider, e.Used, e.Limit, e.Requested)
}

// Is сопоставляет QuotaError с ErrQuotaExceeded.
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IntegrityError — результат проверки целостности.
type IntegrityError struct {
	FileID int64
	// Reason — missing или checksum
	Reason   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	if e.Reason == "checksum" {
		return fmt.Sprintf("файл %d: контрольная сумма %s не совпадает с ожидаемой %s", e.FileID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("файл %d: байты отсутствуют на диске", e.FileID)
}

// Is сопоставляет IntegrityError с ErrIntegrityMismatch.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityMismatch
}

// mapRepoErr переводит ошибки репозитория в ошибки сервиса.
func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
