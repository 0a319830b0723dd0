// Пакет model — доменные модели File Manager.
// Сущности каталога файлов: StoredFile, FileCategory, FileShare,
// FileVersion, StorageUsage и закрытые перечисления статусов.
package model

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStatus — статус жизненного цикла файла.
type FileStatus string

const (
	// StatusActive — файл доступен.
	StatusActive FileStatus = "active"
	// StatusDeleted — байты удалены, запись каталога сохранена для аудита.
	StatusDeleted FileStatus = "deleted"
	// StatusArchived — файл выведен из оборота, байты сохранены.
	StatusArchived FileStatus = "archived"
)

// ParseFileStatus преобразует строку в FileStatus.
func ParseFileStatus(s string) (FileStatus, error) {
	switch FileStatus(s) {
	case StatusActive, StatusDeleted, StatusArchived:
		return FileStatus(s), nil
	default:
		return "", fmt.Errorf("недопустимый статус файла %q, допустимые: active, deleted, archived", s)
	}
}

// HasBytes сообщает, должны ли байты файла существовать на диске.
func (s FileStatus) HasBytes() bool {
	switch s {
	case StatusActive, StatusArchived:
		return true
	case StatusDeleted:
		return false
	}
	return false
}

// CountsTowardsQuota сообщает, учитывается ли файл в использовании хранилища.
func (s FileStatus) CountsTowardsQuota() bool {
	switch s {
	case StatusActive, StatusArchived:
		return true
	case StatusDeleted:
		return false
	}
	return false
}

// Visibility — видимость файла.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// ParseVisibility преобразует строку в Visibility.
// Пустая строка — private.
func ParseVisibility(s string) (Visibility, error) {
	if s == "" {
		return VisibilityPrivate, nil
	}
	switch Visibility(s) {
	case VisibilityPublic, VisibilityPrivate, VisibilityInternal:
		return Visibility(s), nil
	default:
		return "", fmt.Errorf("недопустимая видимость %q, допустимые: public, private, internal", s)
	}
}

// StoredFile — запись каталога о хранимом объекте.
type StoredFile struct {
	// ID — внутренний последовательный идентификатор
	ID int64
	// UUID — внешний идентификатор для ссылок
	UUID uuid.UUID
	// Name — отображаемое имя
	Name string
	// OriginalName — имя, переданное клиентом при загрузке
	OriginalName string
	// Path — путь объекта на диске
	Path string
	// Disk — имя диска хранения
	Disk     string
	MimeType string
	// Size — размер в байтах
	Size        int64
	CategoryID  *int64
	Description *string
	// Metadata — произвольные метаданные (ip, user agent, sha256 и т.п.)
	Metadata       map[string]any
	Visibility     Visibility
	Status         FileStatus
	ThumbnailPath  *string
	DownloadCount  int64
	LastAccessedAt *time.Time
	// Checksum — MD5 содержимого (hex)
	Checksum string
	// Attachment — сущность-владелец файла (опционально)
	Attachment *EntityRef
	// LineageID — идентификатор линии версий, общий для всех версий
	LineageID uuid.UUID
	// Version — номер версии в линии, начиная с 1
	Version int
	// ParentID — корень линии версий (nil для первой версии)
	ParentID *int64
	// OwnerID — пользователь-владелец (учитывается в квоте)
	OwnerID int64
	// DepartmentID — отдел владельца (учитывается в квоте отдела)
	DepartmentID *int64
	CreatedBy    int64
	UpdatedBy    *int64
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsVersion сообщает, является ли запись версией другого файла.
func (f *StoredFile) IsVersion() bool {
	return f.ParentID != nil
}

// RootID возвращает идентификатор корня линии версий.
func (f *StoredFile) RootID() int64 {
	if f.ParentID != nil {
		return *f.ParentID
	}
	return f.ID
}

// Extension возвращает расширение оригинального имени в нижнем регистре, без точки.
func (f *StoredFile) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(f.OriginalName)), ".")
}

// Dir возвращает директорию объекта на диске.
func (f *StoredFile) Dir() string {
	d := path.Dir(f.Path)
	if d == "." {
		return ""
	}
	return d
}

// IsImage сообщает, является ли файл изображением по MIME-типу.
func (f *StoredFile) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// Owner возвращает владельца-пользователя.
func (f *StoredFile) Owner() Owner {
	return Owner{Kind: OwnerUser, ID: f.OwnerID}
}

// Department возвращает отдел-владельца, если он задан.
func (f *StoredFile) Department() (Owner, bool) {
	if f.DepartmentID == nil {
		return Owner{}, false
	}
	return Owner{Kind: OwnerDepartment, ID: *f.DepartmentID}, true
}

// Owners возвращает владельцев, на которых учитывается файл:
// пользователя и, если задан, отдел.
func (f *StoredFile) Owners() []Owner {
	owners := []Owner{f.Owner()}
	if dept, ok := f.Department(); ok {
		owners = append(owners, dept)
	}
	return owners
}
