package model

import (
	"fmt"
	"slices"
	"time"
)

// Permission — операция, разрешённая по share-ссылке.
type Permission string

const (
	PermissionView     Permission = "view"
	PermissionDownload Permission = "download"
)

// ParsePermissions проверяет и нормализует список разрешений.
// Пустой список — только просмотр.
func ParsePermissions(values []string) ([]Permission, error) {
	if len(values) == 0 {
		return []Permission{PermissionView}, nil
	}
	result := make([]Permission, 0, len(values))
	for _, v := range values {
		p := Permission(v)
		switch p {
		case PermissionView, PermissionDownload:
		default:
			return nil, fmt.Errorf("недопустимое разрешение %q, допустимые: view, download", v)
		}
		if !slices.Contains(result, p) {
			result = append(result, p)
		}
	}
	return result, nil
}

// FileShare — ограниченный по времени и числу скачиваний доступ к файлу.
type FileShare struct {
	ID     int64
	FileID int64
	// Grantee — получатель доступа (опционально)
	Grantee     *EntityRef
	Permissions []Permission
	// ExpiresAt — срок действия (nil — бессрочно)
	ExpiresAt *time.Time
	// Token — случайный токен публичной ссылки, не меняется после создания
	Token         string
	DownloadCount int
	// MaxDownloads — лимит скачиваний (nil — без лимита)
	MaxDownloads *int
	CreatedBy    int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired сообщает, истёк ли срок действия на момент now.
func (s *FileShare) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// IsExhausted сообщает, исчерпан ли лимит скачиваний.
func (s *FileShare) IsExhausted() bool {
	return s.MaxDownloads != nil && s.DownloadCount >= *s.MaxDownloads
}

// IsValid — ссылка действительна, если не истекла и лимит не исчерпан.
func (s *FileShare) IsValid(now time.Time) bool {
	return !s.IsExpired(now) && !s.IsExhausted()
}

// Allows сообщает, разрешена ли операция p.
func (s *FileShare) Allows(p Permission) bool {
	return slices.Contains(s.Permissions, p)
}

// RemainingDownloads возвращает остаток скачиваний; false — без лимита.
func (s *FileShare) RemainingDownloads() (int, bool) {
	if s.MaxDownloads == nil {
		return 0, false
	}
	return max(*s.MaxDownloads-s.DownloadCount, 0), true
}
