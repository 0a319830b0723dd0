package model

import "time"

// FileCategory — узел иерархического классификатора файлов.
type FileCategory struct {
	ID          int64
	Name        string
	Slug        string
	Icon        *string
	Description *string
	ParentID    *int64
	IsActive    bool
	SortOrder   int
	// MaxFileSize — собственное ограничение размера (nil — без ограничения)
	MaxFileSize *int64
	// AllowedMIME — собственный список MIME-типов (пусто — любые)
	AllowedMIME []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Directory возвращает директорию для файлов категории на диске.
func (c *FileCategory) Directory() string {
	return "categories/" + c.Slug
}
