package model

import (
	"time"

	"github.com/google/uuid"
)

// FileVersion — неизменяемый снимок предыдущей ревизии файла.
type FileVersion struct {
	ID int64
	// FileID — запись StoredFile, с которой снят снимок
	FileID    int64
	LineageID uuid.UUID
	Version   int
	Name      string
	Path      string
	Disk      string
	Size      int64
	Checksum  string
	// ChangeDescription — описание изменений новой версии
	ChangeDescription *string
	CreatedBy         int64
	CreatedAt         time.Time
}

// SnapshotOf строит снимок текущего состояния файла.
func SnapshotOf(f *StoredFile, change *string, createdBy int64) *FileVersion {
	return &FileVersion{
		FileID:            f.ID,
		LineageID:         f.LineageID,
		Version:           f.Version,
		Name:              f.Name,
		Path:              f.Path,
		Disk:              f.Disk,
		Size:              f.Size,
		Checksum:          f.Checksum,
		ChangeDescription: change,
		CreatedBy:         createdBy,
	}
}
