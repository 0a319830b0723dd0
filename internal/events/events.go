// Пакет events — публикация событий каталога файлов и заданий
// построения миниатюр через RabbitMQ (topic exchange).
//
// Без FM_AMQP_URL публикатор и потребитель отключены: события только
// логируются, миниатюры строятся пулом воркеров внутри процесса.
package events

import (
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

// ExchangeName — topic exchange событий File Manager.
const ExchangeName = "file-manager.events"

// ThumbnailQueue — очередь заданий построения миниатюр.
const ThumbnailQueue = "file-manager.thumbnails"

// EventType — routing key события.
type EventType string

const (
	FileUploaded       EventType = "file.uploaded"
	FileUpdated        EventType = "file.updated"
	FileDeleted        EventType = "file.deleted"
	FileMoved          EventType = "file.moved"
	FileCopied         EventType = "file.copied"
	FileArchived       EventType = "file.archived"
	FileRestored       EventType = "file.restored"
	FileVersionCreated EventType = "file.version_created"
	ThumbnailRequested EventType = "thumbnail.requested"
)

// FileEvent — тело сообщения о файле.
// Путь и диск нужны потребителям внутри периметра, наружу не отдаются.
type FileEvent struct {
	Type       EventType `json:"type"`
	FileID     int64     `json:"file_id"`
	FileUUID   string    `json:"file_uuid"`
	LineageID  string    `json:"lineage_id"`
	Version    int       `json:"version"`
	OwnerID    int64     `json:"owner_id"`
	Disk       string    `json:"disk"`
	Path       string    `json:"path"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewFileEvent строит событие по текущему состоянию записи.
func NewFileEvent(t EventType, f *model.StoredFile) FileEvent {
	return FileEvent{
		Type:       t,
		FileID:     f.ID,
		FileUUID:   f.UUID.String(),
		LineageID:  f.LineageID.String(),
		Version:    f.Version,
		OwnerID:    f.OwnerID,
		Disk:       f.Disk,
		Path:       f.Path,
		MimeType:   f.MimeType,
		Size:       f.Size,
		OccurredAt: time.Now().UTC(),
	}
}
