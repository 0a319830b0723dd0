// dispatcher.go — доставка заданий построения миниатюр после загрузки.
// Задание отправляется «выстрелил и забыл»: ошибки только логируются.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
	"github.com/bigkaa/goartstore/file-manager/internal/events"
)

// ThumbnailDispatcher ставит файл в очередь на построение миниатюры.
type ThumbnailDispatcher interface {
	Dispatch(ctx context.Context, f *model.StoredFile)
}

// SyncDispatcher строит миниатюру в вызывающей горутине.
type SyncDispatcher struct {
	thumbs *ThumbnailService
}

// NewSyncDispatcher создаёт синхронный диспетчер.
func NewSyncDispatcher(thumbs *ThumbnailService) *SyncDispatcher {
	return &SyncDispatcher{thumbs: thumbs}
}

// Dispatch строит миниатюру сразу.
func (d *SyncDispatcher) Dispatch(ctx context.Context, f *model.StoredFile) {
	d.thumbs.Generate(ctx, f)
}

// LocalDispatcher — пул воркеров внутри процесса.
type LocalDispatcher struct {
	thumbs   *ThumbnailService
	workers  int
	jobs     chan int64
	wg       sync.WaitGroup
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewLocalDispatcher создаёт пул из workers воркеров с очередью queueSize.
func NewLocalDispatcher(thumbs *ThumbnailService, workers, queueSize int, logger *slog.Logger) *LocalDispatcher {
	return &LocalDispatcher{
		thumbs:  thumbs,
		workers: max(workers, 1),
		jobs:    make(chan int64, max(queueSize, 1)),
		logger:  logger.With(slog.String("component", "thumbnail_dispatcher")),
	}
}

// Start запускает воркеры. ctx ограничивает время жизни пула,
// а не отдельного запроса.
func (d *LocalDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for id := range d.jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := d.thumbs.GenerateByID(ctx, id); err != nil {
					d.logger.Warn("Ошибка задания миниатюры",
						slog.Int64("file_id", id),
						slog.String("error", err.Error()),
					)
				}
			}
		}()
	}
	d.logger.Info("Пул построения миниатюр запущен", slog.Int("workers", d.workers))
}

// Dispatch ставит задание в очередь без блокировки.
// При переполненной очереди задание отбрасывается.
func (d *LocalDispatcher) Dispatch(_ context.Context, f *model.StoredFile) {
	select {
	case d.jobs <- f.ID:
	default:
		thumbnailsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("Очередь миниатюр переполнена, задание отброшено", slog.Int64("file_id", f.ID))
	}
}

// Stop закрывает очередь и дожидается завершения воркеров.
func (d *LocalDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
		d.wg.Wait()
		d.logger.Info("Пул построения миниатюр остановлен")
	})
}

// QueueDispatcher публикует задание thumbnail.requested в RabbitMQ.
type QueueDispatcher struct {
	publisher events.Publisher
	logger    *slog.Logger
}

// NewQueueDispatcher создаёт диспетчер через брокер.
func NewQueueDispatcher(publisher events.Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		publisher: publisher,
		logger:    logger.With(slog.String("component", "thumbnail_dispatcher")),
	}
}

// Dispatch публикует задание.
func (d *QueueDispatcher) Dispatch(ctx context.Context, f *model.StoredFile) {
	if err := d.publisher.Publish(ctx, events.NewFileEvent(events.ThumbnailRequested, f)); err != nil {
		d.logger.Warn("Задание миниатюры не опубликовано",
			slog.Int64("file_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}
