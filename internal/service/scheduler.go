// scheduler.go — периодические задачи обслуживания (robfig/cron).
//
// Задача не запускается повторно, пока предыдущий запуск не завершён:
// пересечение пропускается с предупреждением в логе.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

// Имена задач обслуживания.
const (
	JobUsageRecalculate  = "usage-recalculate"
	JobThumbnailsCleanup = "thumbnails-cleanup"
)

// ErrJobRunning — задача уже выполняется.
var ErrJobRunning = errors.New("задача уже выполняется")

var maintenanceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fm_maintenance_runs_total",
	Help: "Запуски задач обслуживания (по задаче и результату).",
}, []string{"job", "result"})

// MaintenanceJob — задача обслуживания.
// Run возвращает количество обработанных объектов.
type MaintenanceJob struct {
	Name string
	// Schedule — cron-выражение в стандартном формате (пусто — только ручной запуск)
	Schedule string
	Run      func(ctx context.Context) (int, error)
}

// JobInfo — состояние задачи.
type JobInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule,omitempty"`
	Next     *time.Time `json:"next_run,omitempty"`
	Running  bool       `json:"running"`
}

type scheduledJob struct {
	MaintenanceJob
	entry   cron.EntryID
	running atomic.Bool
}

// Scheduler — планировщик задач обслуживания.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	baseCtx context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewScheduler создаёт планировщик.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		jobs:    make(map[string]*scheduledJob),
		baseCtx: context.Background(),
		logger:  logger.With(slog.String("component", "scheduler")),
	}
}

// Register добавляет задачу. Вызывается до Start.
func (s *Scheduler) Register(job MaintenanceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("задача %q уже зарегистрирована", job.Name)
	}
	sj := &scheduledJob{MaintenanceJob: job}
	if job.Schedule != "" {
		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("некорректное расписание задачи %q: %w", job.Name, err)
		}
		entry, err := s.cron.AddFunc(job.Schedule, func() {
			if _, err := s.run(s.baseCtx, sj); errors.Is(err, ErrJobRunning) {
				s.logger.Warn("Запуск пропущен: предыдущий ещё выполняется", slog.String("job", sj.Name))
			}
		})
		if err != nil {
			return fmt.Errorf("ошибка регистрации задачи %q: %w", job.Name, err)
		}
		sj.entry = entry
	}
	s.jobs[job.Name] = sj
	return nil
}

// Start запускает планировщик. Остановка ctx прерывает выполняющиеся задачи.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("Планировщик запущен", slog.Int("jobs", len(s.jobs)))
}

// Stop останавливает планировщик и дожидается выполняющихся задач.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Планировщик остановлен")
}

// RunNow выполняет задачу немедленно.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: задача %q", ErrNotFound, name)
	}
	return s.run(ctx, sj)
}

func (s *Scheduler) run(ctx context.Context, sj *scheduledJob) (int, error) {
	if !sj.running.CompareAndSwap(false, true) {
		maintenanceRunsTotal.WithLabelValues(sj.Name, "skipped").Inc()
		return 0, ErrJobRunning
	}
	defer sj.running.Store(false)

	start := time.Now()
	n, err := sj.Run(ctx)
	log := s.logger.With(
		slog.String("job", sj.Name),
		slog.Int("processed", n),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		maintenanceRunsTotal.WithLabelValues(sj.Name, "failed").Inc()
		log.Error("Задача завершилась с ошибкой", slog.String("error", err.Error()))
		return n, err
	}
	maintenanceRunsTotal.WithLabelValues(sj.Name, "ok").Inc()
	log.Info("Задача выполнена")
	return n, nil
}

// Jobs возвращает состояние задач по имени.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]JobInfo, 0, len(s.jobs))
	for _, sj := range s.jobs {
		info := JobInfo{Name: sj.Name, Schedule: sj.Schedule, Running: sj.running.Load()}
		if sj.entry != 0 {
			if next := s.cron.Entry(sj.entry).Next; !next.IsZero() {
				info.Next = &next
			}
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// MaintenanceJobs возвращает стандартные задачи обслуживания.
// Пустое расписание оставляет задачу только для ручного запуска.
func MaintenanceJobs(quota *QuotaService, thumbs *ThumbnailService, usageSchedule, cleanupSchedule string) []MaintenanceJob {
	return []MaintenanceJob{
		{Name: JobUsageRecalculate, Schedule: usageSchedule, Run: quota.RecalculateAll},
		{Name: JobThumbnailsCleanup, Schedule: cleanupSchedule, Run: thumbs.CleanupOrphaned},
	}
}
