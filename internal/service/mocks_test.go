package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/validation"
	"github.com/bigkaa/goartstore/file-manager/internal/repository/memory"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/disk"
	"github.com/bigkaa/goartstore/file-manager/internal/storage/thumbnail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }

// --- Диск с внедряемыми ошибками ---

var errInjected = errors.New("внедрённая ошибка носителя")

// faultyDisk оборачивает disk.Disk и возвращает ошибки по флагам.
type faultyDisk struct {
	disk.Disk
	mu        sync.Mutex
	failPut   bool
	failGet   bool
	failDel   bool
	putCalled int
}

func (d *faultyDisk) setFaults(put, get, del bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPut, d.failGet, d.failDel = put, get, del
}

func (d *faultyDisk) Put(ctx context.Context, p string, r io.Reader, size int64, ct string) error {
	d.mu.Lock()
	d.putCalled++
	fail := d.failPut
	d.mu.Unlock()
	if fail {
		return &disk.IOError{Op: "put", Path: p, Err: errInjected}
	}
	return d.Disk.Put(ctx, p, r, size, ct)
}

func (d *faultyDisk) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	d.mu.Lock()
	fail := d.failGet
	d.mu.Unlock()
	if fail {
		return nil, &disk.IOError{Op: "get", Path: p, Err: errInjected}
	}
	return d.Disk.Get(ctx, p)
}

func (d *faultyDisk) Delete(ctx context.Context, p string) error {
	d.mu.Lock()
	fail := d.failDel
	d.mu.Unlock()
	if fail {
		return &disk.IOError{Op: "delete", Path: p, Err: errInjected}
	}
	return d.Disk.Delete(ctx, p)
}

// --- Стенд ---

type fixture struct {
	files      *memory.FileRepo
	usage      *memory.UsageRepo
	shares     *memory.ShareRepo
	versions   *memory.VersionRepo
	categories *memory.CategoryRepo
	disk       *faultyDisk
	disks      *disk.Manager
	quota      *QuotaService
	thumbs     *ThumbnailService
	cache      *CacheService
	svc        *FileService
	shareSvc   *ShareService
}

type fixtureOptions struct {
	userQuota   int64
	deptQuota   int64
	policy      validation.Policy
	versionKeep int
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := testLogger()

	local, err := disk.NewLocal(t.TempDir(), "https://files.example.com/storage")
	if err != nil {
		t.Fatalf("ошибка создания локального диска: %v", err)
	}
	fd := &faultyDisk{Disk: local}
	disks, err := disk.NewManager(map[string]disk.Disk{"local": fd}, "local", logger)
	if err != nil {
		t.Fatalf("ошибка создания Manager: %v", err)
	}

	fx := &fixture{
		files:      memory.NewFileRepo(),
		shares:     memory.NewShareRepo(),
		versions:   memory.NewVersionRepo(),
		categories: memory.NewCategoryRepo(),
		disk:       fd,
		disks:      disks,
		cache:      NewCacheService(100, time.Minute),
	}
	fx.usage = memory.NewUsageRepo(fx.files)
	fx.quota = NewQuotaService(fx.usage, opts.userQuota, opts.deptQuota, logger)
	fx.thumbs = NewThumbnailService(fx.files, disks, ThumbnailConfig{
		Enabled: true,
		Disk:    "local",
		MIME:    []string{"image/jpeg", "image/png", "image/gif"},
		Options: thumbnail.Options{MaxWidth: 32, MaxHeight: 32, Quality: 80},
	}, logger)
	fx.svc = NewFileService(FileServiceDeps{
		Files:      fx.files,
		Versions:   fx.versions,
		Categories: fx.categories,
		Disks:      disks,
		Quota:      fx.quota,
		Cache:      fx.cache,
		Thumbnails: fx.thumbs,
		Dispatcher: NewSyncDispatcher(fx.thumbs),
	}, FileServiceConfig{
		Policy:      opts.policy,
		UploadDir:   "uploads",
		VersionKeep: opts.versionKeep,
		TempURLTTL:  time.Hour,
	}, logger)
	fx.shareSvc = NewShareService(fx.shares, fx.svc, "https://files.example.com/", logger)
	return fx
}
