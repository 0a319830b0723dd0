package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

func TestThumbnailPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"uploads/photo_20260101000000_abcd1234.png", "uploads/thumbnails/photo_20260101000000_abcd1234_thumb.jpg"},
		{"a/b/c.jpeg", "a/b/thumbnails/c_thumb.jpg"},
		{"root.gif", "thumbnails/root_thumb.jpg"},
	}
	for _, tt := range tests {
		if got := ThumbnailPath(tt.in); got != tt.want {
			t.Errorf("ThumbnailPath(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
		if !isThumbnailPath(ThumbnailPath(tt.in)) {
			t.Errorf("isThumbnailPath(%q) = false", ThumbnailPath(tt.in))
		}
	}
	if isThumbnailPath("uploads/photo.jpg") {
		t.Error("обычный файл принят за миниатюру")
	}
}

func TestThumbnailService_Eligible(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	tests := []struct {
		mime   string
		status model.FileStatus
		want   bool
	}{
		{"image/png", model.StatusActive, true},
		{"image/jpeg", model.StatusArchived, true},
		{"image/svg+xml", model.StatusActive, false},
		{"application/pdf", model.StatusActive, false},
		{"image/png", model.StatusDeleted, false},
	}
	for _, tt := range tests {
		f := &model.StoredFile{MimeType: tt.mime, Status: tt.status}
		if got := fx.thumbs.Eligible(f); got != tt.want {
			t.Errorf("Eligible(%s, %s) = %v", tt.mime, tt.status, got)
		}
	}
}

// TestThumbnailService_Regenerate — повторное построение идемпотентно.
func TestThumbnailService_Regenerate(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f := mustUpload(t, fx, uploadReq("p.png", "image/png", pngBytes(t, 50, 50)))

	for i := 0; i < 2; i++ {
		p, ok := fx.thumbs.Regenerate(ctx, f)
		if !ok || p != ThumbnailPath(f.Path) {
			t.Fatalf("Regenerate: %s, %v", p, ok)
		}
	}
	thumbs := 0
	for _, p := range listDisk(t, fx) {
		if isThumbnailPath(p) {
			thumbs++
		}
	}
	if thumbs != 1 {
		t.Errorf("миниатюр на диске: %d", thumbs)
	}
}

// TestThumbnailService_CleanupOrphaned удаляет только миниатюры без записей.
func TestThumbnailService_CleanupOrphaned(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	kept := mustUpload(t, fx, uploadReq("p.png", "image/png", pngBytes(t, 40, 40)))

	orphan := "uploads/thumbnails/lost_thumb.jpg"
	if err := fx.disks.Put(ctx, "local", orphan, strings.NewReader("jpeg"), 4, "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	removed, err := fx.thumbs.CleanupOrphaned(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("CleanupOrphaned = %d, %v", removed, err)
	}
	if ok, _ := fx.disks.Exists(ctx, "local", orphan); ok {
		t.Error("осиротевшая миниатюра осталась")
	}
	if ok, _ := fx.disks.Exists(ctx, "local", *kept.ThumbnailPath); !ok {
		t.Error("удалена используемая миниатюра")
	}
	if ok, _ := fx.disks.Exists(ctx, "local", kept.Path); !ok {
		t.Error("удалён исходный файл")
	}
}

// TestThumbnailService_CleanupOrphanedKeepsLiveFiles — байты файла каталога,
// лежащие под thumbnails/ с суффиксом миниатюры, не считаются сиротой.
func TestThumbnailService_CleanupOrphanedKeepsLiveFiles(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f := mustUpload(t, fx, uploadReq("report.txt", "text/plain", []byte("отчёт")))

	live := "docs/thumbnails/report_thumb.jpg"
	if err := fx.disks.Put(ctx, "local", live, strings.NewReader("отчёт"), int64(len("отчёт")), "text/plain"); err != nil {
		t.Fatal(err)
	}
	stored, err := fx.files.GetByID(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored.Path = live
	if err := fx.files.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	removed, err := fx.thumbs.CleanupOrphaned(ctx)
	if err != nil || removed != 0 {
		t.Fatalf("CleanupOrphaned = %d, %v", removed, err)
	}
	if ok, _ := fx.disks.Exists(ctx, "local", live); !ok {
		t.Error("удалены байты живого файла")
	}

	// После удаления записи тот же путь уже сирота
	if err := fx.files.SoftDelete(ctx, f.ID, testActor.UserID); err != nil {
		t.Fatal(err)
	}
	removed, err = fx.thumbs.CleanupOrphaned(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("CleanupOrphaned после удаления = %d, %v", removed, err)
	}
}

// TestThumbnailPath_SurvivesStaleUpdate — запись каталога, прочитанная
// до построения миниатюры, не затирает путь миниатюры при сохранении.
func TestThumbnailPath_SurvivesStaleUpdate(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f := mustUpload(t, fx, uploadReq("p.png", "image/png", pngBytes(t, 40, 40)))
	if f.ThumbnailPath == nil {
		t.Fatal("миниатюра не построена")
	}

	stale := *f
	stale.ThumbnailPath = nil
	desc := "обновлено"
	stale.Description = &desc
	if err := fx.files.Update(ctx, &stale); err != nil {
		t.Fatal(err)
	}
	stored, _ := fx.files.GetByID(ctx, f.ID)
	if stored.ThumbnailPath == nil || *stored.ThumbnailPath != *f.ThumbnailPath {
		t.Fatalf("ThumbnailPath = %v", stored.ThumbnailPath)
	}
	if stored.Description == nil || *stored.Description != desc {
		t.Error("описание не сохранено")
	}

	if _, err := fx.svc.Archive(ctx, f.ID, testActor); err != nil {
		t.Fatal(err)
	}
	if removed, err := fx.thumbs.CleanupOrphaned(ctx); err != nil || removed != 0 {
		t.Fatalf("CleanupOrphaned = %d, %v", removed, err)
	}
	if ok, _ := fx.disks.Exists(ctx, "local", *f.ThumbnailPath); !ok {
		t.Error("миниатюра удалена")
	}
}

// TestMove_ResetsThumbnail — после перемещения миниатюра строится заново
// по новому пути, старая удаляется.
func TestMove_ResetsThumbnail(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f := mustUpload(t, fx, uploadReq("p.png", "image/png", pngBytes(t, 40, 40)))
	old := *f.ThumbnailPath

	moved, err := fx.svc.Move(ctx, f.ID, "gallery/p.png", testActor)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := fx.disks.Exists(ctx, "local", old); ok {
		t.Error("старая миниатюра осталась")
	}
	stored, _ := fx.files.GetByID(ctx, moved.ID)
	if stored.ThumbnailPath != nil && *stored.ThumbnailPath == old {
		t.Errorf("ThumbnailPath указывает на старый путь: %s", old)
	}
}

func TestInThumbnailNamespace(t *testing.T) {
	tests := map[string]bool{
		"thumbnails/a_thumb.jpg":    true,
		"docs/thumbnails/a.txt":     true,
		"docs/thumbnails":           true,
		"docs/thumbnails_old/a.txt": false,
		"docs/mythumbnails/a.txt":   false,
		"a_thumb.jpg":               false,
	}
	for p, want := range tests {
		if got := InThumbnailNamespace(p); got != want {
			t.Errorf("InThumbnailNamespace(%q) = %v, ожидалось %v", p, got, want)
		}
	}
}

// TestLocalDispatcher — задания выполняются воркерами пула.
func TestLocalDispatcher(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	fx.svc.dispatcher = nil
	f := mustUpload(t, fx, uploadReq("p.png", "image/png", pngBytes(t, 30, 30)))
	if f.ThumbnailPath != nil {
		t.Fatal("миниатюра построена без диспетчера")
	}

	d := NewLocalDispatcher(fx.thumbs, 2, 4, testLogger())
	d.Start(ctx)
	d.Dispatch(ctx, f)
	d.Stop()

	stored, _ := fx.files.GetByID(ctx, f.ID)
	if stored.ThumbnailPath == nil {
		t.Error("миниатюра не построена пулом")
	}
	// после Stop повторный вызов безопасен
	d.Stop()
}

// TestLocalDispatcher_DropWhenFull — переполненная очередь не блокирует вызывающего.
func TestLocalDispatcher_DropWhenFull(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	d := NewLocalDispatcher(fx.thumbs, 1, 1, testLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(context.Background(), &model.StoredFile{ID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch заблокировался")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello-world"},
		{"Отчёт за 2026 год", "otchet-za-2026-god"},
		{"  --Multiple   spaces--  ", "multiple-spaces"},
		{"Объявление", "obyavlenie"},
		{"файл.tar.gz", "fayl-tar-gz"},
		{"!!!", ""},
		{strings.Repeat("a", 100), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestStorageName(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

	tests := []struct {
		dir, name, want string
	}{
		{"uploads", "Report.PDF", "uploads/report_20260102030405_0f8fad5b.pdf"},
		{"", "../../etc/passwd", "etc-passwd_20260102030405_0f8fad5b"},
		{"categories/docs", "без имени", "categories/docs/bez-imeni_20260102030405_0f8fad5b"},
		{"uploads", ".hidden", "uploads/file_20260102030405_0f8fad5b.hidden"},
		{"uploads", "evil.ph p", "uploads/evil_20260102030405_0f8fad5b"},
	}
	for _, tt := range tests {
		if got := StorageName(tt.dir, tt.name, now, id); got != tt.want {
			t.Errorf("StorageName(%q, %q) = %q, ожидалось %q", tt.dir, tt.name, got, tt.want)
		}
	}
}
