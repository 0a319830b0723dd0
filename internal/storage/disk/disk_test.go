package disk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/minio/minio-go/v7"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) (*Manager, *LocalDisk) {
	t.Helper()
	local, err := NewLocal(t.TempDir(), "https://files.example.com/")
	if err != nil {
		t.Fatalf("ошибка создания локального диска: %v", err)
	}
	m, err := NewManager(map[string]Disk{"local": local}, "local", testLogger())
	if err != nil {
		t.Fatalf("ошибка создания Manager: %v", err)
	}
	return m, local
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	return data
}

// TestManager_PutGetRoundTrip проверяет побайтовое совпадение записанного и прочитанного.
func TestManager_PutGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	content := []byte("Тестовые данные для проверки round-trip")

	if err := m.Put(ctx, "", "uploads/a.txt", bytes.NewReader(content), int64(len(content)), "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := m.Get(ctx, "local", "uploads/a.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := readAll(t, rc); !bytes.Equal(got, content) {
		t.Errorf("содержимое не совпадает: %q", got)
	}
}

func TestManager_ExistsDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	ok, err := m.Exists(ctx, "", "missing.txt")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}

	_ = m.Put(ctx, "", "x.bin", strings.NewReader("x"), 1, "")
	ok, _ = m.Exists(ctx, "", "x.bin")
	if !ok {
		t.Fatal("объект должен существовать после Put")
	}

	if err := m.Delete(ctx, "", "x.bin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, _ = m.Exists(ctx, "", "x.bin")
	if ok {
		t.Error("объект не должен существовать после Delete")
	}

	err = m.Delete(ctx, "", "x.bin")
	if !IsNotExist(err) {
		t.Errorf("повторный Delete должен вернуть ErrNotExist, получено %v", err)
	}
	if !errors.Is(err, ErrStorageIO) {
		t.Error("ошибка носителя должна сопоставляться с ErrStorageIO")
	}
}

func TestManager_GetMissingIsIOError(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), "", "nope/file.txt")
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("ожидалась *IOError, получено %T", err)
	}
	if ioErr.Op != "get" || ioErr.Disk != "local" || ioErr.Path != "nope/file.txt" {
		t.Errorf("IOError = %+v", ioErr)
	}
	if !IsNotExist(err) {
		t.Error("IsNotExist должен вернуть true")
	}
}

func TestManager_UnknownDisk(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Put(context.Background(), "archive", "a.txt", strings.NewReader("a"), 1, "")
	if !errors.Is(err, ErrUnknownDisk) || !errors.Is(err, ErrStorageIO) {
		t.Errorf("ожидалась ErrUnknownDisk внутри IOError, получено %v", err)
	}

	if _, err := NewManager(map[string]Disk{}, "local", testLogger()); !errors.Is(err, ErrUnknownDisk) {
		t.Errorf("NewManager без диска по умолчанию: %v", err)
	}
}

func TestManager_RejectsTraversal(t *testing.T) {
	m, local := newTestManager(t)

	err := m.Put(context.Background(), "", "../outside.txt", strings.NewReader("x"), 1, "")
	if !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("ожидалась ErrInvalidPath, получено %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(local.Root()), "outside.txt")); statErr == nil {
		t.Error("файл не должен быть создан вне корня диска")
	}
}

func TestManager_MoveCopy(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	_ = m.Put(ctx, "", "a/src.txt", strings.NewReader("data"), 4, "")

	if err := m.Copy(ctx, "", "a/src.txt", "b/copy.txt"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := m.Move(ctx, "", "a/src.txt", "c/moved.txt"); err != nil {
		t.Fatalf("Move: %v", err)
	}

	if ok, _ := m.Exists(ctx, "", "a/src.txt"); ok {
		t.Error("источник должен исчезнуть после Move")
	}
	for _, p := range []string{"b/copy.txt", "c/moved.txt"} {
		rc, err := m.Get(ctx, "", p)
		if err != nil {
			t.Fatalf("Get(%s): %v", p, err)
		}
		if got := string(readAll(t, rc)); got != "data" {
			t.Errorf("%s = %q", p, got)
		}
	}

	if err := m.Move(ctx, "", "a/src.txt", "d/x.txt"); !IsNotExist(err) {
		t.Errorf("Move отсутствующего объекта: %v", err)
	}
}

func TestManager_URLs(t *testing.T) {
	m, _ := newTestManager(t)

	u, err := m.URL("", "uploads/a.txt")
	if err != nil || u != "https://files.example.com/uploads/a.txt" {
		t.Errorf("URL() = %q, %v", u, err)
	}

	tmp, err := m.TemporaryURL(context.Background(), "", "uploads/a.txt", time.Minute)
	if err != nil || tmp != u {
		t.Errorf("TemporaryURL() локального диска должен совпадать с URL: %q", tmp)
	}
}

func TestLocalDisk_List(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()
	for _, p := range []string{"uploads/a.jpg", "uploads/thumbnails/a_thumb.jpg", "docs/b.pdf"} {
		_ = m.Put(ctx, "", p, strings.NewReader("x"), 1, "")
	}
	// Незавершённая запись не попадает в список
	_ = os.WriteFile(filepath.Join(local.Root(), "uploads", "c.jpg.tmp"), []byte("x"), 0o600)

	all, err := m.List(ctx, "", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Strings(all)
	want := []string{"docs/b.pdf", "uploads/a.jpg", "uploads/thumbnails/a_thumb.jpg"}
	if strings.Join(all, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, ожидается %v", all, want)
	}

	uploads, _ := m.List(ctx, "", "uploads/")
	if len(uploads) != 2 {
		t.Errorf("List(uploads/) = %v", uploads)
	}
}

func TestLocalDisk_PutCancelled(t *testing.T) {
	local, _ := NewLocal(t.TempDir(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := local.Put(ctx, "a.txt", strings.NewReader("data"), 4, ""); err == nil {
		t.Fatal("ожидалась ошибка при отменённом контексте")
	}
	if ok, _ := local.Exists(context.Background(), "a.txt"); ok {
		t.Error("объект не должен появиться после отмены")
	}
	if local.URL("a.txt") != "/a.txt" {
		t.Errorf("URL без base_url = %q", local.URL("a.txt"))
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"uploads/a.txt", "uploads/a.txt", false},
		{"/uploads//a.txt", "uploads/a.txt", false},
		{"uploads\\a.txt", "uploads/a.txt", false},
		{"../a.txt", "", true},
		{"uploads/../../a.txt", "", true},
		{"", "", true},
		{"/", "", true},
	}
	for _, tt := range tests {
		got, err := CleanPath(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CleanPath(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRemoteErrorMapping(t *testing.T) {
	if !IsNotExist(minioErr(minio.ErrorResponse{Code: "NoSuchKey"})) {
		t.Error("MinIO NoSuchKey → ErrNotExist")
	}
	if IsNotExist(minioErr(minio.ErrorResponse{Code: "AccessDenied"})) {
		t.Error("MinIO AccessDenied не является ErrNotExist")
	}
	if minioErr(nil) != nil {
		t.Error("minioErr(nil) должен вернуть nil")
	}

	if !IsNotExist(s3Err(awserr.New("NoSuchKey", "нет ключа", nil))) {
		t.Error("S3 NoSuchKey → ErrNotExist")
	}
	if !IsNotExist(s3Err(awserr.New("NotFound", "HEAD 404", nil))) {
		t.Error("S3 NotFound → ErrNotExist")
	}
	if IsNotExist(s3Err(errors.New("timeout"))) {
		t.Error("прочие ошибки не являются ErrNotExist")
	}
}

// TestS3Disk_TemporaryURL — подпись ссылки выполняется без обращения к сети.
func TestS3Disk_TemporaryURL(t *testing.T) {
	d, err := NewS3(config.DiskConfig{
		Name: "s3", Driver: config.DriverS3, Bucket: "files", Region: "us-east-1",
		Endpoint: "http://localhost:9000", AccessKey: "key", SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}

	if got := d.URL("uploads/a.txt"); got != "http://localhost:9000/files/uploads/a.txt" {
		t.Errorf("URL() = %q", got)
	}

	u, err := d.TemporaryURL(context.Background(), "uploads/a.txt", 10*time.Minute)
	if err != nil {
		t.Fatalf("TemporaryURL: %v", err)
	}
	if !strings.Contains(u, "/files/uploads/a.txt") || !strings.Contains(u, "X-Amz-Signature=") {
		t.Errorf("TemporaryURL() = %q", u)
	}
	if !strings.Contains(u, "X-Amz-Expires=600") {
		t.Errorf("срок действия должен быть 600 секунд: %q", u)
	}
}
