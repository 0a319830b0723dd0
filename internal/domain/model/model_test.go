package model

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

// TestFileShare_MaxDownloads проверяет, что лимит 5 допускает ровно 5 скачиваний.
func TestFileShare_MaxDownloads(t *testing.T) {
	now := time.Now()
	s := &FileShare{MaxDownloads: intPtr(5)}

	for i := 1; i <= 5; i++ {
		if !s.IsValid(now) {
			t.Fatalf("ссылка должна быть действительна перед скачиванием %d", i)
		}
		s.DownloadCount++
	}

	if s.IsValid(now) {
		t.Error("ссылка должна стать недействительной после 5 скачиваний")
	}
	if rem, limited := s.RemainingDownloads(); !limited || rem != 0 {
		t.Errorf("RemainingDownloads() = %d, %v; ожидается 0, true", rem, limited)
	}
}

// TestFileShare_Expired проверяет, что истёкшая ссылка недействительна даже без скачиваний.
func TestFileShare_Expired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	s := &FileShare{ExpiresAt: &past, MaxDownloads: intPtr(10)}

	if s.IsValid(now) {
		t.Error("истёкшая ссылка не должна быть действительной")
	}
	if !s.IsExpired(now) {
		t.Error("IsExpired() должен вернуть true")
	}
}

func TestFileShare_ExpiryBoundary(t *testing.T) {
	now := time.Now()
	s := &FileShare{ExpiresAt: &now}
	if s.IsValid(now) {
		t.Error("ссылка с expires_at == now уже недействительна")
	}

	future := now.Add(time.Second)
	s.ExpiresAt = &future
	if !s.IsValid(now) {
		t.Error("ссылка с expires_at в будущем действительна")
	}
}

func TestFileShare_Unbounded(t *testing.T) {
	s := &FileShare{DownloadCount: 1_000_000}
	if !s.IsValid(time.Now()) {
		t.Error("ссылка без срока и лимита всегда действительна")
	}
	if _, limited := s.RemainingDownloads(); limited {
		t.Error("RemainingDownloads() не должен сообщать о лимите")
	}
}

func TestParsePermissions(t *testing.T) {
	perms, err := ParsePermissions(nil)
	if err != nil || len(perms) != 1 || perms[0] != PermissionView {
		t.Errorf("ParsePermissions(nil) = %v, %v; ожидается [view]", perms, err)
	}

	perms, err = ParsePermissions([]string{"download", "view", "download"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(perms) != 2 {
		t.Errorf("дубликаты должны быть удалены: %v", perms)
	}

	if _, err := ParsePermissions([]string{"delete"}); err == nil {
		t.Error("ожидалась ошибка для неизвестного разрешения")
	}
}

// TestCanAccept проверяет правило квоты на сетке значений.
func TestCanAccept(t *testing.T) {
	const mb = int64(1 << 20)

	for _, limit := range []int64{0, 1, 10 * mb, 12 * mb} {
		for _, used := range []int64{0, 1, 9 * mb, 11 * mb} {
			for _, size := range []int64{0, 1, 2 * mb} {
				want := limit == 0 || used+size <= limit
				if got := CanAccept(used, limit, size); got != want {
					t.Errorf("CanAccept(%d, %d, %d) = %v, ожидается %v", used, limit, size, got, want)
				}
			}
		}
	}

	if CanAccept(9*mb, 10*mb, 2*mb) {
		t.Error("9 МБ + 2 МБ не помещаются в 10 МБ")
	}
	if !CanAccept(9*mb, 12*mb, 2*mb) {
		t.Error("9 МБ + 2 МБ помещаются в 12 МБ")
	}
}

func TestStorageUsage_Percent(t *testing.T) {
	u := &StorageUsage{UsedSpace: 80, QuotaLimit: 100}
	if u.Percent() != 80 {
		t.Errorf("Percent() = %v, ожидается 80", u.Percent())
	}
	if !u.NearLimit() {
		t.Error("80% — порог «близко к лимиту»")
	}
	if u.Available() != 20 {
		t.Errorf("Available() = %d, ожидается 20", u.Available())
	}

	u = &StorageUsage{UsedSpace: 1 << 40}
	if u.Percent() != 0 || u.NearLimit() || u.Available() != -1 {
		t.Error("без лимита процент не считается")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseFileStatus("archived"); err != nil {
		t.Errorf("archived: %v", err)
	}
	if _, err := ParseFileStatus("purged"); err == nil {
		t.Error("ожидалась ошибка для неизвестного статуса")
	}

	v, err := ParseVisibility("")
	if err != nil || v != VisibilityPrivate {
		t.Errorf("ParseVisibility(\"\") = %q, %v", v, err)
	}
	if _, err := ParseVisibility("secret"); err == nil {
		t.Error("ожидалась ошибка для неизвестной видимости")
	}

	if _, err := NewEntityRef("invoice", 7); err != nil {
		t.Errorf("invoice:7: %v", err)
	}
	if _, err := NewEntityRef("invoice", 0); err == nil {
		t.Error("ожидалась ошибка для нулевого id")
	}
	if _, err := NewEntityRef("App\\Models\\User", 1); err == nil {
		t.Error("ожидалась ошибка для неизвестного вида")
	}
}

func TestStoredFile_Helpers(t *testing.T) {
	parent := int64(3)
	dept := int64(9)
	f := &StoredFile{
		ID: 10, OriginalName: "Report.PDF", Path: "uploads/report_1.pdf",
		MimeType: "application/pdf", ParentID: &parent, OwnerID: 5, DepartmentID: &dept,
	}

	if f.Extension() != "pdf" {
		t.Errorf("Extension() = %q", f.Extension())
	}
	if f.Dir() != "uploads" {
		t.Errorf("Dir() = %q", f.Dir())
	}
	if !f.IsVersion() || f.RootID() != 3 {
		t.Error("файл с parent — версия с корнем 3")
	}
	if f.IsImage() {
		t.Error("pdf — не изображение")
	}
	if d, ok := f.Department(); !ok || d.Kind != OwnerDepartment || d.ID != 9 {
		t.Errorf("Department() = %v, %v", d, ok)
	}
}
