package repository

import (
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

func TestBuildFileWhere_Empty(t *testing.T) {
	where, args := buildFileWhere(FileFilter{}, 1)

	if where != "" {
		t.Errorf("where = %q, ожидалась пустая строка", where)
	}
	if len(args) != 0 {
		t.Errorf("args count = %d, ожидался 0", len(args))
	}
}

// TestBuildFileWhere_DeletedStatus проверяет выборку удалённых записей.
func TestBuildFileWhere_DeletedStatus(t *testing.T) {
	status := model.StatusDeleted
	where, args := buildFileWhere(FileFilter{Status: &status}, 1)

	if where != "WHERE status = $1" {
		t.Errorf("where = %q", where)
	}
	if args[0] != model.StatusDeleted {
		t.Errorf("args[0] = %v, ожидался deleted", args[0])
	}
}

func TestBuildFileWhere_VisibilitySet(t *testing.T) {
	filter := FileFilter{Visibilities: []model.Visibility{model.VisibilityPublic, model.VisibilityInternal}}
	where, args := buildFileWhere(filter, 1)

	if where != "WHERE visibility = ANY($1)" {
		t.Errorf("where = %q", where)
	}
	values, ok := args[0].([]string)
	if !ok || len(values) != 2 || values[0] != "public" || values[1] != "internal" {
		t.Errorf("args[0] = %#v", args[0])
	}
}

func TestBuildFileWhere_MimeWildcard(t *testing.T) {
	where, args := buildFileWhere(FileFilter{MimeType: "image/*"}, 1)

	if !strings.Contains(where, "mime_type LIKE $1") {
		t.Errorf("where = %q, ожидался LIKE для шаблона", where)
	}
	if args[0] != "image/%" {
		t.Errorf("args[0] = %v, ожидался 'image/%%'", args[0])
	}

	where, args = buildFileWhere(FileFilter{MimeType: "application/pdf"}, 1)
	if !strings.Contains(where, "mime_type = $1") || args[0] != "application/pdf" {
		t.Errorf("точный MIME: where = %q, args = %v", where, args)
	}
}

func TestBuildFileWhere_Search(t *testing.T) {
	where, args := buildFileWhere(FileFilter{Search: "50%_off"}, 1)

	if !strings.Contains(where, "(name ILIKE $1 OR description ILIKE $1)") {
		t.Errorf("where = %q", where)
	}
	if args[0] != `%50\%\_off%` {
		t.Errorf("args[0] = %v, спецсимволы LIKE должны экранироваться", args[0])
	}
}

// TestBuildFileWhere_Combined проверяет нумерацию аргументов при нескольких фильтрах.
func TestBuildFileWhere_Combined(t *testing.T) {
	status := model.StatusActive
	minSize := int64(1024)
	maxSize := int64(4096)
	owner := int64(7)
	lineage := uuid.New()
	filter := FileFilter{
		Status:     &status,
		MinSize:    &minSize,
		MaxSize:    &maxSize,
		OwnerID:    &owner,
		Attachment: &model.EntityRef{Kind: model.KindProject, ID: 42},
		LineageID:  &lineage,
		Search:     "report",
	}
	where, args := buildFileWhere(filter, 3)

	for _, want := range []string{
		"status = $3",
		"size >= $4",
		"size <= $5",
		"owner_id = $6",
		"attachable_type = $7",
		"attachable_id = $8",
		"lineage_id = $9",
		"name ILIKE $10",
	} {
		if !strings.Contains(where, want) {
			t.Errorf("where = %q, ожидалось %q", where, want)
		}
	}
	if len(args) != 8 {
		t.Errorf("args count = %d, ожидалось 8", len(args))
	}
	if args[4] != "project" {
		t.Errorf("args[4] = %v, ожидался project", args[4])
	}
}

func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"abc":   "%abc%",
		`a\b`:   `%a\\b%`,
		"100%":  `%100\%%`,
		"a_b_c": `%a\_b\_c%`,
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, ожидался %q", in, got, want)
		}
	}
}
