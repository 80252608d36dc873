package tasks

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/agentctl/agentctl/internal/apperr"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGet(t *testing.T) {
	db := openTestDB(t)

	task, err := db.Create("/tmp/project", "fix the bug", []string{"/tmp/a.png", "/tmp/b.png"}, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected a generated id")
	}

	got, err := db.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Body != "fix the bug" {
		t.Errorf("Body = %q, want %q", got.Body, "fix the bug")
	}
	if len(got.Images) != 2 {
		t.Fatalf("len(Images) = %d, want 2", len(got.Images))
	}
	if got.Images[0].SourcePath != "/tmp/a.png" || got.Images[1].SourcePath != "/tmp/b.png" {
		t.Errorf("images out of order: %+v", got.Images)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get("does-not-exist")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListFiltersByProject(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.Create("/tmp/proj-a", "task a", nil, 1000); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := db.Create("/tmp/proj-b", "task b", nil, 2000); err != nil {
		t.Fatalf("Create: %v", err)
	}

	listA, err := db.List("/tmp/proj-a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listA) != 1 || listA[0].Body != "task a" {
		t.Fatalf("List(proj-a) = %+v", listA)
	}

	all, err := db.List("")
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}
}

func TestDeleteCascadesImages(t *testing.T) {
	db := openTestDB(t)

	task, err := db.Create("/tmp/project", "body", []string{"/tmp/a.png"}, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := db.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	_, err = db.Get(task.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)

	err := db.Delete("does-not-exist")
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
