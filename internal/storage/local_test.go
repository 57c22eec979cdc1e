package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	objectPath := "boundaries/1/level-2.snappy"
	content := []byte("hello world")
	if err := s.Put(ctx, objectPath, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := s.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := s.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if err := s.Put(ctx, objectPath, []byte("replaced")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _ = s.Get(ctx, objectPath)
	if string(got) != "replaced" {
		t.Errorf("expected overwrite, got %q", got)
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_Delete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "a/b", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ := s.Exists(ctx, "a/b")
	if exists {
		t.Error("expected object to be gone")
	}
	if err := s.Delete(ctx, "a/b"); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"boundaries/1/a", "boundaries/1/b", "boundaries/2/a", "other"} {
		if err := s.Put(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Put %s failed: %v", p, err)
		}
	}

	got, err := s.ListObjects(ctx, "boundaries/1/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(got)
	want := []string{"boundaries/1/a", "boundaries/1/b"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"", "/abs", "../up", "a/../../b"} {
		if err := s.Put(ctx, p, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q): expected ErrInvalidPath, got %v", p, err)
		}
	}
}

func TestLocalStorage_NoTempFilesLeft(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Put(ctx, "dir/obj", []byte("payload")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.BasePath(), "dir"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "obj" {
		t.Errorf("expected only the object file, got %v", entries)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Put(ctx, "x", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalStorage_Clear(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	_ = s.Put(ctx, "a/b", []byte("x"))
	_ = s.Put(ctx, "c", []byte("x"))

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, _ := s.ListObjects(ctx, "")
	if len(got) != 0 {
		t.Errorf("expected empty store, got %v", got)
	}
}

func TestBatch_GetAllAndDeletePrefix(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	var paths []string
	for i := 0; i < 10; i++ {
		p := fmt.Sprintf("boundaries/7/obj%d", i)
		paths = append(paths, p)
		if err := s.Put(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := s.Put(ctx, "boundaries/8/keep", []byte("keep")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	b := NewBatch(s, 3)
	res := b.GetAll(ctx, append(paths, "boundaries/7/missing"))
	if len(res.Data) != 10 {
		t.Errorf("expected 10 objects, got %d", len(res.Data))
	}
	if !errors.Is(res.Errors["boundaries/7/missing"], ErrObjectNotFound) {
		t.Errorf("expected not-found error for missing path, got %v", res.Errors)
	}

	n, err := b.DeletePrefix(ctx, "boundaries/7/")
	if err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 deletions, got %d", n)
	}
	left, _ := s.ListObjects(ctx, "boundaries/")
	if len(left) != 1 || left[0] != "boundaries/8/keep" {
		t.Errorf("unexpected remaining objects %v", left)
	}
}
