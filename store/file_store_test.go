package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileSystem(t.TempDir())

	_, _, err := s.Open(ctx, "nothing-here")
	if err != ErrNotExist {
		t.Errorf("Open of missing key returned %v", err)
	}

	add(t, s, "some/nested/path/object.zip", "first contents")
	if text := getbody(t, s, "some/nested/path/object.zip"); text != "first contents" {
		t.Errorf("read back %q", text)
	}

	// replacing is allowed
	add(t, s, "some/nested/path/object.zip", "second contents")
	if text := getbody(t, s, "some/nested/path/object.zip"); text != "second contents" {
		t.Errorf("read back %q", text)
	}
}

func TestFileSystemTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSystem(dir)
	add(t, s, "obj", "hello")

	// nothing of the temp file should remain after a successful Close
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestFileSystemNotVisibleUntilClose(t *testing.T) {
	ctx := context.Background()
	s := NewFileSystem(t.TempDir())
	w, err := s.Create(ctx, "pending")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))
	if _, _, err := s.Open(ctx, "pending"); err != ErrNotExist {
		t.Errorf("key visible before Close, Open returned %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if text := getbody(t, s, "pending"); text != "partial" {
		t.Errorf("read back %q", text)
	}
}

func TestFileSystemEmptyRoot(t *testing.T) {
	// an empty root takes keys as paths directly
	s := NewFileSystem("")
	target := filepath.ToSlash(filepath.Join(t.TempDir(), "out", "bag.zip"))
	add(t, s, target, "absolute")
	if text := getbody(t, s, target); text != "absolute" {
		t.Errorf("read back %q", text)
	}
}

func add(t *testing.T, s Store, key string, data string) {
	t.Helper()
	w, err := s.Create(context.Background(), key)
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", key, err)
	}
	_, err = w.Write([]byte(data))
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", key, err)
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", key, err)
	}
}

func getbody(t *testing.T, s Store, key string) string {
	t.Helper()
	rc, size, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Couldn't open %s, %s", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Couldn't read %s, %s", key, err)
	}
	if size != int64(len(data)) {
		t.Errorf("%s: size %d but read %d bytes", key, size, len(data))
	}
	return string(data)
}
