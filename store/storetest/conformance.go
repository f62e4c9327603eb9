package storetest

import (
	"context"
	"io"
	"testing"

	"github.com/MITLibraries/archival-packaging-tool/store"
)

// Conformance runs a store through the contract every store shares: created
// content reads back with the right size, a second create replaces the
// previous contents, keys may name nested paths, and missing keys report
// ErrNotExist.
func Conformance(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, _, err := s.Open(ctx, "storetest-missing")
	if err != store.ErrNotExist {
		t.Errorf("Open(missing) returned %v, expected ErrNotExist", err)
	}

	write(t, s, "storetest-first", "hello")
	read(t, s, "storetest-first", "hello")

	// replace
	write(t, s, "storetest-first", "second version")
	read(t, s, "storetest-first", "second version")

	// nested keys
	write(t, s, "storetest-dir/a/b/object", "nested")
	read(t, s, "storetest-dir/a/b/object", "nested")

	// empty object
	write(t, s, "storetest-empty", "")
	read(t, s, "storetest-empty", "")
}

func write(t *testing.T, s store.Store, key, content string) {
	t.Helper()
	w, err := s.Create(context.Background(), key)
	if err != nil {
		t.Fatalf("Create(%s): %s", key, err)
	}
	_, err = w.Write([]byte(content))
	if err != nil {
		t.Fatalf("Write(%s): %s", key, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s): %s", key, err)
	}
}

func read(t *testing.T, s store.Store, key, expected string) {
	t.Helper()
	rc, size, err := s.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%s): %s", key, err)
	}
	defer rc.Close()
	if size != int64(len(expected)) {
		t.Errorf("Open(%s) returned size %d, expected %d", key, size, len(expected))
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading %s: %s", key, err)
	}
	if string(data) != expected {
		t.Errorf("%s holds %q, expected %q", key, data, expected)
	}
}
