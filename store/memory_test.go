package store

import (
	"context"
	"testing"
)

func TestMemoryRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, _, err := s.Open(ctx, "zilch")
	if err != ErrNotExist {
		t.Errorf("Open of missing key returned %v", err)
	}

	add(t, s, "abc", "text 1")
	add(t, s, "zed", "text 2")
	if text := getbody(t, s, "abc"); text != "text 1" {
		t.Errorf("read back %q", text)
	}

	// replace
	add(t, s, "abc", "text 3")
	if text := getbody(t, s, "abc"); text != "text 3" {
		t.Errorf("read back %q", text)
	}

	keys := s.Keys()
	if len(keys) != 2 || keys[0] != "abc" || keys[1] != "zed" {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestMemoryNotVisibleUntilClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	w, err := s.Create(ctx, "pending")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))
	if _, _, err := s.Open(ctx, "pending"); err != ErrNotExist {
		t.Errorf("key visible before Close, Open returned %v", err)
	}
	w.Close()
	if text := getbody(t, s, "pending"); text != "partial" {
		t.Errorf("read back %q", text)
	}
}
