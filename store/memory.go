package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// Open returns a reader for the given key and the size of its contents.
func (ms *Memory) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(v)), int64(len(v)), nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it. The entry is not visible until the writer is closed.
func (ms *Memory) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return &membuf{ms: ms, key: key}, nil
}

// Keys returns a sorted list of every key in the store.
func (ms *Memory) Keys() []string {
	ms.m.RLock()
	result := make([]string, 0, len(ms.store))
	for k := range ms.store {
		result = append(result, k)
	}
	ms.m.RUnlock()
	sort.Strings(result)
	return result
}

type membuf struct {
	ms  *Memory
	key string
	b   bytes.Buffer
}

func (w *membuf) Write(p []byte) (int, error) {
	return w.b.Write(p)
}

func (w *membuf) Close() error {
	w.ms.m.Lock()
	w.ms.store[w.key] = w.b.Bytes()
	w.ms.m.Unlock()
	return nil
}
