// Package store provides a simple, goroutine safe key-value interface to the
// places bags are fetched from and delivered to. Instead of values being an
// opaque array of bytes, they are a stream. This approach allows large
// objects to be moved without holding them in memory.
//
// Keys are slash-separated object paths, relative to whatever root the store
// was created with (a directory, a bucket, a bucket and prefix).
package store

import (
	"context"
	"errors"
	"io"
)

// Store defines the basic stream based key-value store. Writing to a key
// which already exists replaces the previous contents. The new contents
// appear under the key only after the writer returned by Create has been
// closed without error.
//
// The context passed to Create governs the entire upload, including any
// transfer that happens inside Close.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Create(ctx context.Context, key string) (io.WriteCloser, error)
}

// ErrNotExist means the given key is not in the store.
var ErrNotExist = errors.New("key does not exist")
