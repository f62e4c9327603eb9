package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileSystem implements the simple file system based store. Keys are
// slash-separated paths relative to the root, and parent directories are
// created as needed. A root of "" uses keys as paths directly, which lets a
// single FileSystem serve absolute paths.
type FileSystem struct {
	root string
}

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.filename(key))
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotExist
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer to save data under the given key. The data is
// first written to a temporary file in the target directory, and then moved
// into place when the writer is closed. This way a crash mid-write never
// leaves a truncated object under the key.
func (s *FileSystem) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	target := s.filename(key)
	err := os.MkdirAll(filepath.Dir(target), 0775)
	if err != nil {
		return nil, err
	}
	w, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return nil, err
	}
	return &moveCloser{w, w.Name(), target}, nil
}

func (s *FileSystem) filename(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	return os.Rename(w.source, w.target)
}
