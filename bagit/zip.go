package bagit

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Zip serializes the bag rooted at dir into a zip archive written to w.
// Entry names are relative to dir, so the declaration file sits at the
// root of the archive and the payload under "data/". Files are walked
// in lexical order, making the member order reproducible. When compress
// is false the entries are stored without compression. A missing or
// empty directory is an error.
func Zip(fs afero.Fs, dir string, w io.Writer, compress bool) error {
	method := zip.Store
	if compress {
		method = zip.Deflate
	}
	z := zip.NewWriter(w)
	nfiles := 0
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		nfiles++
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		header := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   method,
			Modified: info.ModTime(),
		}
		out, err := z.CreateHeader(header)
		if err != nil {
			return err
		}
		in, err := fs.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		return err
	})
	if err == nil && nfiles == 0 {
		err = errors.New("directory is empty")
	}
	if err != nil {
		z.Close()
		return PackageError{Path: dir, Err: err}
	}
	if err := z.Close(); err != nil {
		return PackageError{Path: dir, Err: err}
	}
	return nil
}
