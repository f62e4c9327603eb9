package bagit

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MITLibraries/archival-packaging-tool/digest"
)

// A Reader provides access to a bag serialized as a zip archive. The
// manifests and tag files are parsed when the reader is created; no
// checksums are computed until Verify is called.
//
// Closing a reader does not close the underlying ReaderAt.
type Reader struct {
	z       *zip.Reader
	prefix  string // directory wrapping the bag inside the archive, if any
	entries map[string]digest.Set
	tags    TagList
}

// ErrNotFound means a stream inside a zip file with the given name
// could not be found.
var ErrNotFound = errors.New("stream not found")

// NewReader creates a bag reader which wraps r. It expects a ZIP
// datastream, and uses size to locate the zip manifest block, which is
// at the end. Bags serialized with their files at the archive root and
// bags wrapped in a single directory are both understood.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	z, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	result := &Reader{
		z:       z,
		prefix:  bagPrefix(z),
		entries: make(map[string]digest.Set),
	}
	if err := result.loadManifests(); err != nil {
		return nil, err
	}
	if err := result.loadTagFile("bag-info.txt"); err != nil && err != ErrNotFound {
		return nil, err
	}
	return result, nil
}

// bagPrefix figures out the directory name, if any, the bag was
// serialized under inside the archive. The bags we write put their
// files at the archive root, but some tools wrap the bag in a single
// directory named after it.
func bagPrefix(z *zip.Reader) string {
	if len(z.File) == 0 {
		return ""
	}
	for _, f := range z.File {
		if !strings.Contains(f.Name, "/") {
			return ""
		}
	}
	first := z.File[0].Name
	prefix := first[:strings.Index(first, "/")+1]
	for _, f := range z.File {
		if !strings.HasPrefix(f.Name, prefix) {
			return ""
		}
	}
	return prefix
}

// Tags returns the metadata from the bag's bag-info.txt, in file order.
func (r *Reader) Tags() TagList {
	return r.tags
}

// Entries returns the digest of every file recorded in the bag's
// manifest and tag manifest files, keyed by bag-relative path.
func (r *Reader) Entries() map[string]digest.Set {
	return r.entries
}

// Algorithms returns the algorithms the bag carries manifests for,
// sorted.
func (r *Reader) Algorithms() []digest.Algorithm {
	seen := make(map[digest.Algorithm]bool)
	for _, f := range r.z.File {
		if alg, _, ok := parseManifestName(strings.TrimPrefix(f.Name, r.prefix)); ok {
			seen[alg] = true
		}
	}
	algs := make([]digest.Algorithm, 0, len(seen))
	for alg := range seen {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}

// Open returns a reader for the payload file having the given name.
// The name is relative to the payload directory, so a file recorded in
// the manifests as "data/x/y" is opened as Open("x/y").
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	return r.open("data/" + name)
}

// open will open any file inside the bag, not necessarily one inside
// the data directory.
func (r *Reader) open(name string) (io.ReadCloser, error) {
	xname := r.prefix + name
	for _, f := range r.z.File {
		if f.Name == xname {
			return f.Open()
		}
	}
	return nil, ErrNotFound
}

// Verify computes the checksum of every file listed in the bag's
// manifests and compares it against the recorded value. It returns a
// list of problems found, which is empty when the bag is intact.
func (r *Reader) Verify() []string {
	var problems []string
	if _, err := r.open("bagit.txt"); err == ErrNotFound {
		problems = append(problems, "bag declaration bagit.txt is missing")
	}

	paths := make([]string, 0, len(r.entries))
	for path := range r.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		sums := r.entries[path]
		algs := make([]digest.Algorithm, 0, len(sums))
		for alg := range sums {
			algs = append(algs, alg)
		}
		sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })

		rc, err := r.open(path)
		if err == ErrNotFound {
			problems = append(problems, fmt.Sprintf("%s is in a manifest but not in the bag", path))
			continue
		} else if err != nil {
			problems = append(problems, fmt.Sprintf("%s cannot be opened: %s", path, err))
			continue
		}
		computed, _, err := digest.Sum(rc, algs)
		rc.Close()
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s cannot be read: %s", path, err))
			continue
		}
		for _, alg := range algs {
			if !strings.EqualFold(computed[alg], sums[alg]) {
				problems = append(problems, fmt.Sprintf("%s: %s is %s, manifest lists %s",
					path, alg, computed[alg], sums[alg]))
			}
		}
	}

	// every payload file needs to be listed in a manifest
	for _, f := range r.z.File {
		name := strings.TrimPrefix(f.Name, r.prefix)
		if !strings.HasPrefix(name, "data/") || strings.HasSuffix(name, "/") {
			continue
		}
		if _, ok := r.entries[name]; !ok {
			problems = append(problems, fmt.Sprintf("%s is in the bag but not in any manifest", name))
		}
	}
	return problems
}

// loadManifests reads every manifest and tag manifest file in the
// archive and merges their lines into the entry table.
func (r *Reader) loadManifests() error {
	for _, f := range r.z.File {
		name := strings.TrimPrefix(f.Name, r.prefix)
		alg, _, ok := parseManifestName(name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = r.readManifest(rc, alg, name)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readManifest(rc io.Reader, alg digest.Algorithm, name string) error {
	scanner := bufio.NewScanner(rc)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		hexdigest, path, ok := parseManifestLine(line)
		if !ok {
			return fmt.Errorf("%s line %d is malformed", name, lineno)
		}
		sums := r.entries[path]
		if sums == nil {
			sums = make(digest.Set)
			r.entries[path] = sums
		}
		sums[alg] = hexdigest
	}
	return scanner.Err()
}

// loadTagFile parses a tag file in the label-colon-value format of the
// BagIt spec. A line beginning with white space continues the value of
// the previous tag.
func (r *Reader) loadTagFile(name string) error {
	rc, err := r.open(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(r.tags); n > 0 {
				r.tags[n-1].Value += " " + strings.TrimSpace(line)
			}
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		r.tags = append(r.tags, Tag{
			Name:  strings.TrimSpace(line[:i]),
			Value: strings.TrimSpace(line[i+1:]),
		})
	}
	return scanner.Err()
}
