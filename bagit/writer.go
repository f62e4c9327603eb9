package bagit

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/spf13/afero"

	"github.com/MITLibraries/archival-packaging-tool/digest"
)

// A Builder writes the declaration, metadata, and manifest files for a
// bag whose payload is already staged under the bag root. Payload
// digests are supplied by the caller through AddPayload, so the payload
// is never read a second time. Close runs the two manifest passes: the
// payload manifests are written first, then the declaration and
// metadata files, and finally those files are digested themselves and
// recorded in the tag manifests.
type Builder struct {
	// Clock supplies the time recorded in the Bagging-Date tag.
	Clock clock.Clock

	fs      afero.Fs
	dir     string
	algs    []digest.Algorithm
	tags    TagList
	payload map[string]digest.Set
	nbytes  int64
	nfiles  int
}

// NewBuilder returns a Builder for the bag rooted at dir. The manifest
// set is generated for each given algorithm; the list must not be
// empty.
func NewBuilder(fs afero.Fs, dir string, algs []digest.Algorithm) *Builder {
	return &Builder{
		Clock:   clock.New(),
		fs:      fs,
		dir:     dir,
		algs:    algs,
		payload: make(map[string]digest.Set),
	}
}

// SetTag adds the given tag to the bag's metadata file. The builder
// will add the tags "Payload-Oxum", "Bagging-Date", "Bag-Size", and
// "Bag-Software-Agent" itself. Other useful tags are listed in the
// BagIt specification.
func (b *Builder) SetTag(name, value string) {
	b.tags.Set(name, value)
}

// SetTags adds every tag in the list, keeping its order.
func (b *Builder) SetTags(tags TagList) {
	for _, tag := range tags {
		b.tags.Set(tag.Name, tag.Value)
	}
}

// AddPayload records a payload file already staged below the bag root.
// The path is bag-relative, slash separated, and must begin with
// "data/". The digests must cover every algorithm the builder was
// created with.
func (b *Builder) AddPayload(path string, size int64, sums digest.Set) {
	b.payload[path] = sums
	b.nbytes += size
	b.nfiles++
}

// Close writes all bookkeeping files and returns the finished bag
// description. The builder is not usable afterwards.
func (b *Builder) Close() (*Bag, error) {
	entries := make(map[string]digest.Set, len(b.payload)+2+len(b.algs))
	for path, sums := range b.payload {
		entries[path] = sums
	}

	// pass one: payload manifests
	var tagfiles []string
	for _, alg := range b.algs {
		name := ManifestName(alg)
		if err := b.writeManifest(name, alg, b.payload); err != nil {
			return nil, err
		}
		tagfiles = append(tagfiles, name)
	}

	declaration := "BagIt-Version: " + Version + "\n" +
		"Tag-File-Character-Encoding: UTF-8\n"
	if err := b.writeFile("bagit.txt", declaration); err != nil {
		return nil, err
	}
	tagfiles = append(tagfiles, "bagit.txt")

	b.tags.Set("Bagging-Date", b.Clock.Now().Format("2006-01-02"))
	b.tags.Set("Payload-Oxum", fmt.Sprintf("%d.%d", b.nbytes, b.nfiles))
	b.tags.Set("Bag-Size", humansize(b.nbytes))
	b.tags.Set("Bag-Software-Agent", SoftwareAgent)
	var metadata strings.Builder
	for _, tag := range b.tags {
		fmt.Fprintf(&metadata, "%s: %s\n", tag.Name, tag.Value)
	}
	if err := b.writeFile("bag-info.txt", metadata.String()); err != nil {
		return nil, err
	}
	tagfiles = append(tagfiles, "bag-info.txt")

	// pass two: digest the tag files just written
	tagsums := make(map[string]digest.Set, len(tagfiles))
	for _, name := range tagfiles {
		sums, err := b.digestFile(name)
		if err != nil {
			return nil, err
		}
		tagsums[name] = sums
		entries[name] = sums
	}
	for _, alg := range b.algs {
		if err := b.writeManifest(TagManifestName(alg), alg, tagsums); err != nil {
			return nil, err
		}
	}

	return &Bag{
		Algorithms: b.algs,
		Entries:    entries,
		Tags:       b.tags,
	}, nil
}

// writeManifest writes one manifest file listing the given files under
// the given algorithm, sorted by path.
func (b *Builder) writeManifest(name string, alg digest.Algorithm, files map[string]digest.Set) error {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var out strings.Builder
	for _, path := range paths {
		// The 2 spaces is to be identical to the GNU md5sum output.
		// Although md5sum outputs " *" to mark binary mode, that
		// results in each file name being prefixed with an asterisk.
		fmt.Fprintf(&out, "%s  %s\n", files[path][alg], path)
	}
	return b.writeFile(name, out.String())
}

func (b *Builder) writeFile(name, content string) error {
	err := afero.WriteFile(b.fs, filepath.Join(b.dir, name), []byte(content), 0644)
	if err != nil {
		return WriteError{Path: name, Err: err}
	}
	return nil
}

func (b *Builder) digestFile(name string) (digest.Set, error) {
	f, err := b.fs.Open(filepath.Join(b.dir, name))
	if err != nil {
		return nil, WriteError{Path: name, Err: err}
	}
	sums, _, err := digest.Sum(f, b.algs)
	f.Close()
	if err != nil {
		return nil, WriteError{Path: name, Err: err}
	}
	return sums, nil
}
