// Package bagit implements enough of the BagIt specification to build,
// serialize, and verify the bags this service produces. A bag is laid
// out as a directory: payload files under "data/", a payload manifest
// per checksum algorithm, the bag declaration, a metadata file, and a
// tag manifest per algorithm covering the non-payload files. The
// directory is serialized as a zip archive whose entry names are
// relative to the bag root.
//
// Unlike most BagIt implementations, the checksum algorithm set is not
// fixed: any of the algorithms known to the digest package can be used,
// and the tags in bag-info.txt keep the order the caller supplied them
// in. Fetch files and holey bags are not implemented. Multiple
// occurrences of the same tag are not preserved.
//
// Building is split in two: payload digests are computed while the
// payload is staged (by whoever stages it), and the Builder only writes
// the declaration, metadata, and manifest files. Reading a serialized
// bag recomputes nothing until Verify is called.
//
// The BagIt spec can be found at https://tools.ietf.org/html/draft-kunze-bagit-11.
package bagit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MITLibraries/archival-packaging-tool/digest"
)

const (
	// Version is the version of the BagIt specification this package
	// implements.
	Version = "0.97"

	// SoftwareAgent is recorded in each bag's metadata file.
	SoftwareAgent = "archival-packaging-tool <https://github.com/MITLibraries/archival-packaging-tool>"
)

// A Tag is one metadata element destined for the bag's metadata file.
type Tag struct {
	Name  string
	Value string
}

// A TagList holds bag metadata in insertion order. BagIt tag files are
// ordered, so we keep whatever order the caller used and append our
// generated tags at the end.
type TagList []Tag

// Get returns the value of the named tag, or "" when absent.
func (tl TagList) Get(name string) string {
	for _, tag := range tl {
		if tag.Name == name {
			return tag.Value
		}
	}
	return ""
}

// Set replaces the value of the named tag in place, or appends the tag
// if it is not present yet.
func (tl *TagList) Set(name, value string) {
	for i, tag := range *tl {
		if tag.Name == name {
			(*tl)[i].Value = value
			return
		}
	}
	*tl = append(*tl, Tag{Name: name, Value: value})
}

// MarshalJSON writes the list as a JSON object keeping the tag order.
func (tl TagList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tag := range tl {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(tag.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(tag.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object into the list, keeping the order
// the keys appear in the document. Values must be strings.
func (tl *TagList) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("metadata must be a JSON object")
	}
	var result TagList
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		name := tok.(string) // object keys are always strings
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		value, ok := tok.(string)
		if !ok {
			// numbers, booleans, null, and nested containers all land here
			return fmt.Errorf("metadata value for %q must be a string", name)
		}
		result = append(result, Tag{Name: name, Value: value})
	}
	if _, err = dec.Token(); err != nil {
		return err
	}
	*tl = result
	return nil
}

// Bag describes a finished bag: the algorithms its manifests were
// generated with, the digests of every file its manifests record, and
// its metadata. Entries is keyed by bag-relative path and covers the
// payload, the declaration, the metadata file, and the payload
// manifests. The tag manifests themselves carry no recorded digest.
type Bag struct {
	Algorithms []digest.Algorithm    `json:"algorithms,omitempty"`
	Entries    map[string]digest.Set `json:"entries"`
	Tags       TagList               `json:"metadata,omitempty"`
}

// A WriteError records a failure assembling the bag layout.
type WriteError struct {
	Path string // the file being written
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("writing %s: %s", e.Path, e.Err)
}

func (e WriteError) Unwrap() error { return e.Err }

// A PackageError records a failure serializing a bag into an archive.
type PackageError struct {
	Path string
	Err  error
}

func (e PackageError) Error() string {
	return fmt.Sprintf("packaging %s: %s", e.Path, e.Err)
}

func (e PackageError) Unwrap() error { return e.Err }

// ManifestName returns the payload manifest filename for an algorithm,
// e.g. "manifest-sha256.txt".
func ManifestName(a digest.Algorithm) string {
	return "manifest-" + a.String() + ".txt"
}

// TagManifestName returns the tag manifest filename for an algorithm.
func TagManifestName(a digest.Algorithm) string {
	return "tagmanifest-" + a.String() + ".txt"
}

// parseManifestName reports whether name is a manifest or tag manifest
// file, and for which algorithm.
func parseManifestName(name string) (alg digest.Algorithm, istag bool, ok bool) {
	if !strings.HasSuffix(name, ".txt") {
		return 0, false, false
	}
	base := strings.TrimSuffix(name, ".txt")
	switch {
	case strings.HasPrefix(base, "tagmanifest-"):
		istag = true
		base = strings.TrimPrefix(base, "tagmanifest-")
	case strings.HasPrefix(base, "manifest-"):
		base = strings.TrimPrefix(base, "manifest-")
	default:
		return 0, false, false
	}
	alg, err := digest.Parse(base)
	if err != nil {
		return 0, false, false
	}
	return alg, istag, true
}

// parseManifestLine splits a manifest line into digest and path. The
// lines we write use two spaces between the fields, but a single run of
// whitespace is accepted for bags written by other tools.
func parseManifestLine(line string) (hexdigest, path string, ok bool) {
	line = strings.TrimRight(line, "\r")
	if i := strings.Index(line, "  "); i > 0 {
		return line[:i], line[i+2:], line[i+2:] != ""
	}
	i := strings.IndexAny(line, " \t")
	if i <= 0 {
		return "", "", false
	}
	path = strings.TrimLeft(line[i:], " \t")
	return line[:i], path, path != ""
}

// Metric constants for humansize. Lowercased so as to be unexported.
const (
	kb int64 = 1000
	mb       = 1000 * kb
	gb       = 1000 * mb
	tb       = 1000 * gb
)

func humansize(size int64) string {
	var units string
	switch {
	case size < kb:
		units = "Bytes"
	case size < mb:
		size /= kb
		units = "KB"
	case size < gb:
		size /= mb
		units = "MB"
	case size < tb:
		size /= gb
		units = "GB"
	default:
		size /= tb
		units = "TB"
	}
	return fmt.Sprintf("%d %s", size, units)
}
