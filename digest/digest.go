// Package digest computes file checksums for bag manifests. It knows a
// fixed set of algorithms, and every algorithm a request names is
// resolved to an Algorithm value up front, so the rest of the pipeline
// never dispatches on strings. A single stream can be digested under
// many algorithms in one pass using a Writer.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// An Algorithm identifies one of the supported checksum algorithms.
// The zero value is not valid. Use Parse to go from a name to an
// Algorithm.
type Algorithm int

// The supported algorithms. The SHAKE functions are extendable-output
// and are fixed here at 32 and 64 byte digests.
const (
	MD5 Algorithm = iota + 1
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	BLAKE2b
	BLAKE2s
	SHA3_224
	SHA3_256
	SHA3_384
	SHA3_512
	Shake128
	Shake256
)

var algnames = map[Algorithm]string{
	MD5:      "md5",
	SHA1:     "sha1",
	SHA224:   "sha224",
	SHA256:   "sha256",
	SHA384:   "sha384",
	SHA512:   "sha512",
	BLAKE2b:  "blake2b",
	BLAKE2s:  "blake2s",
	SHA3_224: "sha3_224",
	SHA3_256: "sha3_256",
	SHA3_384: "sha3_384",
	SHA3_512: "sha3_512",
	Shake128: "shake_128",
	Shake256: "shake_256",
}

var byname = make(map[string]Algorithm)

func init() {
	for a, name := range algnames {
		byname[name] = a
	}
}

// UnsupportedAlgorithmError is returned when a request names a checksum
// algorithm we do not implement.
type UnsupportedAlgorithmError struct {
	Name string
}

func (e UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported checksum algorithm %q", e.Name)
}

// Parse resolves an algorithm name, e.g. "sha256", to its Algorithm.
// Names are matched without regard to case.
func Parse(name string) (Algorithm, error) {
	a, ok := byname[strings.ToLower(name)]
	if !ok {
		return 0, UnsupportedAlgorithmError{Name: name}
	}
	return a, nil
}

// ParseList resolves a list of algorithm names. Duplicate names are
// collapsed, keeping the position of the first occurrence.
func ParseList(names []string) ([]Algorithm, error) {
	var result []Algorithm
	seen := make(map[Algorithm]bool)
	for _, name := range names {
		a, err := Parse(name)
		if err != nil {
			return nil, err
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		result = append(result, a)
	}
	return result, nil
}

// Defaults is the algorithm set used when a request does not choose one.
func Defaults() []Algorithm {
	return []Algorithm{MD5, SHA256}
}

// Names returns the names of every supported algorithm, sorted.
func Names() []string {
	result := make([]string, 0, len(algnames))
	for _, name := range algnames {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func (a Algorithm) String() string {
	name, ok := algnames[a]
	if !ok {
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
	return name
}

// MarshalText makes Algorithm usable as a JSON map key or value.
func (a Algorithm) MarshalText() ([]byte, error) {
	name, ok := algnames[a]
	if !ok {
		return nil, fmt.Errorf("invalid algorithm %d", int(a))
	}
	return []byte(name), nil
}

func (a *Algorithm) UnmarshalText(text []byte) error {
	x, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = x
	return nil
}

// New returns a fresh hash state for this algorithm. It panics if a is
// not one of the defined algorithms, which cannot happen for values
// produced by Parse.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case BLAKE2b:
		return blake2b.New512()
	case BLAKE2s:
		h, _ := blake2s.New256(nil)
		return h
	case SHA3_224:
		return sha3.New224()
	case SHA3_256:
		return sha3.New256()
	case SHA3_384:
		return sha3.New384()
	case SHA3_512:
		return sha3.New512()
	case Shake128:
		return shakeHash{ShakeHash: sha3.NewShake128(), size: 32, block: 168}
	case Shake256:
		return shakeHash{ShakeHash: sha3.NewShake256(), size: 64, block: 136}
	}
	panic("digest: invalid algorithm " + a.String())
}

// shakeHash pins one of the extendable-output SHAKE functions to a
// fixed digest length so it can be used as a hash.Hash.
type shakeHash struct {
	sha3.ShakeHash
	size  int
	block int
}

func (s shakeHash) Size() int      { return s.size }
func (s shakeHash) BlockSize() int { return s.block }

func (s shakeHash) Sum(b []byte) []byte {
	// Reading from a SHAKE state consumes it, so work on a copy.
	d := s.Clone()
	out := make([]byte, s.size)
	io.ReadFull(d, out)
	return append(b, out...)
}

// A Set holds the digests computed for one stream, as lowercase hex,
// one per algorithm.
type Set map[Algorithm]string

// A Writer computes digests under a set of algorithms for everything
// written to it, optionally passing the data through to another writer.
// Pass nil to only compute digests.
type Writer struct {
	io.Writer
	hashes []taggedHash
}

type taggedHash struct {
	alg Algorithm
	h   hash.Hash
}

// NewWriter returns a Writer digesting under each given algorithm.
func NewWriter(w io.Writer, algs []Algorithm) *Writer {
	result := &Writer{}
	ws := make([]io.Writer, 0, len(algs)+1)
	if w != nil {
		ws = append(ws, w)
	}
	for _, a := range algs {
		h := a.New()
		result.hashes = append(result.hashes, taggedHash{alg: a, h: h})
		ws = append(ws, h)
	}
	result.Writer = io.MultiWriter(ws...)
	return result
}

// Sums returns the digest of everything written so far, per algorithm.
func (w *Writer) Sums() Set {
	result := make(Set, len(w.hashes))
	for _, th := range w.hashes {
		result[th.alg] = hex.EncodeToString(th.h.Sum(nil))
	}
	return result
}

// Sum digests everything in r under each given algorithm. It returns
// the digests and the number of bytes read.
func Sum(r io.Reader, algs []Algorithm) (Set, int64, error) {
	w := NewWriter(nil, algs)
	n, err := io.Copy(w, r)
	if err != nil {
		return nil, n, err
	}
	return w.Sums(), n, nil
}
