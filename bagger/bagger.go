// Package bagger assembles BagIt bags. A Bagger takes a Request naming
// source files scattered across object stores, stages local copies,
// digests and verifies them, lays out a bag conforming to the BagIt
// specification, and delivers the zipped bag to the requested location.
//
// Each request is processed independently inside its own staging
// directory, so a single Bagger can serve many requests concurrently.
package bagger

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/MITLibraries/archival-packaging-tool/bagit"
	"github.com/MITLibraries/archival-packaging-tool/digest"
	"github.com/MITLibraries/archival-packaging-tool/store"
	"github.com/MITLibraries/archival-packaging-tool/util"
)

// A Resolver turns an object URI into the store holding the object and
// the object's key inside that store.
type Resolver interface {
	Resolve(uri string) (store.Store, string, error)
}

// Bagger runs the bagging pipeline. Only Resolver is required; the
// other fields tune the pipeline and have usable zero values.
//
// A Bagger is safe for concurrent use.
type Bagger struct {
	Resolver Resolver

	// WorkDir is the directory staging directories are created
	// under. Empty means the system temp directory.
	WorkDir string

	// Workers bounds the number of concurrent fetches for a single
	// request. Zero means a small default.
	Workers int

	// FetchTimeout bounds each individual source fetch, and
	// DeliverTimeout bounds the final upload. Zero means no limit.
	FetchTimeout   time.Duration
	DeliverTimeout time.Duration

	// FS is the filesystem holding the staging area. Defaults to
	// the operating system's.
	FS afero.Fs

	// Clock supplies timestamps for the Bagging-Date tag and the
	// elapsed time measurement.
	Clock clock.Clock
}

const defaultWorkers = 4

func (b *Bagger) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return defaultWorkers
}

// run is the state for a single request moving through the pipeline.
type run struct {
	*Bagger
	id     string // correlation id for logging
	req    *Request
	fs     afero.Fs
	clk    clock.Clock
	algs   []digest.Algorithm
	dir    string // staging directory for this request
	bagdir string // bag root inside dir
	staged []stagedFile
}

// stagedFile tracks one input file from validation through delivery.
type stagedFile struct {
	input  InputFile
	target string // payload path inside the bag, "data/..."
	size   int64
	sums   digest.Set
}

// Process runs one request through the pipeline and reports the
// outcome. The Result is always complete: pipeline failures are
// recorded in its Error field rather than returned, so callers can
// serialize the Result no matter what happened. The staging directory
// is removed before Process returns.
func (b *Bagger) Process(ctx context.Context, req *Request) *Result {
	result := &Result{
		Bag:            &bagit.Bag{Entries: make(map[string]digest.Set)},
		OutputZipS3URI: req.OutputZipS3URI,
	}
	r := &run{
		Bagger: b,
		id:     uuid.New().String(),
		req:    req,
		fs:     b.FS,
		clk:    b.Clock,
	}
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.clk == nil {
		r.clk = clock.New()
	}
	log.Printf("bag %s: new request, %d files -> %s",
		r.id, len(req.InputFiles), req.OutputZipS3URI)

	// Validation happens before the clock starts. A request rejected
	// here reports an elapsed time of zero.
	if err := r.validate(); err != nil {
		return r.fail(result, err)
	}
	if err := r.makeWorkspace(); err != nil {
		raven.CaptureError(err, map[string]string{"RequestID": r.id})
		return r.fail(result, err)
	}
	defer r.cleanup()

	start := r.clk.Now()
	err := r.fetchAll(ctx)
	if err == nil {
		err = r.verify()
	}
	var bag *bagit.Bag
	if err == nil {
		bag, err = r.buildBag()
	}
	if err == nil {
		err = r.packageBag()
	}
	if err == nil {
		err = r.deliver(ctx)
	}
	result.Elapsed = r.clk.Now().Sub(start).Seconds()
	if err != nil {
		raven.CaptureError(err, map[string]string{"RequestID": r.id})
		return r.fail(result, err)
	}
	result.Success = true
	result.Bag = bag
	log.Printf("bag %s: delivered %s in %.3fs",
		r.id, req.OutputZipS3URI, result.Elapsed)
	return result
}

func (r *run) fail(result *Result, err error) *Result {
	msg := err.Error()
	result.Error = &msg
	log.Printf("bag %s: failed: %s", r.id, msg)
	return result
}

// validate checks the request before any data is moved and binds each
// input to its target path.
func (r *run) validate() error {
	if err := r.req.Validate(); err != nil {
		return err
	}
	// neither can fail once Validate is happy
	r.algs, _ = r.req.algorithms()
	ts, _ := targets(r.req.InputFiles)
	for i, in := range r.req.InputFiles {
		r.staged = append(r.staged, stagedFile{input: in, target: ts[i]})
	}
	return nil
}

func (r *run) makeWorkspace() error {
	root := r.WorkDir
	if root == "" {
		root = os.TempDir()
	}
	r.dir = filepath.Join(root, "bag-"+r.id)
	r.bagdir = filepath.Join(r.dir, "bag")
	err := r.fs.MkdirAll(filepath.Join(r.bagdir, "data"), 0755)
	return errors.Wrap(err, "creating workspace")
}

func (r *run) cleanup() {
	err := r.fs.RemoveAll(r.dir)
	if err != nil {
		log.Printf("bag %s: cleanup: %s", r.id, err)
		raven.CaptureError(err, map[string]string{"RequestID": r.id})
	}
}

func (r *run) zipname() string {
	return filepath.Join(r.dir, "bag.zip")
}

// fetchAll stages every input concurrently, with at most workers()
// fetches in flight. The first failure cancels the remaining fetches,
// and fetchAll does not return until every started fetch has finished,
// so nothing touches the staging directory afterward.
func (r *run) fetchAll(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Printf("bag %s: fetching %d files", r.id, len(r.staged))
	gate := util.NewGate(r.workers())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firsterr error
	for i := range r.staged {
		if gate.Enter(ctx) != nil {
			break // canceled, quit submitting
		}
		sf := &r.staged[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer gate.Leave()
			err := r.fetchOne(ctx, sf)
			if err != nil {
				mu.Lock()
				if firsterr == nil {
					firsterr = err
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if firsterr == nil && ctx.Err() != nil {
		// the caller gave up, not a fetch
		firsterr = ctx.Err()
	}
	return firsterr
}

// fetchOne copies a single source object into the staging area,
// computing every requested digest as the bytes arrive.
func (r *run) fetchOne(ctx context.Context, sf *stagedFile) error {
	if r.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.FetchTimeout)
		defer cancel()
	}
	src, err := r.openSource(ctx, sf.input.URI)
	if err != nil {
		return &FetchError{URI: sf.input.URI, Err: err}
	}
	defer src.Close()

	dest := filepath.Join(r.bagdir, filepath.FromSlash(sf.target))
	if err := r.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &FetchError{URI: sf.input.URI, Err: errors.Wrap(err, "staging")}
	}
	f, err := r.fs.Create(dest)
	if err != nil {
		return &FetchError{URI: sf.input.URI, Err: errors.Wrap(err, "staging")}
	}
	hw := digest.NewWriter(f, r.algs)
	n, err := io.Copy(hw, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &FetchError{URI: sf.input.URI, Err: err}
	}
	sf.size = n
	sf.sums = hw.Sums()
	if r.req.Verbose {
		log.Printf("bag %s: staged %s (%d bytes) from %s",
			r.id, sf.target, n, sf.input.URI)
	}
	return nil
}

func (r *run) openSource(ctx context.Context, uri string) (io.ReadCloser, error) {
	st, key, err := r.Resolver.Resolve(uri)
	if err != nil {
		return nil, err
	}
	rc, _, err := st.Open(ctx, key)
	return rc, err
}

// verify compares the digests computed during staging against the
// checksums the caller supplied. Files are checked in request order,
// algorithms in name order. A checksum is only checked when its
// algorithm is also being generated; otherwise it is skipped with a
// warning, since there is nothing to compare it to.
func (r *run) verify() error {
	for _, sf := range r.staged {
		if len(sf.input.Checksums) == 0 {
			continue
		}
		names := make([]string, 0, len(sf.input.Checksums))
		for name := range sf.input.Checksums {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			alg, err := digest.Parse(name)
			if err != nil {
				return err
			}
			actual, ok := sf.sums[alg]
			if !ok {
				log.Printf("bag %s: not checking the %s checksum for %s since %s is not being generated",
					r.id, name, sf.target, name)
				continue
			}
			expected := sf.input.Checksums[name]
			if !strings.EqualFold(expected, actual) {
				return &MismatchError{
					Path:      sf.target,
					Algorithm: name,
					Expected:  expected,
					Actual:    actual,
				}
			}
		}
	}
	return nil
}

// buildBag writes the bag declaration, metadata, and manifests next to
// the already staged payload. The digests computed during staging are
// reused, so payload files are not read a second time.
func (r *run) buildBag() (*bagit.Bag, error) {
	b := bagit.NewBuilder(r.fs, r.bagdir, r.algs)
	b.Clock = r.clk
	b.SetTags(r.req.Metadata)
	for _, sf := range r.staged {
		b.AddPayload(sf.target, sf.size, sf.sums)
	}
	return b.Close()
}

func (r *run) packageBag() error {
	f, err := r.fs.Create(r.zipname())
	if err != nil {
		return bagit.PackageError{Path: r.zipname(), Err: err}
	}
	err = bagit.Zip(r.fs, r.bagdir, f, r.req.compress())
	if cerr := f.Close(); err == nil && cerr != nil {
		err = bagit.PackageError{Path: r.zipname(), Err: cerr}
	}
	return err
}

func (r *run) deliver(ctx context.Context) error {
	uri := r.req.OutputZipS3URI
	log.Printf("bag %s: delivering %s", r.id, uri)
	if r.DeliverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.DeliverTimeout)
		defer cancel()
	}
	st, key, err := r.Resolver.Resolve(uri)
	if err != nil {
		return &DeliveryError{URI: uri, Err: err}
	}
	src, err := r.fs.Open(r.zipname())
	if err != nil {
		return &DeliveryError{URI: uri, Err: err}
	}
	defer src.Close()
	w, err := st.Create(ctx, key)
	if err != nil {
		return &DeliveryError{URI: uri, Err: err}
	}
	_, err = io.Copy(w, src)
	if err != nil {
		w.Close()
		return &DeliveryError{URI: uri, Err: err}
	}
	if err := w.Close(); err != nil {
		return &DeliveryError{URI: uri, Err: err}
	}
	return nil
}
