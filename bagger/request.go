package bagger

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/MITLibraries/archival-packaging-tool/bagit"
	"github.com/MITLibraries/archival-packaging-tool/digest"
)

// InputFile names one file to fetch into the bag's payload. Checksums, if
// given, are expected hex digests keyed by algorithm name; a file is checked
// against them after staging.
type InputFile struct {
	URI       string            `json:"uri"`
	Filepath  string            `json:"filepath"`
	Checksums map[string]string `json:"checksums,omitempty"`
}

// Request describes a single bagging job: which files go into the bag,
// what metadata the bag carries, and where the finished archive goes.
type Request struct {
	InputFiles          []InputFile   `json:"input_files"`
	OutputZipS3URI      string        `json:"output_zip_s3_uri"`
	ChallengeSecret     string        `json:"challenge_secret,omitempty"`
	Verbose             bool          `json:"verbose,omitempty"`
	Metadata            bagit.TagList `json:"metadata,omitempty"`
	ChecksumsToGenerate []string      `json:"checksums_to_generate,omitempty"`
	CompressZip         *bool         `json:"compress_zip,omitempty"`
}

// Result is the outcome of one bagging job. It is always fully populated:
// on failure Error holds the reason and Bag is present with no entries.
type Result struct {
	Elapsed        float64    `json:"elapsed"`
	Success        bool       `json:"success"`
	Error          *string    `json:"error"`
	Bag            *bagit.Bag `json:"bag"`
	OutputZipS3URI string     `json:"output_zip_s3_uri"`
}

// compress reports whether the archive members should be deflated. Leaving
// the field out of the request means yes.
func (r *Request) compress() bool {
	return r.CompressZip == nil || *r.CompressZip
}

// algorithms resolves the requested algorithm names, falling back to the
// default set when the request names none. Algorithm names inside expected
// checksums are validated here too, so an unknown name fails the request
// before any fetching starts.
func (r *Request) algorithms() ([]digest.Algorithm, error) {
	var algs []digest.Algorithm
	var err error
	if len(r.ChecksumsToGenerate) == 0 {
		algs = digest.Defaults()
	} else {
		algs, err = digest.ParseList(r.ChecksumsToGenerate)
		if err != nil {
			return nil, err
		}
	}
	for _, in := range r.InputFiles {
		for name := range in.Checksums {
			if _, err := digest.Parse(name); err != nil {
				return nil, err
			}
		}
	}
	return algs, nil
}

// Validate checks the request without moving any data: input files and an
// output location are present, every algorithm name is supported, and the
// target paths stay inside the payload directory with no duplicates.
// Process performs the same checks; Validate lets the API refuse a bad
// request before a pipeline ever starts.
func (r *Request) Validate() error {
	if len(r.InputFiles) == 0 {
		return errors.New("request has no input files")
	}
	if r.OutputZipS3URI == "" {
		return errors.New("request has no output location")
	}
	if _, err := r.algorithms(); err != nil {
		return err
	}
	_, err := targets(r.InputFiles)
	return err
}

// targets maps each input to its payload path, rejecting paths escaping the
// payload directory and inputs landing on the same path.
func targets(inputs []InputFile) ([]string, error) {
	seen := make(map[string]bool)
	result := make([]string, len(inputs))
	for i, in := range inputs {
		t, err := payloadPath(in.Filepath)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, DuplicateTargetError{Path: t}
		}
		seen[t] = true
		result[i] = t
	}
	return result, nil
}

// payloadPath turns a caller supplied file path into a bag-relative payload
// path under "data/". The cleaned path must stay inside the payload
// directory.
func payloadPath(filepath string) (string, error) {
	p := path.Clean(filepath)
	if p == "." || p == ".." || path.IsAbs(p) || strings.HasPrefix(p, "../") {
		return "", PathTraversalError{Path: filepath}
	}
	return "data/" + p, nil
}
