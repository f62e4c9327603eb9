package bagger

import "fmt"

// PathTraversalError means an input's target path would land outside the
// bag's payload directory.
type PathTraversalError struct {
	Path string
}

func (e PathTraversalError) Error() string {
	return fmt.Sprintf("path %q escapes the payload directory", e.Path)
}

// DuplicateTargetError means two inputs resolve to the same path inside the
// bag.
type DuplicateTargetError struct {
	Path string
}

func (e DuplicateTargetError) Error() string {
	return fmt.Sprintf("duplicate target path %q", e.Path)
}

// FetchError wraps whatever kept an input file from being staged.
type FetchError struct {
	URI string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MismatchError means a staged file's computed digest disagrees with the
// checksum the caller declared for it.
type MismatchError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("Checksum mismatch for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

// DeliveryError wraps whatever kept the finished archive from reaching its
// destination.
type DeliveryError struct {
	URI string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering to %s: %s", e.URI, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
