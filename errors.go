package gofat

import (
	"errors"
	"fmt"

	"github.com/fatfsio/gofat/checkpoint"
)

// ErrorKind classifies a FATError per the driver's error taxonomy.
// Kinds are semantic, not 1:1 with Go error types, so callers can match
// on them with errors.Is against the matching sentinel below.
type ErrorKind int

const (
	// KindCorrupt covers bad magic, impossible geometry, a looping or
	// oversized chain, a bad FAT entry, or an LFN/short checksum
	// mismatch that is not isolated to a single entry.
	KindCorrupt ErrorKind = iota
	// KindNotFound is returned when a path component does not exist.
	KindNotFound
	// KindAlreadyExists is returned when an insert collides with an
	// existing sibling name (short or long, case-insensitive).
	KindAlreadyExists
	// KindIsDir is returned when a file-only operation is attempted on
	// a directory.
	KindIsDir
	// KindNotDir is returned when a directory-only operation is
	// attempted on a file.
	KindNotDir
	// KindDirNotEmpty is returned by rmdir on a populated directory.
	KindDirNotEmpty
	// KindNoSpace is returned when the allocator cannot satisfy a
	// cluster request.
	KindNoSpace
	// KindTooBig is returned when a file size would exceed 4GiB-1.
	KindTooBig
	// KindReadOnly is returned when a write is attempted on a
	// read-only handle.
	KindReadOnly
	// KindIO wraps an underlying backing-store failure, propagated
	// unchanged and never retried.
	KindIO
	// KindInvalidArg is returned for illegal names or option values.
	KindInvalidArg
)

func (k ErrorKind) String() string {
	switch k {
	case KindCorrupt:
		return "corrupt"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindIsDir:
		return "is a directory"
	case KindNotDir:
		return "not a directory"
	case KindDirNotEmpty:
		return "directory not empty"
	case KindNoSpace:
		return "no space left"
	case KindTooBig:
		return "file too big"
	case KindReadOnly:
		return "read-only filesystem"
	case KindIO:
		return "i/o error"
	case KindInvalidArg:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// FATError is the structured error type returned by every operation in
// this package, per the error-handling design: a semantic kind, the
// path it applies to (if any) and an optional wrapped cause.
type FATError struct {
	Kind ErrorKind
	Path string
	Msg  string
	Err  error
}

func (e *FATError) Error() string {
	if e.Path != "" {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Msg)
		}
		return fmt.Sprintf("%s: %s", e.Path, e.Kind)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

func (e *FATError) Unwrap() error {
	return e.Err
}

// sentinels so callers can errors.Is(err, gofat.ErrNotFound) without
// reaching into FATError.Kind themselves.
var (
	ErrCorrupt       = &FATError{Kind: KindCorrupt}
	ErrNotFound      = &FATError{Kind: KindNotFound}
	ErrAlreadyExists = &FATError{Kind: KindAlreadyExists}
	ErrIsDir         = &FATError{Kind: KindIsDir}
	ErrNotDir        = &FATError{Kind: KindNotDir}
	ErrDirNotEmpty   = &FATError{Kind: KindDirNotEmpty}
	ErrNoSpace       = &FATError{Kind: KindNoSpace}
	ErrTooBig        = &FATError{Kind: KindTooBig}
	ErrReadOnly      = &FATError{Kind: KindReadOnly}
	ErrIO            = &FATError{Kind: KindIO}
	ErrInvalidArg    = &FATError{Kind: KindInvalidArg}
)

func (e *FATError) Is(target error) bool {
	other, ok := target.(*FATError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// newErr builds a FATError of the given kind, decorates it with a
// checkpoint (caller file:line) so the caller chain is preserved, and
// attaches path/msg for human-readable output. checkpoint.Wrap requires
// a non-nil previous error to decorate, so a fresh error (no cause) goes
// through checkpoint.From instead.
func newErr(kind ErrorKind, path string, msg string, cause error) error {
	fe := &FATError{Kind: kind, Path: path, Msg: msg, Err: cause}
	if cause == nil {
		return checkpoint.From(fe)
	}
	return checkpoint.Wrap(cause, fe)
}

// wrapIO propagates a backing-store failure unchanged, per spec: I/O
// errors are never retried internally and always kept as KindIO.
func wrapIO(path string, err error) error {
	if err == nil {
		return nil
	}
	return newErr(KindIO, path, "", err)
}

// asFATError finds the innermost *FATError in an error chain, if any.
func asFATError(err error) (*FATError, bool) {
	var fe *FATError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
