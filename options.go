package gofat

import (
	"io"
	"log"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Options is the closed set of mount options from spec §6, parsed once
// at mount time into this typed record. No dynamic option map is kept
// past that point.
type Options struct {
	// Encoding is the short-name codec; LFN is always UCS-2 regardless
	// of this setting. Defaults to charmap.CodePage437 (ibm437).
	Encoding encoding.Encoding
	// Offset is the byte offset of the FAT volume in the backing store,
	// letting callers skip a partition table or other header.
	Offset int64
	// PreserveCase, if true (the default), forces an LFN chain for any
	// name that isn't exactly expressible as an upper-case 8.3 name.
	PreserveCase bool
	// ReadOnly suppresses all writes, including the dirty-bit flip.
	ReadOnly bool
	// UTC, if true, stamps new timestamps in UTC instead of local time.
	// Timestamps read back from disk always carry the UTC location,
	// whatever this flag says. Captured once at mount and held stable
	// for the handle's lifetime even if changed system-wide mid-session.
	UTC bool
	// LazyLoad defaults to true but is not read anywhere: a directory's
	// children are always parsed on first access, whatever its value.
	LazyLoad bool
	// Logger receives the driver's warn-and-degrade diagnostics
	// (corrupt FAT mirrors, dirty bit already set, orphaned LFN
	// checksums, ...). A nil Logger discards them.
	Logger *log.Logger
}

// DefaultOptions returns the Options in effect when the caller supplies
// none, matching the defaults enumerated in spec §6. Because
// PreserveCase and LazyLoad default to true, callers who want to
// override only a couple of fields should start from this value rather
// than an Options{} zero value.
func DefaultOptions() Options {
	return defaultOptions()
}

func defaultOptions() Options {
	return Options{
		Encoding:     charmap.CodePage437,
		Offset:       0,
		PreserveCase: true,
		ReadOnly:     false,
		UTC:          false,
		LazyLoad:     true,
		Logger:       log.New(io.Discard, "", 0),
	}
}

// normalize fills in a nil Encoding and a nil Logger with their
// defaults; every other field is kept as given. Unknown
// options never reach this type in the first place -- it is the typed
// record itself, not a map, so there is nothing to silently discard
// here; that happens at the façade layer that builds an Options value.
func (o Options) normalize() Options {
	if o.Encoding == nil {
		o.Encoding = charmap.CodePage437
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
	return o
}
