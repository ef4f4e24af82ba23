package gofat

import (
	"strings"
	"time"
)

// Entry is a live, tree-positioned logical directory entry: the short
// entry plus its folded long name (ExtendedEntryHeader), plus enough
// bookkeeping to find and rewrite its slots in the parent directory
// and to lazily materialize its own children when it is a directory.
// This is the "logical entry" of spec §4.3/§4.4, kept separate from
// the raw wire structs in model.go per that file's own doc comment.
type Entry struct {
	ExtendedEntryHeader

	fs     *Fs
	parent *Entry

	// slotOffset is the byte offset, within the parent's directory
	// data (fixed root region or cluster-chain payload), of the first
	// physical slot of this logical entry (the highest-numbered LFN
	// slot, or the short slot itself if there is no LFN chain).
	// slotCount is 1 plus however many LFN records precede it.
	slotOffset int64
	slotCount  int

	childrenLoaded bool
	children       []*Entry
}

func (e *Entry) IsDir() bool {
	return e.Attribute&AttrDirectory != 0
}

// IsVolumeLabel reports whether this is the root's single ATTR_VOLUME_ID
// entry (supplemented feature #7), not an ordinary file or directory.
func (e *Entry) IsVolumeLabel() bool {
	return e.Attribute&AttrVolumeID != 0 && e.Attribute&AttrDirectory == 0
}

func (e *Entry) FirstCluster() fatEntry {
	return fatEntry(e.FirstClusterHI)<<16 | fatEntry(e.FirstClusterLO)
}

func (e *Entry) setFirstCluster(c fatEntry) {
	e.FirstClusterHI = uint16(c >> 16)
	e.FirstClusterLO = uint16(c & 0xFFFF)
}

// Name returns the display name: the folded long name if this entry
// has one, else the short name reconstructed with its case-preservation
// bits and 0x05/0xE5 escape applied.
func (e *Entry) Name() string {
	if e.ExtendedName != "" {
		return e.ExtendedName
	}
	return formatShortName(e.EntryHeader)
}

// formatShortName reconstructs the display form of a bare short entry,
// honoring the NTRes case-preservation bits and the 0x05 escape for a
// literal leading 0xE5 byte (spec's deletion-marker collision case).
func formatShortName(h EntryHeader) string {
	nameBytes := h.Name
	if nameBytes[0] == dirEntryEscapedE5 {
		nameBytes[0] = dirEntryDeleted
	}

	base := strings.TrimRight(string(nameBytes[:8]), " ")
	ext := strings.TrimRight(string(nameBytes[8:11]), " ")

	if h.NTReserved&ntResLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if h.NTReserved&ntResLowerExt != 0 {
		ext = strings.ToLower(ext)
	}

	if ext == "" {
		return base
	}
	return base + "." + ext
}

// CreateTime, WriteTime and AccessTime combine the raw date/time words
// into one time.Time (supplemented feature #5, pyfatfs's
// get_ctime/get_mtime/get_atime). They intentionally shadow the
// embedded raw uint16 fields of the same name from EntryHeader; use
// e.EntryHeader.CreateTime etc. for the raw wire value. CreateTime also
// adds the CreateTimeTenth field, in units of 10 ms.
func (e *Entry) CreateTime() time.Time {
	t := combineDateTime(e.EntryHeader.CreateDate, e.EntryHeader.CreateTime)
	if t.IsZero() {
		return t
	}
	return t.Add(time.Duration(e.EntryHeader.CreateTimeTenth) * 10 * time.Millisecond)
}

func (e *Entry) WriteTime() time.Time {
	return combineDateTime(e.EntryHeader.WriteDate, e.EntryHeader.WriteTime)
}

// AccessTime returns the last-access date at midnight; FAT stores no
// access time of day, only a date.
func (e *Entry) AccessTime() time.Time {
	return ParseDate(e.EntryHeader.LastAccessDate)
}

func combineDateTime(date, timeWord uint16) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}
	t := ParseTime(timeWord)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// FullPath reconstructs the entry's absolute path by walking parent
// pointers (supplemented feature #6, pyfatfs's get_full_path), used by
// NotFound/AlreadyExists errors to name the full path.
func (e *Entry) FullPath() string {
	var parts []string
	for cur := e; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append([]string{cur.Name()}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}
