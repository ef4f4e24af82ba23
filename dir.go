package gofat

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// loadRoot builds the synthetic root Entry: on FAT12/16 it has no
// first cluster of its own (the fixed region is addressed directly by
// geometry), on FAT32 its first cluster is geom.RootCluster.
func (fs *Fs) loadRoot() *Entry {
	root := &Entry{fs: fs}
	root.Attribute = AttrDirectory
	if fs.geom.FATType == fatType32 {
		root.setFirstCluster(fs.geom.RootCluster)
	}
	return root
}

// isFixedRoot reports whether e is the FAT12/16 fixed-size root region,
// which cannot grow and is addressed directly by geometry rather than
// through the FAT.
func (e *Entry) isFixedRoot() bool {
	return e.parent == nil && e.fs.geom.FATType != fatType32
}

// ensureChildren lazily loads e's children on first access (spec
// §4.4's lazy-load mount option; default lazy). Loading a directory a
// second time is a no-op, so a crafted ".." loop is never re-walked
// once materialized.
func (e *Entry) ensureChildren() error {
	if e.childrenLoaded {
		return nil
	}
	if !e.IsDir() && e.parent != nil {
		return newErr(KindNotDir, e.FullPath(), "", nil)
	}

	raw, err := e.fs.readDirRaw(e)
	if err != nil {
		return err
	}

	children, err := parseDirSlots(raw, e.fs.opts.Logger, e.FullPath())
	if err != nil {
		return err
	}

	filtered := children[:0]
	for _, c := range children {
		name := c.Name()
		if name == "." || name == ".." {
			continue
		}
		c.fs = e.fs
		c.parent = e
		filtered = append(filtered, c)
	}

	e.children = filtered
	e.childrenLoaded = true
	return nil
}

// parseDirSlots decodes a raw directory buffer into logical entries,
// folding LFN runs with their short entry and stopping at the first
// never-used slot (spec §4.4). A broken LFN run (bad checksum or
// ordinal gap) is logged and the entry falls back to its short name
// alone, matching §7's "logged and skipped for isolated entries".
func parseDirSlots(raw []byte, logger interface{ Printf(string, ...interface{}) }, dirPath string) ([]*Entry, error) {
	var entries []*Entry
	var pending []LongFilenameEntry
	pendingStart := int64(-1)

	for off := 0; off+32 <= len(raw); off += 32 {
		slot := raw[off : off+32]
		b0 := slot[0]

		if b0 == dirEntryFree {
			break
		}
		if b0 == dirEntryDeleted {
			pending = pending[:0]
			pendingStart = -1
			continue
		}

		attr := slot[11]
		if isLFNSlot(attr) {
			var lfe LongFilenameEntry
			if err := binary.Read(bytes.NewReader(slot), binary.LittleEndian, &lfe); err != nil {
				return nil, newErr(KindCorrupt, "", "malformed LFN slot", err)
			}
			if len(pending) == 0 {
				pendingStart = int64(off)
			}
			pending = append(pending, lfe)
			continue
		}

		var eh EntryHeader
		if err := binary.Read(bytes.NewReader(slot), binary.LittleEndian, &eh); err != nil {
			return nil, newErr(KindCorrupt, "", "malformed directory entry", err)
		}

		longName := ""
		slotOffset := int64(off)
		slotCount := 1
		if len(pending) > 0 {
			if name, ok := decodeLFN(pending, shortNameChecksum(eh.Name)); ok {
				longName = name
				slotOffset = pendingStart
				slotCount = len(pending) + 1
			} else if logger != nil {
				logger.Printf("gofat: %s: orphaned or corrupt LFN run before entry %q, falling back to short name",
					dirPath, formatShortName(eh))
			}
			pending = pending[:0]
			pendingStart = -1
		}

		entries = append(entries, &Entry{
			ExtendedEntryHeader: ExtendedEntryHeader{EntryHeader: eh, ExtendedName: longName},
			slotOffset:          slotOffset,
			slotCount:           slotCount,
		})
	}

	return entries, nil
}

// readDirRaw returns the full raw slot buffer for e: the fixed root
// region for FAT12/16's root, or the concatenated cluster-chain
// payload otherwise.
func (fs *Fs) readDirRaw(e *Entry) ([]byte, error) {
	if e.isFixedRoot() {
		size := int64(fs.geom.RootEntryCount) * 32
		raw := make([]byte, size)
		if err := fs.readAt(int64(fs.geom.RootDirStart)*int64(fs.geom.BytesPerSector), raw); err != nil {
			return nil, wrapIO(e.FullPath(), err)
		}
		return raw, nil
	}
	return fs.readChainData(e.FirstCluster())
}

// readChainData reads every cluster of the chain starting at start
// into one contiguous buffer.
func (fs *Fs) readChainData(start fatEntry) ([]byte, error) {
	if start < 2 {
		return nil, nil
	}
	chain, err := fs.fat.Chain(start)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(chain)*int(fs.geom.BytesPerCluster))
	for _, c := range chain {
		clusterBuf := make([]byte, fs.geom.BytesPerCluster)
		if err := fs.readAt(fs.geom.dataClusterOffset(c), clusterBuf); err != nil {
			return nil, wrapIO("", err)
		}
		buf = append(buf, clusterBuf...)
	}
	return buf, nil
}

// writeDirRaw persists raw back to disk as e's directory data,
// growing the underlying cluster chain (not permitted for the fixed
// root) if raw is now longer than the chain's current capacity.
func (fs *Fs) writeDirRaw(e *Entry, raw []byte) error {
	if e.isFixedRoot() {
		fixedSize := int64(fs.geom.RootEntryCount) * 32
		if int64(len(raw)) > fixedSize {
			return newErr(KindNoSpace, e.FullPath(), "root directory is full", nil)
		}
		if int64(len(raw)) < fixedSize {
			return newErr(KindCorrupt, e.FullPath(), "fixed root directory buffer shrank unexpectedly", nil)
		}
		return wrapIO(e.FullPath(), fs.writeAt(int64(fs.geom.RootDirStart)*int64(fs.geom.BytesPerSector), raw))
	}

	start := e.FirstCluster()
	bpc := int(fs.geom.BytesPerCluster)
	var chain []fatEntry
	var err error
	if start >= 2 {
		chain, err = fs.fat.Chain(start)
		if err != nil {
			return err
		}
	}

	needClusters := (len(raw) + bpc - 1) / bpc
	if needClusters == 0 {
		needClusters = 1
	}

	for len(chain) < needClusters {
		var prev fatEntry
		if len(chain) > 0 {
			prev = chain[len(chain)-1]
		}
		newClusters, err := fs.fat.AllocateClusters(1, prev)
		if err != nil {
			return err
		}
		if len(chain) == 0 {
			start = newClusters[0]
			e.setFirstCluster(start)
		}
		chain = append(chain, newClusters...)
	}

	padded := make([]byte, len(chain)*bpc)
	copy(padded, raw)

	for i, c := range chain {
		if err := fs.writeAt(fs.geom.dataClusterOffset(c), padded[i*bpc:(i+1)*bpc]); err != nil {
			return wrapIO(e.FullPath(), err)
		}
	}
	return fs.flushFAT()
}

// marshalEntryHeader serializes a short directory entry to its 32-byte
// on-disk form.
func marshalEntryHeader(eh EntryHeader) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, eh)
	return buf.Bytes()
}

// findChild looks up name case-insensitively among e's already-loaded
// children (caller must ensureChildren first), matching either a
// child's display name or its 8.3 short name.
func (e *Entry) findChild(name string) (*Entry, bool) {
	for _, c := range e.children {
		if strings.EqualFold(c.Name(), name) || strings.EqualFold(formatShortName(c.EntryHeader), name) {
			return c, true
		}
	}
	return nil, false
}

// VolumeLabel returns the root's ATTR_VOLUME_ID entry's name, if any
// (supplemented feature #7).
func (fs *Fs) VolumeLabel() (string, bool) {
	if err := fs.root.ensureChildren(); err != nil {
		return "", false
	}
	for _, c := range fs.root.children {
		if c.IsVolumeLabel() {
			return formatShortName(c.EntryHeader), true
		}
	}
	return "", false
}

// resolve walks path from the root, loading directories lazily as it
// goes, and returns the entry the path names (the root for an empty
// path); the entry's parent is reachable through its parent field.
func (fs *Fs) resolve(path string) (*Entry, error) {
	path = strings.Trim(path, "/")
	cur := fs.root
	if path == "" {
		return cur, nil
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if err := cur.ensureChildren(); err != nil {
			return nil, err
		}
		next, ok := cur.findChild(part)
		if !ok {
			return nil, newErr(KindNotFound, "/"+strings.Join(parts[:i+1], "/"), "", nil)
		}
		cur = next
	}
	return cur, nil
}

// findFreeRun scans raw for a contiguous run of n free/deleted slots.
// A never-used (0x00) slot guarantees every slot after it is also
// never-used, so a run starting there is accepted without checking
// that n slots physically fit before the end of raw -- callers that
// cannot grow raw past its current length (the fixed root) must check
// that themselves. Returns ok=false if growth is required.
func findFreeRun(raw []byte, n int) (offset int64, ok bool) {
	runStart := -1
	runLen := 0
	for off := 0; off+32 <= len(raw); off += 32 {
		b0 := raw[off]
		switch {
		case b0 == dirEntryFree:
			if runStart == -1 {
				runStart = off
			}
			return int64(runStart), true
		case b0 == dirEntryDeleted:
			if runStart == -1 {
				runStart = off
			}
			runLen++
			if runLen >= n {
				return int64(runStart), true
			}
		default:
			runStart = -1
			runLen = 0
		}
	}
	return 0, false
}

// insertEntry allocates slots for a new logical entry inside parent
// (a directory), writes the short entry and its LFN run (if any), and
// returns the live Entry. Existing entries always keep their slot
// order and offsets: the new run takes only free/deleted slots or
// slots appended at the end, matching the "never reorder the
// directory" rule.
func (fs *Fs) insertEntry(parent *Entry, shortName [11]byte, longName string, attr byte, ntres byte, cluster fatEntry, size uint32) (*Entry, error) {
	if err := parent.ensureChildren(); err != nil {
		return nil, err
	}
	slotCount := 1
	var lfnEntries []LongFilenameEntry
	if longName != "" {
		checksum := shortNameChecksum(shortName)
		lfnEntries = encodeLFN(longName, checksum)
		slotCount = len(lfnEntries) + 1
	}

	raw, err := fs.readDirRaw(parent)
	if err != nil {
		return nil, err
	}

	offset, ok := findFreeRun(raw, slotCount)
	if !ok {
		if parent.isFixedRoot() {
			return nil, newErr(KindNoSpace, parent.FullPath(), "root directory is full", nil)
		}
		offset = int64(len(raw))
		raw = append(raw, make([]byte, slotCount*32)...)
	} else if int(offset)+slotCount*32 > len(raw) {
		raw = append(raw, make([]byte, int(offset)+slotCount*32-len(raw))...)
	}

	pos := offset
	for _, lfe := range lfnEntries {
		buf := new(bytes.Buffer)
		binary.Write(buf, binary.LittleEndian, lfe)
		copy(raw[pos:pos+32], buf.Bytes())
		pos += 32
	}

	eh := EntryHeader{
		Name:       shortName,
		Attribute:  attr,
		NTReserved: ntres,
		FileSize:   size,
	}
	eh.FirstClusterHI = uint16(cluster >> 16)
	eh.FirstClusterLO = uint16(cluster & 0xFFFF)
	now := fs.now()
	d, t := serializeDateTime(now)
	eh.CreateDate, eh.CreateTime = d, t
	eh.WriteDate, eh.WriteTime = d, t
	eh.LastAccessDate = d

	copy(raw[pos:pos+32], marshalEntryHeader(eh))

	if err := fs.writeDirRaw(parent, raw); err != nil {
		return nil, err
	}

	entry := &Entry{
		ExtendedEntryHeader: ExtendedEntryHeader{EntryHeader: eh, ExtendedName: longName},
		fs:                  fs,
		parent:              parent,
		slotOffset:          offset,
		slotCount:            slotCount,
	}
	parent.children = append(parent.children, entry)
	return entry, nil
}

// removeEntry marks e's physical slots deleted and, if it was the
// last live entry in the directory, zeroes the now-trailing 0xE5
// marker back to 0x00 so a stale LFN run is never re-interpreted on
// the next mount (spec §4.3's regression fix).
func (fs *Fs) removeEntry(e *Entry) error {
	parent := e.parent
	raw, err := fs.readDirRaw(parent)
	if err != nil {
		return err
	}

	for i := 0; i < e.slotCount; i++ {
		off := int(e.slotOffset) + i*32
		if off < len(raw) {
			raw[off] = dirEntryDeleted
		}
	}

	lastLiveEnd := 0
	for off := 0; off+32 <= len(raw); off += 32 {
		b0 := raw[off]
		if b0 != dirEntryFree && b0 != dirEntryDeleted {
			lastLiveEnd = off + 32
		}
	}
	for off := lastLiveEnd; off >= 0 && off+32 <= len(raw) && raw[off] == dirEntryDeleted; off += 32 {
		raw[off] = dirEntryFree
	}

	if err := fs.writeDirRaw(parent, raw); err != nil {
		return err
	}

	for i, c := range parent.children {
		if c == e {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	return nil
}

// WalkFunc is the callback type for Dir.Walk (supplemented feature #6).
type WalkFunc func(path string, entry *Entry) error

// Walk visits e and, if e is a directory, every descendant, in the
// order children appear in their directory (depth-first, pre-order).
func (e *Entry) Walk(fn WalkFunc) error {
	if err := fn(e.FullPath(), e); err != nil {
		return err
	}
	if !e.IsDir() {
		return nil
	}
	if err := e.ensureChildren(); err != nil {
		return err
	}
	for _, c := range e.children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
