package gofat

import (
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Fs is a mounted FAT12/16/32 volume. It implements afero.Fs: one
// handle, single logical owner, with an internal lock serializing the
// I/O + FAT critical section so file streams sharing the handle can be
// driven from different goroutines safely (spec §5).
type Fs struct {
	store io.ReadSeeker
	opts  Options

	mu sync.Mutex

	geom         *Geometry
	bpb          *BPB
	fat          *FAT
	fsInfoOffset int64
	fsInfo       *FSInfoSector

	root   *Entry
	closed bool
}

// New opens a FAT filesystem from reader using the default options
// (read-write if reader implements io.Writer, otherwise read-only).
func New(reader io.ReadSeeker) (*Fs, error) {
	opts := DefaultOptions()
	if _, ok := reader.(io.Writer); !ok {
		opts.ReadOnly = true
	}
	return NewWithOptions(reader, opts)
}

// NewWithOptions opens a FAT filesystem from store with explicit mount
// options (spec §6). Unknown options never reach this type -- Options
// is the closed set itself.
func NewWithOptions(store io.ReadSeeker, opts Options) (*Fs, error) {
	return mount(store, opts, true)
}

// NewSkipChecks opens a filesystem like New but downgrades the
// non-essential boot-sector conformance checks to logged warnings,
// allowing slightly non-standard images to mount. Use with caution.
func NewSkipChecks(reader io.ReadSeeker) (*Fs, error) {
	return mount(reader, DefaultOptions(), false)
}

func mount(store io.ReadSeeker, opts Options, strict bool) (*Fs, error) {
	opts = opts.normalize()
	fs := &Fs{store: store, opts: opts}

	geom, bpb, err := fs.readBootSector(strict)
	if err != nil {
		return nil, err
	}
	fs.geom = geom
	fs.bpb = bpb

	if err := fs.loadFAT(); err != nil {
		return nil, err
	}

	if geom.FATType == fatType32 {
		fs.fsInfoOffset = fsInfoSectorOffset(bpb, geom)
		info, err := fs.readFSInfo(fs.fsInfoOffset)
		if err == nil && info != nil {
			fs.fsInfo = info
		}
	}

	fs.root = fs.loadRoot()

	if !opts.ReadOnly {
		if fs.fat.DirtyBit() {
			opts.Logger.Printf("gofat: volume dirty bit was already set on mount; proceeding anyway")
		}
		fs.fat.SetDirtyBit(true)
		if err := fs.flushFAT(); err != nil {
			return nil, err
		}
	}

	return fs, nil
}

// fsInfoSectorOffset locates the FAT32 FSInfo sector, which by
// convention sits at sector 1 of the reserved area unless the FAT32
// extension's FSInfo field says otherwise.
func fsInfoSectorOffset(bpb *BPB, geom *Geometry) int64 {
	sector := uint16(1)
	// FATSpecificData[12:14] is FSInfo within the FAT32 extension layout
	// (FatSize uint32, ExtFlags uint16, FSVersion uint16, RootCluster
	// uint32, then FSInfo uint16 -- see FAT32SpecificData in model.go).
	if len(bpb.FATSpecificData) >= 14 {
		v := uint16(bpb.FATSpecificData[12]) | uint16(bpb.FATSpecificData[13])<<8
		if v != 0 && v != 0xFFFF {
			sector = v
		}
	}
	return int64(sector) * int64(geom.BytesPerSector)
}

// loadFAT reads every on-disk FAT copy, comparing them and logging
// (not failing) on divergence -- supplemented feature #2.
func (fs *Fs) loadFAT() error {
	size := int(fs.geom.SectorsPerFAT) * int(fs.geom.BytesPerSector)
	var first []byte
	for i := 0; i < int(fs.geom.NumFATs); i++ {
		off := int64(fs.geom.FATStart)*int64(fs.geom.BytesPerSector) + int64(i)*int64(fs.geom.SectorsPerFAT)*int64(fs.geom.BytesPerSector)
		raw := make([]byte, size)
		if err := fs.readAt(off, raw); err != nil {
			return wrapIO("", err)
		}
		if i == 0 {
			first = raw
		} else if !bytesEqual(first, raw) {
			fs.opts.Logger.Printf("gofat: FAT copy %d diverges from copy 0; using copy 0", i)
		}
	}

	entries, err := parseFAT(fs.geom.FATType, first, fs.geom.ClusterCount)
	if err != nil {
		return err
	}
	fs.fat = &FAT{
		typ:           fs.geom.FATType,
		entries:       entries,
		numFATs:       int(fs.geom.NumFATs),
		sectorsPerFAT: fs.geom.SectorsPerFAT,
		bytesPerSec:   fs.geom.BytesPerSector,
		firstFreeHint: 2,
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// flushFAT writes the in-memory FAT to every on-disk copy (mirror
// policy, spec §4.2). A no-op when mounted read-only.
func (fs *Fs) flushFAT() error {
	if fs.opts.ReadOnly {
		return nil
	}
	raw := fs.fat.byteRepr()
	for i := 0; i < int(fs.geom.NumFATs); i++ {
		off := int64(fs.geom.FATStart)*int64(fs.geom.BytesPerSector) + int64(i)*int64(fs.geom.SectorsPerFAT)*int64(fs.geom.BytesPerSector)
		if err := fs.writeAt(off, raw); err != nil {
			return wrapIO("", err)
		}
	}
	if fs.geom.FATType == fatType32 && fs.fsInfo != nil {
		fs.fsInfo.FreeCount = fs.fat.FreeCount()
		_ = fs.writeFSInfo(fs.fsInfoOffset, fs.fsInfo)
	}
	return nil
}

func (fs *Fs) now() time.Time {
	if fs.opts.UTC {
		return time.Now().UTC()
	}
	return time.Now()
}

// readAt/writeAt are the backing-store primitives; every caller must
// hold fs.mu (spec §5: "caller must seek+read/write atomically under
// the lock").
func (fs *Fs) readAt(off int64, buf []byte) error {
	if _, err := fs.store.Seek(off+fs.opts.Offset, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(fs.store, buf)
	return err
}

func (fs *Fs) writeAt(off int64, buf []byte) error {
	if fs.opts.ReadOnly {
		return ErrReadOnly
	}
	w, ok := fs.store.(io.Writer)
	if !ok {
		return newErr(KindIO, "", "backing store does not support writes", nil)
	}
	if _, err := fs.store.Seek(off+fs.opts.Offset, io.SeekStart); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

// Close clears the dirty bit (clean unmount) and flushes the FAT.
func (fs *Fs) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.closed {
		return nil
	}
	fs.closed = true
	if !fs.opts.ReadOnly {
		fs.fat.SetDirtyBit(false)
		if err := fs.flushFAT(); err != nil {
			return err
		}
	}
	return nil
}

// Open mounts store with opts, exactly as NewWithOptions does; the
// caller closes the returned handle. WithFS below is the form that
// closes automatically, mirroring pyfatfs's PyFat.open_fs context
// manager (supplemented feature #1).
func Open(store io.ReadSeeker, opts Options) (*Fs, error) {
	return NewWithOptions(store, opts)
}

// WithFS mounts store, runs fn, and always closes the handle
// afterward, returning fn's error (or the close error if fn
// succeeded but close failed).
func WithFS(store io.ReadSeeker, opts Options, fn func(*Fs) error) error {
	fs, err := NewWithOptions(store, opts)
	if err != nil {
		return err
	}
	ferr := fn(fs)
	cerr := fs.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// FSType reports the mounted volume's FAT width (gofat.FAT12/16/32).
func (fs *Fs) FSType() int {
	return int(fs.geom.FATType)
}

func cleanPath(name string) string {
	return strings.Trim(path.Clean("/"+name), "/")
}

func (fs *Fs) requireWritable() error {
	if fs.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

// --- afero.Fs ---

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	clean := cleanPath(name)
	entry, err := fs.resolve(clean)
	if err != nil {
		fe, isFATErr := asFATError(err)
		notFound := isFATErr && fe.Kind == KindNotFound
		if !notFound || flag&os.O_CREATE == 0 {
			return nil, err
		}
		entry, err = fs.createFile(clean, false)
		if err != nil {
			return nil, err
		}
	} else if flag&os.O_EXCL != 0 {
		return nil, ErrAlreadyExists
	}

	if entry.IsDir() {
		return newFile(fs, entry), nil
	}

	if flag&os.O_TRUNC != 0 {
		if err := fs.requireWritable(); err != nil {
			return nil, err
		}
		if entry.FirstCluster() >= 2 {
			if err := fs.shrinkChainLocked(entry, 1); err != nil {
				return nil, err
			}
		}
		if err := fs.setSizeLocked(entry, 0, true); err != nil {
			return nil, err
		}
	}

	f := newFile(fs, entry)
	if flag&os.O_APPEND != 0 {
		f.offset = f.size()
	}
	return f, nil
}

func asOSError(err error) error {
	if fe, ok := asFATError(err); ok && fe.Kind == KindNotFound {
		return os.ErrNotExist
	}
	return err
}

func (fs *Fs) Create(name string) (afero.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entry, err := fs.createFile(cleanPath(name), false)
	if err != nil {
		return nil, err
	}
	return newFile(fs, entry), nil
}

// createFile creates a new short+LFN entry for clean (already
// path-cleaned). isDir controls the attribute and whether "." and ".."
// are written.
func (fs *Fs) createFile(clean string, isDir bool) (*Entry, error) {
	if err := fs.requireWritable(); err != nil {
		return nil, err
	}
	dirPath, base := path.Split(clean)
	dirPath = strings.Trim(dirPath, "/")

	parent, err := fs.resolve(dirPath)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, newErr(KindNotDir, dirPath, "", nil)
	}
	if err := parent.ensureChildren(); err != nil {
		return nil, err
	}
	if _, exists := parent.findChild(base); exists {
		return nil, newErr(KindAlreadyExists, clean, "", nil)
	}

	short, longName, err := fs.pickShortName(parent, base)
	if err != nil {
		return nil, err
	}

	var attr byte
	var firstCluster fatEntry
	if isDir {
		attr = AttrDirectory
		clusters, err := fs.fat.AllocateClusters(1, 0)
		if err != nil {
			return nil, err
		}
		firstCluster = clusters[0]
		if err := fs.fat.Set(firstCluster, fs.fat.writeEOF()); err != nil {
			return nil, err
		}
	}

	entry, err := fs.insertEntry(parent, short, longName, attr, 0, firstCluster, 0)
	if err != nil {
		return nil, err
	}

	if isDir {
		if err := fs.writeDotEntries(entry, parent); err != nil {
			return nil, err
		}
	}
	if err := fs.flushFAT(); err != nil {
		return nil, err
	}
	return entry, nil
}

// pickShortName decides the short name (and, if needed, the paired
// long name) for base inside parent, per spec §4.3: a name that
// already conforms and is upper-case needs no suffix and no LFN.
func (fs *Fs) pickShortName(parent *Entry, base string) ([11]byte, string, error) {
	exists := func(candidate [11]byte) bool {
		for _, c := range parent.children {
			if c.EntryHeader.Name == candidate {
				return true
			}
		}
		return false
	}

	if isConformant83(base) && !needsLFNFallback(base, fs.opts.PreserveCase) {
		b, e := splitBaseExt(base)
		short := pad83(b, e)
		if !exists(short) {
			return short, "", nil
		}
	}

	short, err := generateShortName(base, fs.opts.Encoding, exists)
	if err != nil {
		return [11]byte{}, "", err
	}
	return short, base, nil
}

// needsLFNFallback reports whether an already-8.3-conformant name
// still needs an LFN because case-preservation is enabled and the
// name isn't all upper-case.
func needsLFNFallback(base string, preserveCase bool) bool {
	return preserveCase && base != strings.ToUpper(base)
}

func (fs *Fs) writeDotEntries(dir, parent *Entry) error {
	raw, err := fs.readDirRaw(dir)
	if err != nil {
		return err
	}
	now := fs.now()
	d, t := serializeDateTime(now)

	dot := EntryHeader{Name: pad83(".", ""), Attribute: AttrDirectory, CreateDate: d, CreateTime: t, WriteDate: d, WriteTime: t}
	dot.FirstClusterHI = uint16(dir.FirstCluster() >> 16)
	dot.FirstClusterLO = uint16(dir.FirstCluster() & 0xFFFF)

	dotdot := EntryHeader{Name: pad83("..", ""), Attribute: AttrDirectory, CreateDate: d, CreateTime: t, WriteDate: d, WriteTime: t}
	if parent.parent != nil { // parent isn't the root
		dotdot.FirstClusterHI = uint16(parent.FirstCluster() >> 16)
		dotdot.FirstClusterLO = uint16(parent.FirstCluster() & 0xFFFF)
	}

	writeHeader(raw, 0, dot)
	writeHeader(raw, 32, dotdot)
	return fs.writeDirRaw(dir, raw)
}

func writeHeader(raw []byte, off int, h EntryHeader) {
	b := marshalEntryHeader(h)
	copy(raw[off:off+32], b)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.createFile(cleanPath(name), true)
	return err
}

func (fs *Fs) MkdirAll(p string, perm os.FileMode) error {
	clean := cleanPath(p)
	if clean == "" {
		return nil
	}
	parts := strings.Split(clean, "/")
	cur := ""
	for _, part := range parts {
		if cur == "" {
			cur = part
		} else {
			cur = cur + "/" + part
		}
		if err := fs.Mkdir(cur, perm); err != nil {
			if fe, ok := asFATError(err); !ok || fe.Kind != KindAlreadyExists {
				return err
			}
		}
	}
	return nil
}

func (fs *Fs) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireWritable(); err != nil {
		return err
	}
	entry, err := fs.resolve(cleanPath(name))
	if err != nil {
		return err
	}
	if entry.parent == nil {
		return newErr(KindInvalidArg, "/", "cannot remove the root directory", nil)
	}
	if entry.IsDir() {
		if err := entry.ensureChildren(); err != nil {
			return err
		}
		if len(entry.children) > 0 {
			return ErrDirNotEmpty
		}
	}
	if entry.FirstCluster() >= 2 {
		chain, err := fs.fat.Chain(entry.FirstCluster())
		if err == nil {
			_ = fs.fat.FreeChain(chain)
		}
	}
	if err := fs.removeEntry(entry); err != nil {
		return err
	}
	return fs.flushFAT()
}

func (fs *Fs) RemoveAll(p string) error {
	fs.mu.Lock()
	entry, err := fs.resolve(cleanPath(p))
	fs.mu.Unlock()
	if err != nil {
		return err
	}
	if entry.IsDir() {
		if err := entry.ensureChildren(); err != nil {
			return err
		}
		for _, c := range append([]*Entry{}, entry.children...) {
			if err := fs.RemoveAll(c.FullPath()); err != nil {
				return err
			}
		}
	}
	return fs.Remove(p)
}

func (fs *Fs) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireWritable(); err != nil {
		return err
	}
	entry, err := fs.resolve(cleanPath(oldname))
	if err != nil {
		return err
	}

	newClean := cleanPath(newname)
	newDirPath, newBase := path.Split(newClean)
	newParent, err := fs.resolve(strings.Trim(newDirPath, "/"))
	if err != nil {
		return err
	}
	if err := newParent.ensureChildren(); err != nil {
		return err
	}
	if _, exists := newParent.findChild(newBase); exists {
		return ErrAlreadyExists
	}

	short, longName, err := fs.pickShortName(newParent, newBase)
	if err != nil {
		return err
	}

	if err := fs.removeEntry(entry); err != nil {
		return err
	}
	moved, err := fs.insertEntry(newParent, short, longName, entry.Attribute, entry.NTReserved, entry.FirstCluster(), entry.FileSize)
	if err != nil {
		return err
	}
	if moved.IsDir() {
		moved.childrenLoaded = false
	}
	return fs.flushFAT()
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	entry, err := fs.resolve(cleanPath(name))
	if err != nil {
		return nil, asOSError(err)
	}
	return entry.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "gofat"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireWritable(); err != nil {
		return err
	}
	entry, err := fs.resolve(cleanPath(name))
	if err != nil {
		return err
	}
	if mode&0200 == 0 {
		entry.Attribute |= AttrReadOnly
	} else {
		entry.Attribute &^= AttrReadOnly
	}
	return fs.rewriteEntrySlot(entry)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	// FAT has no concept of owners; accepted as a no-op for
	// afero.Fs compatibility.
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.resolve(cleanPath(name))
	return err
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.requireWritable(); err != nil {
		return err
	}
	entry, err := fs.resolve(cleanPath(name))
	if err != nil {
		return err
	}
	entry.LastAccessDate = SerializeDate(atime)
	entry.EntryHeader.WriteDate, entry.EntryHeader.WriteTime = serializeDateTime(mtime)
	return fs.rewriteEntrySlot(entry)
}

// --- fatFileFs (consumed by File) ---

func (fs *Fs) bytesPerCluster() uint32 {
	return fs.geom.BytesPerCluster
}

func (fs *Fs) readOnly() bool {
	return fs.opts.ReadOnly
}

// readCluster/writeCluster/nextCluster/growChain/shrinkChain/setSize/
// readDirEntries are the fatFileFs methods File calls; File never holds
// fs.mu itself, so each takes the lock; all but readDirEntries then
// defer to an unlocked …Locked core (readDirEntries does its work
// under the lock directly). The afero.Fs methods above already hold fs.mu for
// their whole call (sync.Mutex is not reentrant), so any of them that
// need this same logic -- OpenFile's O_TRUNC branch, notably -- must
// call the …Locked core directly instead of the locking wrapper.

func (fs *Fs) readCluster(c fatEntry, intra int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readClusterLocked(c, intra, buf)
}

func (fs *Fs) readClusterLocked(c fatEntry, intra int, buf []byte) (int, error) {
	off := fs.geom.dataClusterOffset(c) + int64(intra)
	if err := fs.readAt(off, buf); err != nil {
		return 0, wrapIO("", err)
	}
	return len(buf), nil
}

func (fs *Fs) writeCluster(c fatEntry, intra int, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writeClusterLocked(c, intra, buf)
}

func (fs *Fs) writeClusterLocked(c fatEntry, intra int, buf []byte) (int, error) {
	off := fs.geom.dataClusterOffset(c) + int64(intra)
	if err := fs.writeAt(off, buf); err != nil {
		return 0, wrapIO("", err)
	}
	return len(buf), nil
}

func (fs *Fs) nextCluster(cur fatEntry) (fatEntry, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.nextClusterLocked(cur)
}

func (fs *Fs) nextClusterLocked(cur fatEntry) (fatEntry, bool, error) {
	v, err := fs.fat.Get(cur)
	if err != nil {
		return 0, false, err
	}
	if fs.fat.isEOF(v) {
		return 0, true, nil
	}
	if v == fs.fat.badCluster() || v < 2 {
		return 0, false, newErr(KindCorrupt, "", "cluster chain references an invalid entry", nil)
	}
	return v, false, nil
}

func (fs *Fs) growChain(entry *Entry, additional int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.growChainLocked(entry, additional)
}

func (fs *Fs) growChainLocked(entry *Entry, additional int) error {
	start := entry.FirstCluster()
	var prev fatEntry
	if start >= 2 {
		chain, err := fs.fat.Chain(start)
		if err != nil {
			return err
		}
		prev = chain[len(chain)-1]
	}

	newClusters, err := fs.fat.AllocateClusters(additional, prev)
	if err != nil {
		return err
	}
	if start < 2 {
		entry.setFirstCluster(newClusters[0])
	}
	if err := fs.flushFAT(); err != nil {
		return err
	}
	return fs.rewriteEntrySlot(entry)
}

func (fs *Fs) shrinkChain(entry *Entry, keepClusters int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.shrinkChainLocked(entry, keepClusters)
}

func (fs *Fs) shrinkChainLocked(entry *Entry, keepClusters int) error {
	start := entry.FirstCluster()
	if start < 2 {
		return nil
	}
	chain, err := fs.fat.Chain(start)
	if err != nil {
		return err
	}
	if len(chain) <= keepClusters {
		return nil
	}
	if keepClusters < 1 {
		keepClusters = 1
	}
	toFree := chain[keepClusters:]
	if err := fs.fat.Set(chain[keepClusters-1], fs.fat.writeEOF()); err != nil {
		return err
	}
	if err := fs.fat.FreeChain(toFree); err != nil {
		return err
	}
	return fs.flushFAT()
}

func (fs *Fs) setSize(entry *Entry, size uint32, touchWrite bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.setSizeLocked(entry, size, touchWrite)
}

func (fs *Fs) setSizeLocked(entry *Entry, size uint32, touchWrite bool) error {
	entry.FileSize = size
	if touchWrite {
		now := fs.now()
		entry.EntryHeader.WriteDate, entry.EntryHeader.WriteTime = serializeDateTime(now)
	}
	return fs.rewriteEntrySlot(entry)
}

// rewriteEntrySlot re-serializes entry's short-entry header into its
// parent's directory buffer at its recorded slot offset. The root has
// no slot of its own and is skipped.
func (fs *Fs) rewriteEntrySlot(entry *Entry) error {
	if entry.parent == nil {
		return nil
	}
	raw, err := fs.readDirRaw(entry.parent)
	if err != nil {
		return err
	}
	shortOffset := entry.slotOffset + int64(entry.slotCount-1)*32
	if int(shortOffset)+32 > len(raw) {
		return newErr(KindCorrupt, entry.FullPath(), "entry's recorded slot offset is out of range", nil)
	}
	copy(raw[shortOffset:shortOffset+32], marshalEntryHeader(entry.EntryHeader))
	return fs.writeDirRaw(entry.parent, raw)
}

func (fs *Fs) readDirEntries(dir *Entry) ([]*Entry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := dir.ensureChildren(); err != nil {
		return nil, err
	}
	return dir.children, nil
}
