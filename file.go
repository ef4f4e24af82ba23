package gofat

import (
	"io"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/fatfsio/gofat/checkpoint"
	"github.com/spf13/afero"
)

// These errors may occur while processing a file.
var (
	ErrReadFile = checkpointSentinel("could not read file completely")
	ErrSeekFile = checkpointSentinel("could not seek inside of the file")
	ErrReadDir  = checkpointSentinel("could not read the directory")
	ErrWriteFile = checkpointSentinel("could not write file completely")
)

func checkpointSentinel(msg string) error { return &FATError{Kind: KindIO, Msg: msg} }

// fatFileFs is everything File needs from the mounted filesystem.
// It exists so File's stream logic can be tested against a double
// rather than a real backing store; file_test.go's fakeFileFs is the
// hand-written double the tests use.
type fatFileFs interface {
	readCluster(c fatEntry, intra int, buf []byte) (int, error)
	writeCluster(c fatEntry, intra int, buf []byte) (int, error)
	nextCluster(cur fatEntry) (next fatEntry, isEOF bool, err error)
	growChain(entry *Entry, additional int) error
	shrinkChain(entry *Entry, keepClusters int) error
	setSize(entry *Entry, size uint32, touchWrite bool) error
	readDirEntries(dir *Entry) ([]*Entry, error)
	bytesPerCluster() uint32
	readOnly() bool
}

// File is a stream over one directory entry's cluster chain,
// implementing afero.File. It keeps a private seek cache (spec
// §4.5): the last-known (chain index, cluster id) pair,
// so sequential access is O(n) instead of O(n²).
type File struct {
	fs    fatFileFs
	entry *Entry

	offset int64
	opened int32 // atomic guard so Close is idempotent

	cacheValid     bool
	cacheChainIdx  int
	cacheCluster   fatEntry
}

func newFile(fsh fatFileFs, entry *Entry) *File {
	return &File{fs: fsh, entry: entry, opened: 1}
}

func (f *File) checkOpen() error {
	if atomic.LoadInt32(&f.opened) == 0 {
		return newErr(KindInvalidArg, "", "file already closed", nil)
	}
	return nil
}

func (f *File) Close() error {
	atomic.StoreInt32(&f.opened, 0)
	return nil
}

// clusterForOffset implements the seek-cache algorithm of spec §4.5.
func (f *File) clusterForOffset(o int64) (fatEntry, int, error) {
	bpc := int64(f.fs.bytesPerCluster())
	targetIdx := int(o / bpc)
	intra := int(o % bpc)

	if f.cacheValid && targetIdx == f.cacheChainIdx {
		return f.cacheCluster, intra, nil
	}

	var cur fatEntry
	var idx int
	if f.cacheValid && targetIdx > f.cacheChainIdx {
		cur = f.cacheCluster
		idx = f.cacheChainIdx
	} else {
		cur = f.entry.FirstCluster()
		idx = 0
	}
	if cur < 2 {
		return 0, 0, newErr(KindCorrupt, f.entry.FullPath(), "file has no allocated clusters", nil)
	}

	for idx < targetIdx {
		next, isEOF, err := f.fs.nextCluster(cur)
		if err != nil {
			return 0, 0, err
		}
		if isEOF {
			return 0, 0, newErr(KindCorrupt, f.entry.FullPath(), "seek target past end of allocated chain", nil)
		}
		cur = next
		idx++
	}

	f.cacheValid = true
	f.cacheChainIdx = idx
	f.cacheCluster = cur
	return cur, intra, nil
}

func (f *File) invalidateCache() {
	f.cacheValid = false
}

func (f *File) size() int64 {
	return int64(f.entry.FileSize)
}

func (f *File) Read(p []byte) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	if f.offset >= f.size() {
		return 0, io.EOF
	}

	n, err = f.readAt(f.offset, p)
	f.offset += int64(n)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	return n, nil
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if p == nil {
		return 0, nil
	}
	if off >= f.size() {
		return 0, io.EOF
	}
	n, err = f.readAt(off, p)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// readAt reads len(p) bytes (clamped to the entry's size) starting at
// off, one cluster at a time.
func (f *File) readAt(off int64, p []byte) (int, error) {
	remaining := f.size() - off
	want := int64(len(p))
	if want > remaining {
		want = remaining
	}

	var total int
	for int64(total) < want {
		cur := off + int64(total)
		cluster, intra, err := f.clusterForOffset(cur)
		if err != nil {
			return total, err
		}
		chunk := int(int64(f.fs.bytesPerCluster()) - int64(intra))
		left := int(want) - total
		if chunk > left {
			chunk = left
		}
		n, err := f.fs.readCluster(cluster, intra, p[total:total+chunk])
		total += n
		if err != nil {
			return total, err
		}
		if n < chunk {
			break
		}
	}
	return total, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.size() + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, syscall.EINVAL)
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, ErrSeekFile)
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	n, err = f.writeAt(f.offset, p)
	f.offset += int64(n)
	return n, err
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	return f.writeAt(off, p)
}

// writeAt writes p at off, extending the chain (and the entry's size)
// if writing past the current end, per spec §4.5.
func (f *File) writeAt(off int64, p []byte) (int, error) {
	if f.fs.readOnly() {
		return 0, ErrReadOnly
	}
	end := off + int64(len(p))
	bpc := int64(f.fs.bytesPerCluster())

	if f.entry.FirstCluster() < 2 {
		if err := f.fs.growChain(f.entry, 1); err != nil {
			return 0, err
		}
		f.invalidateCache()
	}

	curClusters := (f.size() + bpc - 1) / bpc
	if curClusters == 0 {
		curClusters = 1
	}
	wantClusters := (end + bpc - 1) / bpc
	if wantClusters > curClusters {
		if err := f.fs.growChain(f.entry, int(wantClusters-curClusters)); err != nil {
			return 0, err
		}
		f.invalidateCache()
	}

	var total int
	for int64(total) < int64(len(p)) {
		cur := off + int64(total)
		cluster, intra, err := f.clusterForOffset(cur)
		if err != nil {
			return total, err
		}
		chunk := int(bpc) - intra
		left := len(p) - total
		if chunk > left {
			chunk = left
		}
		n, err := f.fs.writeCluster(cluster, intra, p[total:total+chunk])
		total += n
		if err != nil {
			return total, checkpoint.Wrap(err, ErrWriteFile)
		}
	}

	if end > f.size() {
		if err := f.fs.setSize(f.entry, uint32(end), true); err != nil {
			return total, err
		}
	} else {
		if err := f.fs.setSize(f.entry, f.entry.FileSize, true); err != nil {
			return total, err
		}
	}

	return total, nil
}

func (f *File) Name() string {
	return f.entry.Name()
}

// Readdir reads the contents of a directory.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.entry.IsDir() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	children, err := f.fs.readDirEntries(f.entry)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	end := len(children)
	var retErr error
	if int64(len(children)) < f.offset+int64(count) && count > 0 {
		count = len(children) - int(f.offset)
		retErr = io.EOF
	}
	if count >= 0 && count < len(children) {
		end = int(f.offset) + count
	}
	if int(f.offset) > end {
		end = int(f.offset)
	}

	slice := children[f.offset:end]
	if count > 0 {
		f.offset += int64(count)
	} else if count <= 0 {
		f.offset = int64(end)
	}

	result := make([]os.FileInfo, len(slice))
	for i := range slice {
		result[i] = slice[i].FileInfo()
	}
	return result, retErr
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}
	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.entry.FileInfo(), nil
}

func (f *File) Sync() error {
	return nil
}

// Truncate implements spec §4.5: truncating to 0 retains the first
// allocated cluster (marked end-of-chain) rather than freeing it, so
// the entry's first-cluster field stays valid.
func (f *File) Truncate(size int64) error {
	if f.fs.readOnly() {
		return ErrReadOnly
	}
	bpc := int64(f.fs.bytesPerCluster())

	if size > f.size() {
		// Growing via truncate zero-fills the new tail.
		zeros := make([]byte, size-f.size())
		_, err := f.writeAt(f.size(), zeros)
		return err
	}

	keepClusters := int((size + bpc - 1) / bpc)
	if keepClusters < 1 {
		keepClusters = 1
	}
	if f.entry.FirstCluster() >= 2 {
		if err := f.fs.shrinkChain(f.entry, keepClusters); err != nil {
			return err
		}
	}
	f.invalidateCache()
	if f.offset > size {
		f.offset = size
	}
	return f.fs.setSize(f.entry, uint32(size), true)
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}
