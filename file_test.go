package gofat

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeFileFs is a hand-written double for fatFileFs: a small
// in-memory cluster arena, addressed the same way the real Fs
// addresses disk clusters, so File's stream logic can be driven
// without a backing store at all.
type fakeFileFs struct {
	bpc      uint32
	clusters map[fatEntry][]byte
	next     map[fatEntry]fatEntry
	nextID   fatEntry
	ro       bool
}

func newFakeFileFs(bpc uint32) *fakeFileFs {
	return &fakeFileFs{bpc: bpc, clusters: map[fatEntry][]byte{}, next: map[fatEntry]fatEntry{}, nextID: 2}
}

func (f *fakeFileFs) bytesPerCluster() uint32 { return f.bpc }
func (f *fakeFileFs) readOnly() bool          { return f.ro }

func (f *fakeFileFs) readCluster(c fatEntry, intra int, buf []byte) (int, error) {
	data := f.clusters[c]
	if data == nil {
		return 0, nil
	}
	return copy(buf, data[intra:]), nil
}

func (f *fakeFileFs) writeCluster(c fatEntry, intra int, buf []byte) (int, error) {
	data := f.clusters[c]
	if data == nil {
		data = make([]byte, f.bpc)
		f.clusters[c] = data
	}
	return copy(data[intra:], buf), nil
}

func (f *fakeFileFs) nextCluster(cur fatEntry) (fatEntry, bool, error) {
	n, ok := f.next[cur]
	if !ok {
		return 0, true, nil
	}
	return n, false, nil
}

func (f *fakeFileFs) chainTail(start fatEntry) fatEntry {
	cur := start
	for {
		n, ok := f.next[cur]
		if !ok {
			return cur
		}
		cur = n
	}
}

func (f *fakeFileFs) growChain(entry *Entry, additional int) error {
	start := entry.FirstCluster()
	var prev fatEntry
	if start >= 2 {
		prev = f.chainTail(start)
	}
	var first fatEntry
	for i := 0; i < additional; i++ {
		id := f.nextID
		f.nextID++
		f.clusters[id] = make([]byte, f.bpc)
		if i == 0 {
			first = id
		}
		if prev >= 2 {
			f.next[prev] = id
		}
		prev = id
	}
	if start < 2 {
		entry.setFirstCluster(first)
	}
	return nil
}

func (f *fakeFileFs) shrinkChain(entry *Entry, keepClusters int) error {
	start := entry.FirstCluster()
	if start < 2 {
		return nil
	}
	var chain []fatEntry
	for cur := start; ; {
		chain = append(chain, cur)
		n, ok := f.next[cur]
		if !ok {
			break
		}
		cur = n
	}
	if len(chain) <= keepClusters {
		return nil
	}
	if keepClusters < 1 {
		keepClusters = 1
	}
	last := chain[keepClusters-1]
	for _, c := range chain[keepClusters:] {
		delete(f.next, c)
		delete(f.clusters, c)
	}
	delete(f.next, last)
	return nil
}

func (f *fakeFileFs) setSize(entry *Entry, size uint32, touchWrite bool) error {
	entry.FileSize = size
	return nil
}

func (f *fakeFileFs) readDirEntries(dir *Entry) ([]*Entry, error) {
	return nil, nil
}

func newTestEntry() *Entry {
	return &Entry{}
}

func TestFileWriteThenReadRoundTrip(t *testing.T) {
	fake := newFakeFileFs(8)
	entry := newTestEntry()
	f := newFile(fake, entry)

	n, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, int64(11), int64(entry.FileSize))

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 11)
	n, err = f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
}

func TestFileReadPastEndReturnsEOF(t *testing.T) {
	fake := newFakeFileFs(8)
	entry := newTestEntry()
	f := newFile(fake, entry)

	_, err := f.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = f.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestFileWriteSpansMultipleClusters(t *testing.T) {
	fake := newFakeFileFs(4) // small clusters force the chain to grow
	entry := newTestEntry()
	f := newFile(fake, entry)

	payload := []byte("0123456789ABCDEF") // 16 bytes, 4 clusters at bpc=4
	n, err := f.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	n, err = f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf[:n])
}

func TestFileWriteAtExtendsSize(t *testing.T) {
	fake := newFakeFileFs(8)
	entry := newTestEntry()
	f := newFile(fake, entry)

	n, err := f.WriteAt([]byte("tail"), 10)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, uint32(14), entry.FileSize)
}

func TestFileSeekNegativeRejected(t *testing.T) {
	fake := newFakeFileFs(8)
	f := newFile(fake, newTestEntry())
	_, err := f.Seek(-1, io.SeekStart)
	require.Error(t, err)
}

func TestFileTruncateShrinkRetainsFirstCluster(t *testing.T) {
	fake := newFakeFileFs(8)
	entry := newTestEntry()
	f := newFile(fake, entry)

	_, err := f.Write([]byte("0123456789abcdef")) // 16 bytes -> 2 clusters
	require.NoError(t, err)

	require.NoError(t, f.Truncate(4))
	require.Equal(t, uint32(4), entry.FileSize)
	require.GreaterOrEqual(t, entry.FirstCluster(), fatEntry(2))
}

func TestFileTruncateGrowZeroFills(t *testing.T) {
	fake := newFakeFileFs(8)
	entry := newTestEntry()
	f := newFile(fake, entry)

	_, err := f.Write([]byte("abcd"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(8))

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := f.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "abcd\x00\x00\x00\x00", string(buf))
}

func TestFileWriteRejectedWhenReadOnly(t *testing.T) {
	fake := newFakeFileFs(8)
	fake.ro = true
	f := newFile(fake, newTestEntry())
	_, err := f.Write([]byte("nope"))
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestFileCloseIsIdempotentAndBlocksFurtherUse(t *testing.T) {
	fake := newFakeFileFs(8)
	f := newFile(fake, newTestEntry())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.Read(make([]byte, 1))
	require.Error(t, err)
}
