package gofat

import (
	"io"
	"sync"
)

// memDisk is an in-memory backing store standing in for a real block
// device in tests: it satisfies io.ReadSeeker (what a mounted Fs wants)
// and io.ReaderAt/io.WriterAt (what Format wants), so the same value
// can be formatted and then mounted without touching a real file.
type memDisk struct {
	mu   sync.Mutex
	data []byte
	pos  int64
}

func newMemDisk(size int64) *memDisk {
	return &memDisk{data: make([]byte, size)}
}

func (d *memDisk) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[d.pos:])
	d.pos += int64(n)
	return n, nil
}

func (d *memDisk) Seek(offset int64, whence int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = d.pos
	case io.SeekEnd:
		base = int64(len(d.data))
	}
	d.pos = base + offset
	return d.pos, nil
}

func (d *memDisk) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := d.pos + int64(len(p))
	if end > int64(len(d.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(d.data[d.pos:], p)
	d.pos += int64(n)
	return n, nil
}

func (d *memDisk) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	return n, nil
}

func (d *memDisk) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(d.data)) {
		return 0, io.ErrShortWrite
	}
	n := copy(d.data[off:], p)
	return n, nil
}

// recordingLogger satisfies the unexported `interface{ Printf(string,
// ...interface{}) }` several internal functions accept for
// warn-and-degrade diagnostics, capturing messages instead of
// discarding or printing them so tests can assert on them.
type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...interface{}) {
	l.lines = append(l.lines, format)
}
