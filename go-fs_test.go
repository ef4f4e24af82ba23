package gofat

import (
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGoFSOpenReadsFile(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	raw, err := New(disk)
	require.NoError(t, err)
	f, err := raw.Create("/greeting.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hi from gofat"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, raw.Close())

	gofs, err := NewGoFS(disk)
	require.NoError(t, err)

	got, err := fs.ReadFile(gofs, "greeting.txt")
	require.NoError(t, err)
	require.Equal(t, "hi from gofat", string(got))
}

func TestGoFsReadDir(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	raw, err := New(disk)
	require.NoError(t, err)
	require.NoError(t, raw.Mkdir("/dir", 0755))
	for _, n := range []string{"/dir/ALPHA.TXT", "/dir/BETA.TXT"} {
		f, err := raw.Create(n)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	require.NoError(t, raw.Close())

	gofs, err := NewGoFS(disk)
	require.NoError(t, err)

	entries, err := fs.ReadDir(gofs, "dir")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
		require.False(t, e.IsDir())
	}
	require.ElementsMatch(t, []string{"ALPHA.TXT", "BETA.TXT"}, names)
}

func TestGoFileStatAndClose(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	raw, err := New(disk)
	require.NoError(t, err)
	f, err := raw.Create("/sized.bin")
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 42))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, raw.Close())

	gofs, err := NewGoFS(disk)
	require.NoError(t, err)

	file, err := gofs.Open("sized.bin")
	require.NoError(t, err)
	info, err := file.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(42), info.Size())
	require.NoError(t, file.Close())
}

func TestGoFileReadViaStdlibIOCopy(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	raw, err := New(disk)
	require.NoError(t, err)
	f, err := raw.Create("/stream.txt")
	require.NoError(t, err)
	payload := []byte("streamed through io/fs")
	_, err = f.Write(payload)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, raw.Close())

	gofs, err := NewGoFS(disk)
	require.NoError(t, err)

	file, err := gofs.Open("stream.txt")
	require.NoError(t, err)
	defer file.Close()

	got, err := io.ReadAll(file)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestNewGoFSSkipChecksMountsNonConformantImage(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	// Corrupt the jump-boot bytes in place; NewGoFS (strict) must
	// reject it, NewGoFSSkipChecks must still mount it.
	disk.data[0] = 0x00
	disk.data[1] = 0x00
	disk.data[2] = 0x00

	_, err := NewGoFS(disk)
	require.Error(t, err)

	gofs, err := NewGoFSSkipChecks(disk)
	require.NoError(t, err)
	require.NotNil(t, gofs)
}

func TestGoDirEntryTypeAndInfo(t *testing.T) {
	disk := newMemDisk(1 << 20)
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{}))

	raw, err := New(disk)
	require.NoError(t, err)
	require.NoError(t, raw.Mkdir("/sub", 0755))
	require.NoError(t, raw.Close())

	gofs, err := NewGoFS(disk)
	require.NoError(t, err)

	entries, err := fs.ReadDir(gofs, ".")
	require.NoError(t, err)
	// The root also lists the volume-label entry Format writes; its
	// empty name sorts first.
	require.Len(t, entries, 2)
	require.Equal(t, "sub", entries[1].Name())
	require.True(t, entries[1].IsDir())
	require.Equal(t, fs.ModeDir, entries[1].Type())

	info, err := entries[1].Info()
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
