package gofat

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawShortEntry(name [11]byte, attr byte) []byte {
	eh := EntryHeader{Name: name, Attribute: attr}
	return marshalEntryHeader(eh)
}

func rawLFNEntry(e LongFilenameEntry) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

func TestMarshalEntryHeaderRoundTrip(t *testing.T) {
	eh := EntryHeader{
		Name:      pad83("README", "TXT"),
		Attribute: AttrArchive,
		FileSize:  1234,
	}
	raw := marshalEntryHeader(eh)
	require.Len(t, raw, 32)

	var got EntryHeader
	require.NoError(t, binary.Read(bytes.NewReader(raw), binary.LittleEndian, &got))
	require.Equal(t, eh, got)
}

func TestParseDirSlotsStopsAtNeverUsed(t *testing.T) {
	raw := make([]byte, 96)
	copy(raw[0:32], rawShortEntry(pad83("ONE", "TXT"), AttrArchive))
	// raw[32:64] stays all-zero (never-used), raw[64:96] would be a
	// second live entry that must never be reached.
	copy(raw[64:96], rawShortEntry(pad83("TWO", "TXT"), AttrArchive))

	entries, err := parseDirSlots(raw, nil, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ONE.TXT", formatShortName(entries[0].EntryHeader))
}

func TestParseDirSlotsSkipsDeleted(t *testing.T) {
	raw := make([]byte, 64)
	deleted := rawShortEntry(pad83("GONE", "TXT"), AttrArchive)
	deleted[0] = dirEntryDeleted
	copy(raw[0:32], deleted)
	copy(raw[32:64], rawShortEntry(pad83("LIVE", "TXT"), AttrArchive))

	entries, err := parseDirSlots(raw, nil, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "LIVE.TXT", formatShortName(entries[0].EntryHeader))
}

func TestParseDirSlotsFoldsLFNRun(t *testing.T) {
	longName := "a reasonably long mixed Case name.txt"
	short := pad83("LONGNA~1", "TXT")
	checksum := shortNameChecksum(short)
	lfnEntries := encodeLFN(longName, checksum)

	var raw []byte
	for _, e := range lfnEntries {
		raw = append(raw, rawLFNEntry(e)...)
	}
	raw = append(raw, rawShortEntry(short, AttrArchive)...)
	raw = append(raw, make([]byte, 32)...) // terminator

	entries, err := parseDirSlots(raw, nil, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, longName, entries[0].ExtendedName)
	require.Equal(t, int64(0), entries[0].slotOffset)
	require.Equal(t, len(lfnEntries)+1, entries[0].slotCount)
}

func TestParseDirSlotsFallsBackOnBrokenLFN(t *testing.T) {
	longName := "broken-checksum-name.txt"
	short := pad83("BROKEN~1", "TXT")
	lfnEntries := encodeLFN(longName, shortNameChecksum(short)+1) // wrong checksum

	var raw []byte
	for _, e := range lfnEntries {
		raw = append(raw, rawLFNEntry(e)...)
	}
	raw = append(raw, rawShortEntry(short, AttrArchive)...)
	raw = append(raw, make([]byte, 32)...)

	logger := &recordingLogger{}
	entries, err := parseDirSlots(raw, logger, "/somedir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "", entries[0].ExtendedName)
	require.Equal(t, "BROKEN~1.TXT", formatShortName(entries[0].EntryHeader))
	require.NotEmpty(t, logger.lines)
}

func TestFindFreeRunNeverUsedSlot(t *testing.T) {
	raw := make([]byte, 96)
	copy(raw[0:32], rawShortEntry(pad83("ONE", "TXT"), AttrArchive))
	off, ok := findFreeRun(raw, 1)
	require.True(t, ok)
	require.Equal(t, int64(32), off)
}

func TestFindFreeRunDeletedRun(t *testing.T) {
	raw := make([]byte, 96)
	d1 := rawShortEntry(pad83("A", ""), AttrArchive)
	d1[0] = dirEntryDeleted
	d2 := rawShortEntry(pad83("B", ""), AttrArchive)
	d2[0] = dirEntryDeleted
	copy(raw[0:32], d1)
	copy(raw[32:64], d2)
	copy(raw[64:96], rawShortEntry(pad83("LIVE", ""), AttrArchive))

	off, ok := findFreeRun(raw, 2)
	require.True(t, ok)
	require.Equal(t, int64(0), off)
}

func TestFindFreeRunNoSpace(t *testing.T) {
	raw := make([]byte, 32)
	copy(raw[0:32], rawShortEntry(pad83("LIVE", ""), AttrArchive))
	_, ok := findFreeRun(raw, 1)
	require.False(t, ok)
}
