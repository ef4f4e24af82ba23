package gofat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLFNSlotCount(t *testing.T) {
	require.Equal(t, 1, lfnSlotCount(0))
	require.Equal(t, 1, lfnSlotCount(12))
	require.Equal(t, 2, lfnSlotCount(13)) // 13 chars + NUL terminator
	require.Equal(t, 2, lfnSlotCount(14))
	require.Equal(t, 3, lfnSlotCount(26))
	require.Equal(t, 3, lfnSlotCount(27))
}

func TestEncodeDecodeLFNRoundTrip(t *testing.T) {
	names := []string{
		"short",
		"exactly-thirteen-ch", // > 13 chars, forces a second slot
		"a-very-long-file-name-that-needs-several-lfn-slots-to-hold.txt",
		"a",
	}
	for _, name := range names {
		checksum := shortNameChecksum(pad83("X", "Y"))
		entries := encodeLFN(name, checksum)
		require.NotEmpty(t, entries)

		// on-disk order is highest sequence number first.
		require.Equal(t, byte(len(entries))|lastLongEntry, entries[0].Sequence)
		require.Equal(t, byte(1), entries[len(entries)-1].Sequence&^lastLongEntry)

		decoded, ok := decodeLFN(entries, checksum)
		require.True(t, ok)
		require.Equal(t, name, decoded)
	}
}

func TestDecodeLFNRejectsChecksumMismatch(t *testing.T) {
	entries := encodeLFN("mismatched.txt", shortNameChecksum(pad83("A", "B")))
	_, ok := decodeLFN(entries, shortNameChecksum(pad83("C", "D")))
	require.False(t, ok)
}

func TestDecodeLFNRejectsOrdinalGap(t *testing.T) {
	checksum := shortNameChecksum(pad83("X", "Y"))
	entries := encodeLFN("needs-two-slots-of-lfn-data.txt", checksum)
	require.Len(t, entries, 3)

	broken := append([]LongFilenameEntry{}, entries...)
	broken = broken[1:] // drop the highest-sequence slot, breaking contiguity
	_, ok := decodeLFN(broken, checksum)
	require.False(t, ok)
}

func TestDecodeLFNEmptyRun(t *testing.T) {
	_, ok := decodeLFN(nil, 0)
	require.False(t, ok)
}

func TestIsLFNSlot(t *testing.T) {
	require.True(t, isLFNSlot(AttrLongName))
	require.False(t, isLFNSlot(AttrDirectory))
	require.False(t, isLFNSlot(AttrArchive))
}
