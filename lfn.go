package gofat

import (
	"unicode/utf16"
)

// lastLongEntry is ORed onto the ordinal of the physically-first (i.e.
// highest-numbered) LFN slot of a run, per spec §4.3.
const lastLongEntry = 0x40

// lfnCharsPerSlot is the number of UTF-16 code units one LFN directory
// slot holds (5 + 6 + 2 across First/Second/Third).
const lfnCharsPerSlot = 13

// isLFNSlot reports whether e is a long-name entry rather than a
// short entry sharing the same 32-byte layout.
func isLFNSlot(attribute byte) bool {
	return attribute&attrLongNameMask == AttrLongName
}

// lfnSlotCount returns ceil((N+1)/13), the number of LFN records
// needed to hold an N-character name including its NUL terminator
// (spec §4.3).
func lfnSlotCount(nameLen int) int {
	return (nameLen + 1 + lfnCharsPerSlot - 1) / lfnCharsPerSlot
}

// encodeLFN builds the run of LFN entries for name, in on-disk write
// order (highest sequence number first, short entry follows last).
// checksum must be shortNameChecksum of the paired short entry.
func encodeLFN(name string, checksum byte) []LongFilenameEntry {
	units := utf16.Encode([]rune(name))
	n := lfnSlotCount(len(units))
	entries := make([]LongFilenameEntry, n)

	for slot := 0; slot < n; slot++ {
		var chunk [lfnCharsPerSlot]uint16
		for i := range chunk {
			chunk[i] = 0xFFFF
		}
		start := slot * lfnCharsPerSlot
		terminated := false
		for i := 0; i < lfnCharsPerSlot; i++ {
			pos := start + i
			if pos < len(units) {
				chunk[i] = units[pos]
			} else if !terminated {
				chunk[i] = 0x0000
				terminated = true
			}
		}

		e := LongFilenameEntry{
			Attribute: AttrLongName,
			EntryType: 0,
			Checksum:  checksum,
		}
		copy(e.First[:], chunk[0:5])
		copy(e.Second[:], chunk[5:11])
		copy(e.Third[:], chunk[11:13])

		ordinal := byte(slot + 1)
		if slot == n-1 {
			ordinal |= lastLongEntry
		}
		e.Sequence = ordinal
		entries[n-1-slot] = e
	}
	return entries
}

// decodeLFN reconstructs the long name from a run of LFN entries given
// in physical (highest-sequence-first) on-disk order, verifying
// ordinals are contiguous and checksums agree with shortChecksum. It
// returns ok=false (not an error) for a run that fails validation, so
// the caller can treat it as an orphaned/broken chain per spec §7
// ("logged and skipped for isolated entries during scan").
func decodeLFN(physical []LongFilenameEntry, shortChecksum byte) (string, bool) {
	n := len(physical)
	if n == 0 {
		return "", false
	}

	units := make([]uint16, n*lfnCharsPerSlot)
	for i, e := range physical {
		if e.Checksum != shortChecksum {
			return "", false
		}
		wantOrdinal := byte(n - i)
		gotOrdinal := e.Sequence &^ lastLongEntry
		isLast := e.Sequence&lastLongEntry != 0
		if gotOrdinal != wantOrdinal {
			return "", false
		}
		if isLast != (i == 0) {
			return "", false
		}

		// Physical order is highest ordinal first; place each chunk at
		// its ordinal's position in the name.
		base := int(wantOrdinal-1) * lfnCharsPerSlot
		copy(units[base:base+5], e.First[:])
		copy(units[base+5:base+11], e.Second[:])
		copy(units[base+11:base+13], e.Third[:])
	}

	end := len(units)
	for i, u := range units {
		if u == 0x0000 {
			end = i
			break
		}
	}
	// Trailing 0xFFFF padding beyond the NUL terminator is expected;
	// anything else there is a malformed run.
	for _, u := range units[end:] {
		if u != 0x0000 && u != 0xFFFF {
			return "", false
		}
	}

	return string(utf16.Decode(units[:end])), true
}
