package gofat

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
)

// validShortChar reports whether b is legal in an 8.3 short name byte
// per the OEM-legal set spec §4.3 names: letters, digits, and
// !#$%&'()-@^_`{}~ (pyfatfs.EightDotThree.VALID_CHARACTERS).
func validShortChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '(', ')', '-', '@', '^', '_', '`', '{', '}', '~':
		return true
	}
	return false
}

// sanitizeToOEM upper-cases s and transcodes it through enc, mapping
// any character that doesn't survive the round trip or isn't in the
// short-name charset to '_'.
func sanitizeToOEM(s string, enc encoding.Encoding) string {
	upper := strings.ToUpper(s)
	encoder := enc.NewEncoder()
	var b strings.Builder
	for _, r := range upper {
		out, err := encoder.String(string(r))
		if err != nil || len(out) != 1 || !validShortChar(out[0]) {
			b.WriteByte('_')
			continue
		}
		b.WriteByte(out[0])
	}
	return b.String()
}

// splitBaseExt splits name on its last dot, matching the DOS rule that
// everything before the final dot is the base and everything after is
// the extension (a leading dot, already trimmed by the caller, never
// reaches here).
func splitBaseExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// pad83 lays base/ext (already truncated/sanitized) into the 11-byte
// space-padded short-name field.
func pad83(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:8], base)
	copy(out[8:11], ext)
	return out
}

// isConformant83 reports whether name, taken as-is (no case folding,
// no sanitizing), already satisfies the 8.3 conformance predicate of
// spec §4.3: 1-8 base chars + optional '.' + 1-3 ext chars, entirely
// in the OEM-legal charset, with no lower-case letters.
func isConformant83(name string) bool {
	if name == "" || name != strings.ToUpper(name) {
		return false
	}
	base, ext := splitBaseExt(name)
	hasDot := strings.Contains(name, ".")
	if len(base) == 0 || len(base) > 8 {
		return false
	}
	if hasDot && (len(ext) == 0 || len(ext) > 3) {
		return false
	}
	if !hasDot && ext != "" {
		return false
	}
	for i := 0; i < len(base); i++ {
		if !validShortChar(base[i]) {
			return false
		}
	}
	for i := 0; i < len(ext); i++ {
		if !validShortChar(ext[i]) {
			return false
		}
	}
	return true
}

// generateShortName implements make_8dot3 (spec §4.3): sanitize to
// the OEM charset, then append a widening "~N" numeric tail until
// exists reports no collision with a sibling in the target directory.
// exists is checked case-insensitively by the caller already encoding
// candidates upper-case, so a direct byte compare suffices there.
func generateShortName(longName string, enc encoding.Encoding, exists func([11]byte) bool) ([11]byte, error) {
	trimmed := strings.Trim(longName, ". ")
	if trimmed == "" {
		return [11]byte{}, newErr(KindInvalidArg, longName, "name is empty after trimming dots and spaces", nil)
	}

	rawBase, rawExt := splitBaseExt(trimmed)
	base := sanitizeToOEM(rawBase, enc)
	ext := sanitizeToOEM(rawExt, enc)
	if len(ext) > 3 {
		ext = ext[:3]
	}

	if len(base) <= 8 {
		candidate := pad83(base, ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	for n := 1; n <= 9999999; n++ {
		suffix := "~" + strconv.Itoa(n)
		maxBase := 8 - len(suffix)
		if maxBase < 1 {
			break
		}
		truncated := base
		if len(truncated) > maxBase {
			truncated = truncated[:maxBase]
		}
		candidate := pad83(truncated+suffix, ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return [11]byte{}, newErr(KindAlreadyExists, longName, "exhausted numeric tail widths generating a unique short name", nil)
}

// shortNameChecksum computes the LFN-to-short-entry checksum (spec
// §4.3): summed over the 11 raw name bytes, rotate-right-by-one with
// the vacated top bit seeded from the low bit before the shift, mod
// 256 at each step. This is pyfatfs.EightDotThree.checksum's formula,
// algebraically equal to but safer to implement than spec.md's
// "(sum << 7)" phrasing since it avoids relying on 8-bit truncation of
// a left shift.
func shortNameChecksum(shortName [11]byte) byte {
	var sum byte
	for _, b := range shortName {
		sum = ((sum >> 1) | ((sum & 1) << 7)) + b
	}
	return sum
}
