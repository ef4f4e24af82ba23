package gofat

import "encoding/binary"

// FAT32 FSInfo sector signatures (spec §3).
const (
	fsInfoLeadSignature  = 0x41615252
	fsInfoStructSig      = 0x61417272
	fsInfoTrailSignature = 0xAA550000
)

// fsInfoUnknown is the on-disk "not computed" value of
// FreeCount/NextFree. A mount never reads either field: the free count
// always comes from the FAT, and flushFAT rewrites FreeCount from it.
const fsInfoUnknown uint32 = 0xFFFFFFFF

// readFSInfo parses the FSInfo sector at the given absolute byte
// offset. No example in the retrieved pack parses FSInfo explicitly;
// the layout is taken directly from the Microsoft FAT spec values
// spec.md already enumerates.
func (fs *Fs) readFSInfo(offset int64) (*FSInfoSector, error) {
	raw := make([]byte, 512)
	if err := fs.readAt(offset, raw); err != nil {
		return nil, wrapIO("", err)
	}

	info := &FSInfoSector{
		LeadSignature:   binary.LittleEndian.Uint32(raw[0:4]),
		StructSignature: binary.LittleEndian.Uint32(raw[484:488]),
		FreeCount:       binary.LittleEndian.Uint32(raw[488:492]),
		NextFree:        binary.LittleEndian.Uint32(raw[492:496]),
		TrailSignature:  binary.LittleEndian.Uint32(raw[508:512]),
	}
	copy(info.Reserved1[:], raw[4:484])
	copy(info.Reserved2[:], raw[496:508])

	if info.LeadSignature != fsInfoLeadSignature ||
		info.StructSignature != fsInfoStructSig ||
		info.TrailSignature != fsInfoTrailSignature {
		fs.opts.Logger.Printf("gofat: FSInfo sector has unexpected signatures, ignoring it (it will not be rewritten)")
		return nil, nil
	}

	return info, nil
}

// writeFSInfo serializes info back to its absolute byte offset.
func (fs *Fs) writeFSInfo(offset int64, info *FSInfoSector) error {
	raw := make([]byte, 512)
	binary.LittleEndian.PutUint32(raw[0:4], fsInfoLeadSignature)
	copy(raw[4:484], info.Reserved1[:])
	binary.LittleEndian.PutUint32(raw[484:488], fsInfoStructSig)
	binary.LittleEndian.PutUint32(raw[488:492], info.FreeCount)
	binary.LittleEndian.PutUint32(raw[492:496], info.NextFree)
	copy(raw[496:508], info.Reserved2[:])
	binary.LittleEndian.PutUint32(raw[508:512], fsInfoTrailSignature)
	return wrapIO("", fs.writeAt(offset, raw))
}
