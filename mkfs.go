package gofat

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/google/uuid"
)

// FormatOptions configures mkfs (spec §4.6). Type, if non-zero,
// overrides the size-based FAT-type auto-selection. SectorSize
// defaults to 512 when zero.
type FormatOptions struct {
	Type       int // 0 = auto-select by size, else FAT12/FAT16/FAT32
	Label      string
	OEMName    string
	SectorSize uint16
	Offset     int64
}

// randomAccessStore is the write-capable backing-store contract Format
// needs: byte-addressable reads and writes, no shared seek position.
type randomAccessStore interface {
	io.ReaderAt
	io.WriterAt
}

// sizeTableEntry is one row of the Microsoft cluster-size table,
// keyed on the volume's total sector count.
type sizeTableEntry struct {
	maxSectors        uint32
	sectorsPerCluster uint8
}

// fat12SizeTable and fat16SizeTable follow the Microsoft FAT spec's
// "BPB_SecPerClus Values" tables; fat32SizeTable follows the same
// document's FAT32 equivalent. All are keyed on total sector count at
// 512 bytes/sector.
var fat12SizeTable = []sizeTableEntry{
	{2000, 1}, {4000, 2}, {8000, 4}, {16000, 8}, {32000, 16}, {130048, 32}, {520192, 64},
}

var fat16SizeTable = []sizeTableEntry{
	{8400, 0}, {32680, 2}, {262144, 4}, {524288, 8}, {1048576, 16}, {2097152, 32}, {4194304, 64},
}

var fat32SizeTable = []sizeTableEntry{
	{66600, 0}, {532480, 1}, {16777216, 8}, {33554432, 16}, {67108864, 32}, {0xFFFFFFFF, 64},
}

// Format writes a fresh, empty FAT filesystem to store, sized to
// totalBytes, per spec §4.6. It does not mount the result -- call New
// (or NewWithOptions) afterward to obtain an *Fs.
func Format(store randomAccessStore, totalBytes int64, opts FormatOptions) error {
	if opts.SectorSize == 0 {
		opts.SectorSize = 512
	}
	bytesPerSector := opts.SectorSize
	totalSectors := uint32(totalBytes / int64(bytesPerSector))

	typ := fatType(opts.Type)
	if typ == fatTypeUnknown {
		typ = selectFATType(totalBytes)
	}

	spc := selectSectorsPerCluster(typ, totalSectors)
	if spc == 0 {
		return newErr(KindInvalidArg, "", "backing store too large for the requested FAT type", nil)
	}

	numFATs := uint8(2)
	reservedSectors := uint16(1)
	if typ == fatType32 {
		reservedSectors = 32
	}

	var rootEntryCount uint16 = 512
	if typ == fatType32 {
		rootEntryCount = 0
	}
	rootDirSectors := (uint32(rootEntryCount)*32 + uint32(bytesPerSector) - 1) / uint32(bytesPerSector)

	sectorsPerFAT := computeSectorsPerFAT(typ, totalSectors, uint32(reservedSectors), numFATs, rootDirSectors, uint32(spc), uint32(bytesPerSector))

	dataStart := uint32(reservedSectors) + uint32(numFATs)*sectorsPerFAT + rootDirSectors
	if totalSectors <= dataStart {
		return newErr(KindInvalidArg, "", "backing store too small for the computed geometry", nil)
	}
	clusterCount := fatEntry((totalSectors - dataStart) / uint32(spc))

	serial := volumeSerial()

	fat := &FAT{
		typ:           typ,
		entries:       make([]fatEntry, clusterCount+2),
		numFATs:       int(numFATs),
		sectorsPerFAT: sectorsPerFAT,
		bytesPerSec:   bytesPerSector,
		firstFreeHint: 2,
	}
	mediaByte := byte(0xF8)
	fat.entries[0] = fat.mediaDescriptorEntry(mediaByte)
	fat.entries[1] = fat.writeEOF()
	fat.SetDirtyBit(false)

	rootRaw := make([]byte, uint32(rootEntryCount)*32)
	if typ == fatType32 {
		rootRaw = make([]byte, uint32(spc)*uint32(bytesPerSector))
	}
	// Spec step 4 always writes a volume-label entry in the root, even
	// when the caller supplied no label (an all-spaces name, same as
	// mkfs.fat's behavior with no -n flag).
	now := time.Now()
	d, t := serializeDateTime(now)
	label := EntryHeader{
		Name:       pad83(opts.Label, ""),
		Attribute:  AttrVolumeID,
		CreateDate: d, CreateTime: t, WriteDate: d, WriteTime: t,
	}
	copy(rootRaw[0:32], marshalEntryHeader(label))

	var rootCluster fatEntry
	if typ == fatType32 {
		rootCluster = 2
		fat.entries[2] = fat.writeEOF()
	}

	geom := &Geometry{
		FATType:           typ,
		BytesPerSector:    bytesPerSector,
		SectorsPerCluster: spc,
		BytesPerCluster:   uint32(bytesPerSector) * uint32(spc),
		ReservedSectors:   reservedSectors,
		NumFATs:           numFATs,
		RootEntryCount:    rootEntryCount,
		RootCluster:       rootCluster,
		SectorsPerFAT:     sectorsPerFAT,
		TotalSectors:      totalSectors,
		FATStart:          uint32(reservedSectors),
		DataStart:         dataStart,
		ClusterCount:      clusterCount,
		Media:             mediaByte,
		OEMName:           opts.OEMName,
		VolumeLabel:       opts.Label,
		VolumeSerial:      serial,
	}
	if rootEntryCount != 0 {
		geom.RootDirStart = geom.FATStart + uint32(numFATs)*sectorsPerFAT
		geom.RootDirSectors = rootDirSectors
	}

	adapter := &offsetReadWriter{store: store, offset: opts.Offset}

	if err := writeBootSector(adapter, geom); err != nil {
		return err
	}
	fatBytes := fat.byteRepr()
	for i := 0; i < int(numFATs); i++ {
		off := int64(geom.FATStart)*int64(bytesPerSector) + int64(i)*int64(sectorsPerFAT)*int64(bytesPerSector)
		if err := adapter.WriteAt(fatBytes, off); err != nil {
			return wrapIO("", err)
		}
	}

	if typ == fatType32 {
		info := &FSInfoSector{FreeCount: uint32(clusterCount) - 1, NextFree: 3}
		fsInfoOff := int64(bytesPerSector) // FSInfo always written at sector 1
		if err := writeFSInfoAt(adapter, fsInfoOff, info); err != nil {
			return err
		}
	}

	rootOff := int64(dataStart) * int64(bytesPerSector)
	if rootEntryCount != 0 {
		rootOff = int64(geom.RootDirStart) * int64(bytesPerSector)
	}
	if err := adapter.WriteAt(rootRaw, rootOff); err != nil {
		return wrapIO("", err)
	}

	return nil
}

// mediaDescriptorEntry builds FAT entry 0: the media byte in the low 8
// bits with every remaining bit of the type's width set to 1.
func (f *FAT) mediaDescriptorEntry(media byte) fatEntry {
	switch f.typ {
	case fatType12:
		return fatEntry(0xF00 | uint32(media))
	case fatType16:
		return fatEntry(0xFF00 | uint32(media))
	default:
		return fatEntry(0x0FFFFF00 | uint32(media))
	}
}

func selectFATType(totalBytes int64) fatType {
	const mib = 1 << 20
	switch {
	case totalBytes <= 4*mib:
		return fatType12
	case totalBytes <= 512*mib:
		return fatType16
	default:
		return fatType32
	}
}

func selectSectorsPerCluster(typ fatType, totalSectors uint32) uint8 {
	var table []sizeTableEntry
	switch typ {
	case fatType12:
		table = fat12SizeTable
	case fatType16:
		table = fat16SizeTable
	default:
		table = fat32SizeTable
	}
	for _, row := range table {
		if totalSectors <= row.maxSectors {
			if row.sectorsPerCluster == 0 {
				continue
			}
			return row.sectorsPerCluster
		}
	}
	return 0
}

// computeSectorsPerFAT sizes the FAT to cover clusterCount+2 entries
// at the type's bit width, iterating since a larger FAT shrinks the
// data region and therefore the cluster count it must cover.
func computeSectorsPerFAT(typ fatType, totalSectors, reservedSectors uint32, numFATs uint8, rootDirSectors, spc, bytesPerSector uint32) uint32 {
	guess := uint32(1)
	for i := 0; i < 32; i++ {
		dataStart := reservedSectors + uint32(numFATs)*guess + rootDirSectors
		if totalSectors <= dataStart {
			return guess
		}
		dataSectors := totalSectors - dataStart
		clusterCount := dataSectors / spc

		var bitsPerEntry uint32
		switch typ {
		case fatType12:
			bitsPerEntry = 12
		case fatType16:
			bitsPerEntry = 16
		default:
			bitsPerEntry = 32
		}
		neededBytes := (uint64(clusterCount+2)*uint64(bitsPerEntry) + 7) / 8
		needed := uint32((neededBytes + uint64(bytesPerSector) - 1) / uint64(bytesPerSector))
		if needed == 0 {
			needed = 1
		}
		if needed == guess {
			return guess
		}
		guess = needed
	}
	return guess
}

// volumeSerial synthesizes a volume serial number from a fresh UUID's
// first four bytes (read little-endian), matching pyfatfs's random-serial-on-format behavior
// without depending on wall-clock jitter for entropy.
func volumeSerial() uint32 {
	id := uuid.New()
	return binary.LittleEndian.Uint32(id[:4])
}

// offsetReadWriter shifts every access by a fixed base offset, letting
// the formatter and the mounted Fs share the same "offset into the
// backing store" contract (spec §4.6 point 5, §6).
type offsetReadWriter struct {
	store  randomAccessStore
	offset int64
}

func (o *offsetReadWriter) WriteAt(p []byte, off int64) error {
	_, err := o.store.WriteAt(p, off+o.offset)
	return err
}

func (o *offsetReadWriter) ReadAt(p []byte, off int64) error {
	_, err := o.store.ReadAt(p, off+o.offset)
	return err
}

// writeBootSector serializes geom into a spec-conformant BPB plus
// type-specific extension and writes it to sector 0 (and, for FAT32,
// mirrors it to the backup boot sector at sector 6).
func writeBootSector(w *offsetReadWriter, geom *Geometry) error {
	raw := make([]byte, 512)

	raw[0], raw[1], raw[2] = 0xEB, 0x3C, 0x90
	copy(raw[3:11], padOEM(geom.OEMName))
	binary.LittleEndian.PutUint16(raw[11:13], geom.BytesPerSector)
	raw[13] = geom.SectorsPerCluster
	binary.LittleEndian.PutUint16(raw[14:16], geom.ReservedSectors)
	raw[16] = geom.NumFATs
	binary.LittleEndian.PutUint16(raw[17:19], geom.RootEntryCount)
	if geom.TotalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(raw[19:21], uint16(geom.TotalSectors))
	}
	raw[21] = geom.Media
	if geom.FATType != fatType32 {
		binary.LittleEndian.PutUint16(raw[22:24], uint16(geom.SectorsPerFAT))
	}
	binary.LittleEndian.PutUint16(raw[24:26], 63)  // sectors per track, conventional default
	binary.LittleEndian.PutUint16(raw[26:28], 255) // number of heads, conventional default
	binary.LittleEndian.PutUint32(raw[28:32], 0)
	if geom.TotalSectors > 0xFFFF {
		binary.LittleEndian.PutUint32(raw[32:36], geom.TotalSectors)
	}

	if geom.FATType == fatType32 {
		binary.LittleEndian.PutUint32(raw[36:40], geom.SectorsPerFAT)
		binary.LittleEndian.PutUint16(raw[40:42], 0) // ExtFlags: mirroring enabled on all FATs
		binary.LittleEndian.PutUint16(raw[42:44], 0) // FSVersion 0.0
		binary.LittleEndian.PutUint32(raw[44:48], uint32(geom.RootCluster))
		binary.LittleEndian.PutUint16(raw[48:50], 1)  // FSInfo sector
		binary.LittleEndian.PutUint16(raw[50:52], 6)  // backup boot sector
		raw[64] = 0x80                                // BS_DrvNum
		raw[66] = 0x29                                // BS_BootSig
		binary.LittleEndian.PutUint32(raw[67:71], geom.VolumeSerial)
		copy(raw[71:82], padVolumeLabel(geom.VolumeLabel))
		copy(raw[82:90], []byte("FAT32   "))
	} else {
		raw[36] = 0x80 // BS_DrvNum
		raw[38] = 0x29 // BS_BootSig
		binary.LittleEndian.PutUint32(raw[39:43], geom.VolumeSerial)
		copy(raw[43:54], padVolumeLabel(geom.VolumeLabel))
		if geom.FATType == fatType12 {
			copy(raw[54:62], []byte("FAT12   "))
		} else {
			copy(raw[54:62], []byte("FAT16   "))
		}
	}

	binary.LittleEndian.PutUint16(raw[510:512], 0xAA55)

	if err := w.WriteAt(raw, 0); err != nil {
		return wrapIO("", err)
	}
	if geom.FATType == fatType32 {
		if err := w.WriteAt(raw, 6*int64(geom.BytesPerSector)); err != nil {
			return wrapIO("", err)
		}
	}
	return nil
}

func padOEM(name string) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = ' '
	}
	copy(out, name)
	return out
}

func padVolumeLabel(label string) []byte {
	b := pad83(label, "")
	return b[:11]
}

// writeFSInfoAt is Format's write path for the FSInfo sector; it
// duplicates (fs *Fs).writeFSInfo's layout since Format runs before
// any *Fs exists to call a method on.
func writeFSInfoAt(w *offsetReadWriter, offset int64, info *FSInfoSector) error {
	raw := make([]byte, 512)
	binary.LittleEndian.PutUint32(raw[0:4], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(raw[484:488], fsInfoStructSig)
	binary.LittleEndian.PutUint32(raw[488:492], info.FreeCount)
	binary.LittleEndian.PutUint32(raw[492:496], info.NextFree)
	binary.LittleEndian.PutUint32(raw[508:512], fsInfoTrailSignature)
	return wrapIO("", w.WriteAt(raw, offset))
}
