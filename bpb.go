package gofat

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// fatType classifies the on-disk variant, driving FAT entry width and
// root-directory layout.
type fatType int

const (
	fatTypeUnknown fatType = 0
	fatType12      fatType = 12
	fatType16      fatType = 16
	fatType32      fatType = 32
)

func (t fatType) String() string {
	switch t {
	case fatType12:
		return "FAT12"
	case fatType16:
		return "FAT16"
	case fatType32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// FAT12, FAT16, FAT32 are the public FSType values reported by Fs.FSType.
const (
	FAT12 = int(fatType12)
	FAT16 = int(fatType16)
	FAT32 = int(fatType32)
)

// Geometry is the immutable-once-mounted derived layout of a volume
// (spec §3). All fields are in sectors unless named otherwise.
type Geometry struct {
	FATType fatType

	BytesPerSector    uint16
	SectorsPerCluster uint8
	BytesPerCluster   uint32
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	RootCluster       fatEntry // FAT32 only
	SectorsPerFAT     uint32
	TotalSectors      uint32

	FATStart       uint32
	RootDirStart   uint32 // FAT12/16 only: absolute sector
	RootDirSectors uint32 // FAT12/16 only
	DataStart      uint32
	ClusterCount   fatEntry

	Media        byte
	OEMName      string
	VolumeLabel  string
	VolumeSerial uint32
}

// dataClusterOffset returns the absolute byte offset of cluster c,
// which must be >= 2.
func (g *Geometry) dataClusterOffset(c fatEntry) int64 {
	sector := int64(g.DataStart) + int64(c-2)*int64(g.SectorsPerCluster)
	return sector * int64(g.BytesPerSector)
}

// readBootSector reads and validates the boot sector at the handle's
// configured offset, deriving geometry (spec §4.1). It never mutates fs
// beyond the returned Geometry/BPB/extension structs -- the caller
// decides whether to commit them.
func (fs *Fs) readBootSector(strict bool) (*Geometry, *BPB, error) {
	raw := make([]byte, 512)
	if err := fs.readAt(0, raw); err != nil {
		return nil, nil, wrapIO("", err)
	}

	sig := binary.LittleEndian.Uint16(raw[510:512])
	if sig != 0xAA55 {
		return nil, nil, newErr(KindCorrupt, "", fmt.Sprintf("invalid boot signature 0x%04X", sig), nil)
	}

	var bpb BPB
	if err := binary.Read(bytes.NewReader(raw[:90]), binary.LittleEndian, &bpb); err != nil {
		return nil, nil, newErr(KindCorrupt, "", "malformed BPB", err)
	}

	if err := verifyBPB(&bpb, strict, fs.opts.Logger); err != nil {
		return nil, nil, err
	}

	geom := &Geometry{
		BytesPerSector:    bpb.BytesPerSector,
		SectorsPerCluster: bpb.SectorsPerCluster,
		BytesPerCluster:   uint32(bpb.BytesPerSector) * uint32(bpb.SectorsPerCluster),
		ReservedSectors:   bpb.ReservedSectorCount,
		NumFATs:           bpb.NumFATs,
		RootEntryCount:    bpb.RootEntryCount,
		Media:             bpb.Media,
		OEMName:           trimNulPad(bpb.BSOEMName[:]),
	}

	if bpb.TotalSectors16 != 0 {
		geom.TotalSectors = uint32(bpb.TotalSectors16)
	} else {
		geom.TotalSectors = bpb.TotalSectors32
	}

	geom.RootDirSectors = (uint32(bpb.RootEntryCount)*32 + uint32(bpb.BytesPerSector) - 1) / uint32(bpb.BytesPerSector)
	geom.FATStart = uint32(bpb.ReservedSectorCount)

	var fat32ext FAT32SpecificData
	var fat16ext FAT16SpecificData
	isFAT32Header := bpb.FATSize16 == 0
	if isFAT32Header {
		if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:54]), binary.LittleEndian, &fat32ext); err != nil {
			return nil, nil, newErr(KindCorrupt, "", "malformed FAT32 header extension", err)
		}
		geom.SectorsPerFAT = fat32ext.FatSize
		geom.RootCluster = fatEntry(fat32ext.RootCluster)
		geom.VolumeSerial = fat32ext.BSVolumeID
		geom.VolumeLabel = trimNulPad(fat32ext.BSVolumeLabel[:])
	} else {
		if err := binary.Read(bytes.NewReader(bpb.FATSpecificData[:26]), binary.LittleEndian, &fat16ext); err != nil {
			return nil, nil, newErr(KindCorrupt, "", "malformed FAT12/16 header extension", err)
		}
		geom.SectorsPerFAT = uint32(bpb.FATSize16)
		geom.VolumeSerial = fat16ext.BSVolumeId
		geom.VolumeLabel = trimNulPad(fat16ext.BSVolumeLabel[:])
	}

	if geom.SectorsPerFAT == 0 {
		return nil, nil, newErr(KindCorrupt, "", "FAT size of 0 in header", nil)
	}

	if bpb.RootEntryCount == 0 {
		// FAT32: root directory is a cluster chain, no fixed region.
		geom.DataStart = geom.FATStart + uint32(bpb.NumFATs)*geom.SectorsPerFAT
	} else {
		geom.RootDirStart = geom.FATStart + uint32(bpb.NumFATs)*geom.SectorsPerFAT
		geom.DataStart = geom.RootDirStart + geom.RootDirSectors
	}

	if geom.TotalSectors < geom.DataStart || geom.SectorsPerCluster == 0 {
		return nil, nil, newErr(KindCorrupt, "", "impossible geometry: data region starts past end of volume", nil)
	}
	dataSectors := geom.TotalSectors - geom.DataStart
	geom.ClusterCount = fatEntry(dataSectors / uint32(geom.SectorsPerCluster))

	geom.FATType = classifyFATType(geom.ClusterCount, isFAT32Header, fs.opts.Logger)

	return geom, &bpb, nil
}

// verifyBPB performs the structural checks spec §4.1/§4.2 requires
// before any geometry derivation is trusted. Checks that are required
// to derive geometry at all are always enforced; checks that only
// guard against a non-conformant-but-parseable image are downgraded
// to a logged warning (and pass) when strict is false (NewSkipChecks).
func verifyBPB(bpb *BPB, strict bool, logger interface{ Printf(string, ...interface{}) }) error {
	fail := func(msg string) error {
		return newErr(KindCorrupt, "", msg, nil)
	}
	soft := func(msg string) error {
		if strict {
			return fail(msg)
		}
		if logger != nil {
			logger.Printf("gofat: boot sector check relaxed by NewSkipChecks: %s", msg)
		}
		return nil
	}

	if !(bpb.BSJumpBoot[0] == 0xEB && bpb.BSJumpBoot[2] == 0x90) && bpb.BSJumpBoot[0] != 0xE9 {
		if err := soft("missing valid jump instruction"); err != nil {
			return err
		}
	}

	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return fail(fmt.Sprintf("invalid bytes per sector %d", bpb.BytesPerSector))
	}

	if bpb.SectorsPerCluster == 0 || !isPowerOfTwo(uint32(bpb.SectorsPerCluster)) || bpb.SectorsPerCluster > 128 {
		return fail(fmt.Sprintf("invalid sectors per cluster %d", bpb.SectorsPerCluster))
	}

	if bpb.ReservedSectorCount == 0 {
		return fail("reserved sector count must not be 0")
	}

	if bpb.NumFATs < 1 {
		return fail("at least one FAT is required")
	}

	switch bpb.Media {
	case 0xf0, 0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff:
	default:
		if err := soft(fmt.Sprintf("invalid media type 0x%02X", bpb.Media)); err != nil {
			return err
		}
	}

	rootBytes := uint32(bpb.RootEntryCount) * 32
	if bpb.RootEntryCount != 0 && rootBytes%uint32(bpb.BytesPerSector) != 0 {
		if err := soft("root entry count does not align with bytes per sector"); err != nil {
			return err
		}
	}

	if bpb.TotalSectors16 == 0 && bpb.TotalSectors32 == 0 {
		return fail("both 16-bit and 32-bit total sector counts are empty")
	}

	isFAT32Header := bpb.FATSize16 == 0
	if isFAT32Header && bpb.RootEntryCount != 0 {
		if err := soft("FAT32 header must have a zero root entry count"); err != nil {
			return err
		}
	}
	if !isFAT32Header && bpb.RootEntryCount == 0 {
		return fail("FAT12/16 header must have a non-zero root entry count")
	}

	return nil
}

// classifyFATType implements spec §3's strict cluster-count rule plus
// the Linux-vs-Microsoft dual heuristic from pyfatfs: a FAT32-header
// probe can disagree with the pure cluster-count threshold on
// borderline or non-conformant images. When they disagree, the
// probe-based result wins and a warning is logged, matching how the
// Linux kernel (and pyfatfs, which mirrors it) actually decides.
func classifyFATType(clusterCount fatEntry, isFAT32Header bool, logger interface{ Printf(string, ...interface{}) }) fatType {
	var msftType fatType
	switch {
	case clusterCount < 4085:
		msftType = fatType12
	case clusterCount < 65525:
		msftType = fatType16
	default:
		msftType = fatType32
	}

	var linuxType fatType
	if isFAT32Header {
		linuxType = fatType32
	} else if clusterCount >= 4085 {
		linuxType = fatType16
	} else {
		linuxType = fatType12
	}

	if msftType != linuxType && logger != nil {
		logger.Printf("gofat: FAT type heuristics disagree (cluster count suggests %s, header suggests %s); using %s",
			msftType, linuxType, linuxType)
	}
	return linuxType
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// trimNulPad strips trailing spaces and NUL bytes, the two paddings
// FAT text fields use interchangeably across implementations.
func trimNulPad(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0x00) {
		end--
	}
	return string(b[:end])
}
