// File model contains the structs which match the direct structures of the FAT filesystem.

package gofat

// Attribute bits of a short directory entry (DIR_Attr / EntryHeader.Attribute).
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20

	// AttrLongName is the attribute combination that marks a slot as an
	// LFN entry rather than a short entry.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
	// attrLongNameMask is ANDed with Attribute before comparing to AttrLongName.
	attrLongNameMask = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID | AttrDirectory | AttrArchive
)

// NTRes case-preservation bits (DIR_NTRes).
const (
	ntResLowerBase = 0x08
	ntResLowerExt  = 0x10
)

// First-byte sentinels of a short directory entry's Name field.
const (
	dirEntryFree     = 0x00
	dirEntryDeleted  = 0xE5
	dirEntryEscapedE5 = 0x05
)

// BPB is the common leading part of the boot sector, shared by FAT12,
// FAT16 and FAT32.
type BPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSpecificData     [54]byte
}

// FAT16SpecificData is the FAT12/16 extension of the boot sector,
// starting right after BPB.
type FAT16SpecificData struct {
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeId       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// FAT32SpecificData is the FAT32 extension of the boot sector, starting
// right after BPB.
type FAT32SpecificData struct {
	FatSize          uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// FSInfoSector is the FAT32-only advisory free-cluster hint sector.
type FSInfoSector struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// EntryHeader is the 32-byte on-disk layout of a short (8.3) directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// LongFilenameEntry is the 32-byte on-disk layout of a VFAT LFN entry.
type LongFilenameEntry struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

// ExtendedEntryHeader is a logical directory entry: the short entry plus
// the long name folded out of its paired LFN run, if any. It carries no
// tree-position state (parent/children) — see Entry in entry.go for that.
type ExtendedEntryHeader struct {
	EntryHeader
	ExtendedName string
}
