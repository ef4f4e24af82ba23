package gofat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectFATTypeThresholds(t *testing.T) {
	require.Equal(t, fatType12, selectFATType(1<<20))
	require.Equal(t, fatType16, selectFATType(16<<20))
	require.Equal(t, fatType32, selectFATType(600<<20))
}

func TestSelectSectorsPerClusterSkipsZeroRows(t *testing.T) {
	// fat16SizeTable's first row is {8400, 0}; a volume just above that
	// threshold must fall through to the next row's cluster size rather
	// than reporting "no valid size".
	spc := selectSectorsPerCluster(fatType16, 8500)
	require.NotZero(t, spc)
}

func TestSelectSectorsPerClusterTooLarge(t *testing.T) {
	spc := selectSectorsPerCluster(fatType12, 1<<30)
	require.Zero(t, spc)
}

func TestComputeSectorsPerFATConverges(t *testing.T) {
	got := computeSectorsPerFAT(fatType12, 2048, 1, 2, 32, 2, 512)
	require.NotZero(t, got)

	// the converged value must actually be sufficient: re-deriving the
	// data region with it must not need a bigger FAT.
	dataStart := uint32(1) + 2*got + 32
	clusterCount := (2048 - dataStart) / 2
	neededBits := uint64(clusterCount+2) * 12
	neededBytes := (neededBits + 7) / 8
	neededSectors := uint32((neededBytes + 511) / 512)
	require.Equal(t, neededSectors, got)
}

func TestVolumeSerialIsNonDeterministic(t *testing.T) {
	a := volumeSerial()
	b := volumeSerial()
	require.NotEqual(t, a, b)
}

func TestMediaDescriptorEntry(t *testing.T) {
	f12 := &FAT{typ: fatType12}
	require.Equal(t, fatEntry(0xFF8), f12.mediaDescriptorEntry(0xF8))

	f16 := &FAT{typ: fatType16}
	require.Equal(t, fatEntry(0xFFF8), f16.mediaDescriptorEntry(0xF8))

	f32 := &FAT{typ: fatType32}
	require.Equal(t, fatEntry(0x0FFFFFF8), f32.mediaDescriptorEntry(0xF8))
}

func TestFormatRejectsUndersizedVolume(t *testing.T) {
	disk := newMemDisk(4096)
	err := Format(disk, int64(len(disk.data)), FormatOptions{Type: FAT32})
	require.Error(t, err)
}

func TestFormatFAT12ProducesMountableVolume(t *testing.T) {
	disk := newMemDisk(1 << 20) // 1MiB
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{Label: "TESTVOL", OEMName: "GOFAT"}))

	fat, err := New(disk)
	require.NoError(t, err)
	defer fat.Close()

	require.Equal(t, FAT12, fat.FSType())
	label, ok := fat.VolumeLabel()
	require.True(t, ok)
	require.Equal(t, "TESTVOL", label)
}

func TestFormatFAT32ProducesMountableVolume(t *testing.T) {
	disk := newMemDisk(8 << 20) // 8MiB, forced to FAT32
	require.NoError(t, Format(disk, int64(len(disk.data)), FormatOptions{Type: FAT32, Label: "BIGVOL"}))

	fat, err := New(disk)
	require.NoError(t, err)
	defer fat.Close()

	require.Equal(t, FAT32, fat.FSType())
	label, ok := fat.VolumeLabel()
	require.True(t, ok)
	require.Equal(t, "BIGVOL", label)

	// the FSInfo sector Format wrote must be found at the offset the
	// FAT32 extension's FSInfo field actually names, not wherever
	// RootCluster happens to overlap.
	require.NotNil(t, fat.fsInfo)
	require.Equal(t, int64(fat.geom.BytesPerSector), fat.fsInfoOffset)
}

func TestFSInfoSectorOffsetReadsCorrectField(t *testing.T) {
	bpb := &BPB{}
	// FATSpecificData layout: FatSize(4) ExtFlags(2) FSVersion(2)
	// RootCluster(4) FSInfo(2) ...; set RootCluster to a value whose low
	// bytes would be misread as a bogus FSInfo sector by an off-by-one
	// offset, and FSInfo itself to 1.
	bpb.FATSpecificData[8] = 2 // RootCluster low byte
	bpb.FATSpecificData[12] = 1
	bpb.FATSpecificData[13] = 0
	geom := &Geometry{BytesPerSector: 512}

	require.Equal(t, int64(512), fsInfoSectorOffset(bpb, geom))
}
