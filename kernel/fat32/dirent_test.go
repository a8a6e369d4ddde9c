package fat32

import (
	"encoding/binary"
	"testing"
)

// testVolume builds a Volume over a hand-assembled image with a single FAT
// sector and reservedSectors=1, bytesPerSector=512, sectorsPerCluster=1, so
// cluster N starts at byte 1024+(N-2)*512 and the FAT starts at byte 512.
func testVolume(image []byte) *Volume {
	return &Volume{
		image:             image,
		bytesPerSector:    512,
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           1,
		fatSize32:         1,
		rootCluster:       2,
		fatStartByte:      512,
		dataStartByte:     1024,
		bytesPerCluster:   512,
	}
}

func setFATEntry(image []byte, cluster, value uint32) {
	binary.LittleEndian.PutUint32(image[512+cluster*4:512+cluster*4+4], value)
}

func putShortEntry(cluster []byte, off int, name, ext string, attr byte, startCluster, size uint32) {
	copy(cluster[off:off+8], []byte(name+"        ")[:8])
	copy(cluster[off+8:off+11], []byte(ext+"   ")[:3])
	cluster[off+11] = attr
	binary.LittleEndian.PutUint16(cluster[off+20:off+22], uint16(startCluster>>16))
	binary.LittleEndian.PutUint16(cluster[off+26:off+28], uint16(startCluster&0xffff))
	binary.LittleEndian.PutUint32(cluster[off+28:off+32], size)
}

// putLFNEntry writes one long-name entry carrying up to 13 UCS-2 (low-byte
// truncated) characters of name, null-terminated and 0xFFFF-padded per the
// on-disk convention, with order byte ord (bit 0x40 marks the last, i.e.
// first-written, LFN entry in the sequence).
func putLFNEntry(cluster []byte, off int, ord byte, name string) {
	cluster[off] = ord
	cluster[off+11] = attrLongName

	chars := make([]byte, 13)
	i := 0
	for ; i < len(name) && i < 13; i++ {
		chars[i] = name[i]
	}
	terminated := i < 13
	if terminated {
		chars[i] = 0
		i++
	}
	for ; i < 13; i++ {
		chars[i] = 0xFF
	}

	putRange := func(start, count, charStart int) {
		for j := 0; j < count; j++ {
			c := chars[charStart+j]
			lo := off + start + j*2
			if c == 0xFF {
				cluster[lo] = 0xFF
				cluster[lo+1] = 0xFF
			} else {
				cluster[lo] = c
				cluster[lo+1] = 0
			}
		}
	}
	putRange(1, 5, 0)
	putRange(14, 6, 5)
	putRange(28, 2, 11)
}

func TestReadDirShortNamesOnly(t *testing.T) {
	image := make([]byte, 1024+512*2)
	setFATEntry(image, 2, 0x0FFFFFFF)

	dir := image[1024:1536]
	putShortEntry(dir, 0, "HELLO", "TXT", attrArchive, 3, 5)
	dir[32] = dirEntryEndMark

	copy(image[1024+512:], "hello")

	v := testVolume(image)
	entries, err := v.ReadDir(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry; got %d", len(entries))
	}
	if entries[0].Name != "HELLO.TXT" || entries[0].Size != 5 || entries[0].Cluster != 3 || entries[0].IsDir {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestReadDirSkipsDeletedAndVolumeID(t *testing.T) {
	image := make([]byte, 1024+512)
	setFATEntry(image, 2, 0x0FFFFFFF)

	dir := image[1024:1536]
	dir[0] = dirEntryFree
	putShortEntry(dir, 32, "VOLLBL", "", attrVolumeID, 0, 0)
	putShortEntry(dir, 64, "KEEP", "BIN", attrArchive, 4, 1)
	dir[96] = dirEntryEndMark

	v := testVolume(image)
	entries, err := v.ReadDir(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "KEEP.BIN" {
		t.Fatalf("expected only KEEP.BIN to survive; got %+v", entries)
	}
}

func TestReadDirAssemblesLongName(t *testing.T) {
	image := make([]byte, 1024+512)
	setFATEntry(image, 2, 0x0FFFFFFF)

	dir := image[1024:1536]
	putLFNEntry(dir, 0, 0x42, "txt")
	putLFNEntry(dir, 32, 0x01, "longfilename.")
	putShortEntry(dir, 64, "LONGFI~1", "TXT", attrArchive, 5, 42)
	dir[96] = dirEntryEndMark

	v := testVolume(image)
	entries, err := v.ReadDir(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry; got %d", len(entries))
	}
	if entries[0].Name != "longfilename.txt" {
		t.Fatalf("expected assembled long name; got %q", entries[0].Name)
	}
}

func TestReadDirMarksDirectories(t *testing.T) {
	image := make([]byte, 1024+512)
	setFATEntry(image, 2, 0x0FFFFFFF)

	dir := image[1024:1536]
	putShortEntry(dir, 0, "SUBDIR", "", attrDir, 6, 0)
	dir[32] = dirEntryEndMark

	v := testVolume(image)
	entries, err := v.ReadDir(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir {
		t.Fatalf("expected a directory entry; got %+v", entries)
	}
}

func TestReadDirFollowsClusterChain(t *testing.T) {
	image := make([]byte, 1024+512*2)
	setFATEntry(image, 2, 3)
	setFATEntry(image, 3, 0x0FFFFFFF)

	first := image[1024:1536]
	putShortEntry(first, 0, "FIRST", "TXT", attrArchive, 10, 1)
	for i := 32; i+32 <= 512; i += 32 {
		first[i] = dirEntryFree
	}

	second := image[1536:2048]
	putShortEntry(second, 0, "SECOND", "TXT", attrArchive, 11, 2)
	second[32] = dirEntryEndMark

	v := testVolume(image)
	entries, err := v.ReadDir(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries across the chain; got %d", len(entries))
	}
	if entries[0].Name != "FIRST.TXT" || entries[1].Name != "SECOND.TXT" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
