package fat32

import (
	"encoding/binary"
	"kestrel/kernel"
	"strings"
)

// DirEntry describes one file or subdirectory found by ReadDir.
type DirEntry struct {
	Name    string
	Cluster uint32
	Size    uint32
	IsDir   bool
}

const (
	dirEntrySize = 32

	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLongName = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	dirEntryFree    = 0xE5
	dirEntryEndMark = 0x00
)

// ReadDir parses every 32-byte directory entry in the cluster chain
// starting at cluster and returns the live (non-deleted) entries. Long-name
// records are assembled into Name when present; otherwise the 8.3 short
// name is folded into "NAME.EXT" form.
func (v *Volume) ReadDir(cluster uint32) ([]DirEntry, *kernel.Error) {
	var (
		entries  []DirEntry
		lfnParts []string // accumulated in reverse (highest sequence number first)
	)

	cur := cluster
	for {
		off := v.clusterOffset(cur)
		if int(off)+int(v.bytesPerCluster) > len(v.image) {
			return nil, &kernel.Error{Module: "fat32", Message: "directory cluster out of image bounds"}
		}
		clusterData := v.image[off : off+v.bytesPerCluster]

		for i := 0; i+dirEntrySize <= len(clusterData); i += dirEntrySize {
			raw := clusterData[i : i+dirEntrySize]
			if raw[0] == dirEntryEndMark {
				return entries, nil
			}
			if raw[0] == dirEntryFree {
				lfnParts = nil
				continue
			}

			attr := raw[11]
			if attr&attrLongName == attrLongName {
				lfnParts = append(lfnParts, parseLFNEntry(raw))
				continue
			}
			if attr&attrVolumeID != 0 {
				lfnParts = nil
				continue
			}

			name := assembleName(lfnParts, raw)
			lfnParts = nil

			clusterHi := uint32(binary.LittleEndian.Uint16(raw[20:22]))
			clusterLo := uint32(binary.LittleEndian.Uint16(raw[26:28]))
			size := binary.LittleEndian.Uint32(raw[28:32])

			entries = append(entries, DirEntry{
				Name:    name,
				Cluster: (clusterHi << 16) | clusterLo,
				Size:    size,
				IsDir:   attr&attrDir != 0,
			})
		}

		next, err := v.nextCluster(cur)
		if err != nil {
			return nil, err
		}
		if next >= 0x0FFFFFF8 {
			break
		}
		cur = next
	}

	return entries, nil
}

// assembleName prefers the accumulated long-name parts (appended in
// on-disk order, which is highest sequence number first) over the 8.3
// short name carried by raw.
func assembleName(lfnParts []string, raw []byte) string {
	if len(lfnParts) > 0 {
		var b strings.Builder
		for i := len(lfnParts) - 1; i >= 0; i-- {
			b.WriteString(lfnParts[i])
		}
		return b.String()
	}
	return shortName(raw)
}

// shortName folds an 8.3 directory entry's name/ext fields into "NAME.EXT",
// trimming the space padding FAT32 uses.
func shortName(raw []byte) string {
	name := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// parseLFNEntry extracts the UCS-2 characters (truncated to their low byte,
// which is sufficient for the ASCII subset used by the initramfs tooling)
// from one long-name directory entry.
func parseLFNEntry(raw []byte) string {
	var chars []byte
	appendRange := func(start, end int) {
		for i := start; i < end; i += 2 {
			c := raw[i]
			if raw[i] == 0xFF && raw[i+1] == 0xFF {
				continue
			}
			if c == 0 && raw[i+1] == 0 {
				continue
			}
			chars = append(chars, c)
		}
	}
	appendRange(1, 11)
	appendRange(14, 26)
	appendRange(28, 32)
	return string(chars)
}
