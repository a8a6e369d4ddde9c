// Command mkinitramfs packs a directory tree into the flat FAT32 image
// kestrel's kernel mounts at /mnt/initramfs during boot. It runs on the
// build host, not inside the kernel, so it is free to use the full
// standard library; flag parsing follows the teacher's tools/makelogo
// convention rather than reaching for a CLI framework no repo in the
// retrieval pack supplies for a single-binary image builder.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	bytesPerSector    = 512
	sectorsPerCluster = 8
	bytesPerCluster   = bytesPerSector * sectorsPerCluster
	reservedSectors   = 32
	numFATs           = 2
	rootCluster       = 2
	dirEntrySize      = 32

	attrDir     = 0x10
	attrArchive = 0x20

	fatEOC = 0x0FFFFFFF
)

// node mirrors one file or directory from the source tree, already
// resolved to the cluster(s) that will hold its contents.
type node struct {
	name     string // already folded to 8.3 short-name form
	isDir    bool
	content  []byte
	children []*node
	cluster  uint32
}

// builder accumulates FAT entries and cluster payloads as the tree is
// walked; clusters are handed out sequentially starting at rootCluster.
type builder struct {
	fat     []uint32
	payload [][]byte // payload[i] is the data for cluster i+2
}

func (b *builder) allocCluster() uint32 {
	cluster := uint32(len(b.payload)) + 2
	b.payload = append(b.payload, nil)
	b.fat = append(b.fat, fatEOC)
	return cluster
}

func (b *builder) setClusterData(cluster uint32, data []byte) {
	b.payload[cluster-2] = data
}

func (b *builder) chainCluster(prev uint32) uint32 {
	next := b.allocCluster()
	b.fat[prev-2] = next
	return next
}

func main() {
	srcDir := flag.String("src", "", "directory whose contents become the initramfs root")
	outPath := flag.String("out", "initramfs.img", "path to write the FAT32 image to")
	flag.Parse()

	if *srcDir == "" {
		fmt.Fprintln(os.Stderr, "mkinitramfs: -src is required")
		os.Exit(1)
	}

	root, err := buildTree(*srcDir)
	if err != nil {
		exit(err)
	}

	b := &builder{}
	root.cluster = rootCluster
	b.allocCluster() // claims rootCluster == 2

	if err := layout(b, root); err != nil {
		exit(err)
	}

	image := render(b)
	if err := os.WriteFile(*outPath, image, 0644); err != nil {
		exit(err)
	}
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "mkinitramfs: %s\n", err.Error())
	os.Exit(1)
}

// buildTree walks srcDir and returns the in-memory root node, with every
// name already folded into an 8.3 short name. Entries are sorted so the
// image is built deterministically.
func buildTree(srcDir string) (*node, error) {
	root := &node{isDir: true}
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, err
	}
	if err := addChildren(root, srcDir, entries); err != nil {
		return nil, err
	}
	return root, nil
}

func addChildren(parent *node, dir string, entries []fs.DirEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		full := filepath.Join(dir, e.Name())
		child := &node{name: shortName(e.Name())}
		if e.IsDir() {
			child.isDir = true
			sub, err := os.ReadDir(full)
			if err != nil {
				return err
			}
			if err := addChildren(child, full, sub); err != nil {
				return err
			}
		} else {
			data, err := os.ReadFile(full)
			if err != nil {
				return err
			}
			child.content = data
		}
		parent.children = append(parent.children, child)
	}
	return nil
}

// shortName folds an arbitrary file name into FAT32's 8.3 short-name form:
// upper-cased, truncated to 8 name characters plus a 3-character extension.
// Long-name directory entries are out of scope; the initramfs tree this
// tool targets never needs names beyond 8.3.
func shortName(name string) string {
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// packShortName writes name's base/ext into the 11-byte on-disk field.
func packShortName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		base, ext = name[:i], name[i+1:]
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

// layout assigns clusters to every node in the tree (depth-first, parents
// before children) and records directory-entry bytes and file payloads
// into b.
func layout(b *builder, dir *node) error {
	// "." and ".." are written for on-disk compliance only; kestrel's
	// fat32 reader skips both unconditionally, so their cluster values
	// (here, always dir's own cluster) are never actually followed.
	var entries []byte
	entries = append(entries, dotEntry(dir.cluster)...)
	entries = append(entries, dotDotEntry(dir.cluster)...)

	for _, child := range dir.children {
		if child.isDir {
			child.cluster = b.allocCluster()
		} else {
			if len(child.content) > 0 {
				child.cluster = b.allocCluster()
			}
		}
		entries = append(entries, direntFor(child)...)
	}

	writeClusterChain(b, dir.cluster, entries)

	for _, child := range dir.children {
		if child.isDir {
			if err := layout(b, child); err != nil {
				return err
			}
		} else if len(child.content) > 0 {
			writeClusterChain(b, child.cluster, child.content)
		}
	}
	return nil
}

func dotEntry(cluster uint32) []byte {
	e := make([]byte, dirEntrySize)
	copy(e[0:11], []byte(".          "))
	e[11] = attrDir
	putCluster(e, cluster)
	return e
}

func dotDotEntry(cluster uint32) []byte {
	e := make([]byte, dirEntrySize)
	copy(e[0:11], []byte("..         "))
	e[11] = attrDir
	putCluster(e, cluster)
	return e
}

func direntFor(n *node) []byte {
	e := make([]byte, dirEntrySize)
	packed := packShortName(n.name)
	copy(e[0:11], packed[:])
	if n.isDir {
		e[11] = attrDir
	} else {
		e[11] = attrArchive
		putUint32(e[28:32], uint32(len(n.content)))
	}
	putCluster(e, n.cluster)
	return e
}

func putCluster(e []byte, cluster uint32) {
	putUint16(e[20:22], uint16(cluster>>16))
	putUint16(e[26:28], uint16(cluster))
}

func putUint16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// writeClusterChain splits data across as many clusters as needed,
// starting at first (already allocated), chaining additional clusters as
// required.
func writeClusterChain(b *builder, first uint32, data []byte) {
	cluster := first
	for {
		n := len(data)
		if n > bytesPerCluster {
			n = bytesPerCluster
		}
		chunk := make([]byte, bytesPerCluster)
		copy(chunk, data[:n])
		b.setClusterData(cluster, chunk)
		data = data[n:]
		if len(data) == 0 {
			return
		}
		cluster = b.chainCluster(cluster)
	}
}

// render assembles the final byte image: boot sector/BPB, two FAT copies,
// then the data region.
func render(b *builder) []byte {
	fatSize32 := uint32(((len(b.fat)+2)*4 + bytesPerSector - 1) / bytesPerSector)
	fatStartByte := reservedSectors * bytesPerSector
	dataStartByte := fatStartByte + numFATs*int(fatSize32)*bytesPerSector
	dataLen := len(b.payload) * bytesPerCluster
	image := make([]byte, dataStartByte+dataLen)

	writeBPB(image, fatSize32)

	for copyIdx := 0; copyIdx < numFATs; copyIdx++ {
		off := fatStartByte + copyIdx*int(fatSize32)*bytesPerSector
		putUint32(image[off:off+4], 0x0FFFFFF8) // cluster 0: media descriptor
		putUint32(image[off+4:off+8], fatEOC)   // cluster 1: reserved
		for i, entry := range b.fat {
			o := off + (i+2)*4
			putUint32(image[o:o+4], entry)
		}
	}

	for i, data := range b.payload {
		off := dataStartByte + i*bytesPerCluster
		copy(image[off:off+bytesPerCluster], data)
	}

	return image
}

func writeBPB(image []byte, fatSize32 uint32) {
	totalSectors := uint32(len(image)) / bytesPerSector

	image[0] = 0xEB
	image[1] = 0x58
	image[2] = 0x90
	copy(image[3:11], []byte("KESTREL "))
	putUint16(image[11:13], bytesPerSector)
	image[13] = sectorsPerCluster
	putUint16(image[14:16], reservedSectors)
	image[16] = numFATs
	putUint16(image[17:19], 0) // rootEntCnt: zero for FAT32
	putUint16(image[19:21], 0) // totSec16: zero, use totSec32
	image[21] = 0xF8           // media: fixed disk
	putUint16(image[22:24], 0) // FATSz16: zero for FAT32
	putUint16(image[24:26], sectorsPerCluster)
	putUint16(image[26:28], 1) // heads, nominal
	putUint32(image[28:32], 0) // hidden sectors
	putUint32(image[32:36], totalSectors)
	putUint32(image[36:40], fatSize32)
	putUint16(image[40:42], 0) // ext flags: mirrored FATs
	putUint16(image[42:44], 0) // version 0.0
	putUint32(image[44:48], rootCluster)
	putUint16(image[48:50], 1) // FSInfo sector
	putUint16(image[50:52], 6) // backup boot sector
	image[64] = 0x80           // drive number
	image[66] = 0x29           // boot signature
	putUint32(image[67:71], 0x4B455354) // volume ID ("KEST")
	copy(image[71:82], []byte("KESTREL IMG"))
	copy(image[82:90], []byte("FAT32   "))
	image[510] = 0x55
	image[511] = 0xAA
}
