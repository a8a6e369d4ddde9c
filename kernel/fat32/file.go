package fat32

import "kestrel/kernel"

// FileReader reads a single file's cluster chain. It remembers the last
// cluster it visited and the byte offset that cluster starts at, so a
// sequential read resumes without re-walking the chain from the start;
// reads are clamped to the file's recorded size.
type FileReader struct {
	vol     *Volume
	start   uint32
	size    uint32
	lastOff uint32
	lastClu uint32
}

// NewFileReader returns a reader for a file occupying the cluster chain
// starting at startCluster, sized size bytes.
func NewFileReader(vol *Volume, startCluster uint32, size uint32) *FileReader {
	return &FileReader{vol: vol, start: startCluster, size: size, lastOff: 0, lastClu: startCluster}
}

// Read copies up to len(buf) bytes starting at offset into buf, clamped to
// the file's end, and returns the number of bytes copied.
func (f *FileReader) Read(offset uint64, buf []byte) (int, *kernel.Error) {
	if offset >= uint64(f.size) {
		return 0, nil
	}
	want := int(uint64(f.size) - offset)
	if want > len(buf) {
		want = len(buf)
	}

	cluster, clusterStartOff, err := f.seek(uint32(offset))
	if err != nil {
		return 0, err
	}

	copied := 0
	posInCluster := uint32(offset) - clusterStartOff
	for copied < want {
		off := f.vol.clusterOffset(cluster) + posInCluster
		n := int(f.vol.bytesPerCluster - posInCluster)
		if remaining := want - copied; n > remaining {
			n = remaining
		}
		if int(off)+n > len(f.vol.image) {
			return copied, &kernel.Error{Module: "fat32", Message: "file cluster out of image bounds"}
		}
		copy(buf[copied:copied+n], f.vol.image[off:int(off)+n])
		copied += n
		posInCluster = 0

		if copied < want {
			clusterStartOff += f.vol.bytesPerCluster
			next, err := f.vol.nextCluster(cluster)
			if err != nil {
				return copied, err
			}
			if next >= 0x0FFFFFF8 {
				break
			}
			cluster = next
		}
	}

	f.lastClu = cluster
	f.lastOff = clusterStartOff
	return copied, nil
}

// seek returns the cluster containing byte offset and that cluster's
// starting byte offset within the file, walking forward from the last
// remembered position when offset is at or after it, or from the start of
// the chain otherwise (backward seeks are not cached).
func (f *FileReader) seek(offset uint32) (cluster uint32, clusterStartOff uint32, err *kernel.Error) {
	cluster, clusterStartOff = f.start, 0
	if offset >= f.lastOff {
		cluster, clusterStartOff = f.lastClu, f.lastOff
	}

	for clusterStartOff+f.vol.bytesPerCluster <= offset {
		next, nerr := f.vol.nextCluster(cluster)
		if nerr != nil {
			return 0, 0, nerr
		}
		if next >= 0x0FFFFFF8 {
			return cluster, clusterStartOff, nil
		}
		cluster = next
		clusterStartOff += f.vol.bytesPerCluster
	}
	return cluster, clusterStartOff, nil
}
