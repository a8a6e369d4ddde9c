package fat32

import (
	"kestrel/kernel"
	"kestrel/kernel/vfs"
)

// MountInto parses a FAT32 image and walks its directory tree, creating a
// matching vfs.Inode subtree, then grafts it onto parent under name as a
// case-folding mount point. It is intended for the boot-time mount of
// /mnt/initramfs and is not meant to be called again afterwards; the
// resulting mount table entry is immutable.
func MountInto(parent vfs.Inode, name string, image []byte) (vfs.Inode, *kernel.Error) {
	vol, err := Open(image)
	if err != nil {
		return vfs.InvalidInode, err
	}

	fatRoot, err := buildTree(vol, vol.RootCluster())
	if err != nil {
		return vfs.InvalidInode, err
	}

	return vfs.Mount(parent, name, fatRoot, true)
}

// buildTree recursively materializes a FAT32 directory (starting at
// cluster) as a detached vfs subtree and returns its root inode.
func buildTree(vol *Volume, cluster uint32) (vfs.Inode, *kernel.Error) {
	dirRoot := vfs.NewDetachedDir("")

	entries, err := vol.ReadDir(cluster)
	if err != nil {
		return vfs.InvalidInode, err
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.IsDir {
			childRoot, err := buildTree(vol, e.Cluster)
			if err != nil {
				return vfs.InvalidInode, err
			}
			if _, err := vfs.Mount(dirRoot, e.Name, childRoot, true); err != nil {
				return vfs.InvalidInode, err
			}
			continue
		}

		reader := NewFileReader(vol, e.Cluster, e.Size)
		if _, err := vfs.CreateFile(dirRoot, e.Name, uint64(e.Size), reader.Read); err != nil {
			return vfs.InvalidInode, err
		}
	}

	return dirRoot, nil
}
