// Package vfs implements a single rooted tree of nodes: directories,
// regular files, character devices and mount points. Nodes live in an
// arena and are addressed by a stable Inode index rather than by pointer,
// so that directory/mount cycles do not require an owning pointer graph.
package vfs

import (
	"kestrel/kernel"
	"strings"
)

// Inode is a stable index into the tree's node arena.
type Inode uint32

// InvalidInode is never a valid node index.
const InvalidInode = Inode(0)

// Kind tags a node's variant.
type Kind uint8

const (
	KindDir Kind = iota
	KindFile
	KindCharDev
	KindMount
)

// ReadFunc reads up to len(buf) bytes starting at offset into buf and
// returns the number of bytes actually read.
type ReadFunc func(offset uint64, buf []byte) (int, *kernel.Error)

// WriteFunc writes buf to a character device and returns the number of
// bytes accepted.
type WriteFunc func(buf []byte) (int, *kernel.Error)

// Stat reports a node's externally visible attributes.
type Stat struct {
	Size uint64
	Kind Kind
}

type node struct {
	name     string
	kind     Kind
	parent   Inode
	children map[string]Inode // KindDir only, insertion order irrelevant

	size uint64   // KindFile
	read ReadFunc // KindFile, KindCharDev
	// write handles writes for character devices.
	write WriteFunc // KindCharDev

	mountRoot Inode // KindMount: root of the mounted subtree
	caseFold  bool  // KindMount: true if lookups inside should fold to uppercase (FAT32)
}

var (
	errNotFound     = &kernel.Error{Module: "vfs", Message: "no such node"}
	errNotDir       = &kernel.Error{Module: "vfs", Message: "not a directory"}
	errExists       = &kernel.Error{Module: "vfs", Message: "node already exists"}
	errNotReadable  = &kernel.Error{Module: "vfs", Message: "node does not support reads"}
	errNotWriteable = &kernel.Error{Module: "vfs", Message: "node does not support writes"}

	nodes []node // index 0 reserved (InvalidInode); index 1 is the root
	root  Inode
)

func init() {
	resetTree()
}

// resetTree discards the arena and re-creates an empty root directory. Used
// at boot before mounting the initramfs, and by tests.
func resetTree() {
	nodes = make([]node, 2)
	root = Inode(1)
	nodes[root] = node{name: "/", kind: KindDir, parent: root, children: map[string]Inode{}}
}

// Root returns the inode of the tree's root directory.
func Root() Inode {
	return root
}

func alloc(n node) Inode {
	nodes = append(nodes, n)
	return Inode(len(nodes) - 1)
}

// NewDetachedDir allocates a standalone directory node with no parent,
// intended for a backend (such as fat32) to build a subtree in before
// grafting its root onto the real tree via Mount.
func NewDetachedDir(name string) Inode {
	return alloc(node{name: name, kind: KindDir, parent: InvalidInode, children: map[string]Inode{}})
}

// Mkdir creates a directory named name under parent and returns its inode.
func Mkdir(parent Inode, name string) (Inode, *kernel.Error) {
	p := &nodes[parent]
	if p.kind != KindDir {
		return InvalidInode, errNotDir
	}
	if _, exists := p.children[name]; exists {
		return InvalidInode, errExists
	}

	id := alloc(node{name: name, kind: KindDir, parent: parent, children: map[string]Inode{}})
	nodes[parent].children[name] = id
	return id, nil
}

// CreateFile registers a regular file named name under parent, backed by
// read, with the given byte length.
func CreateFile(parent Inode, name string, size uint64, read ReadFunc) (Inode, *kernel.Error) {
	p := &nodes[parent]
	if p.kind != KindDir {
		return InvalidInode, errNotDir
	}
	if _, exists := p.children[name]; exists {
		return InvalidInode, errExists
	}

	id := alloc(node{name: name, kind: KindFile, parent: parent, size: size, read: read})
	nodes[parent].children[name] = id
	return id, nil
}

// CreateCharDev registers a character device named name under parent backed
// by read and write callbacks. Either may be nil if the device is one-way.
func CreateCharDev(parent Inode, name string, read ReadFunc, write WriteFunc) (Inode, *kernel.Error) {
	p := &nodes[parent]
	if p.kind != KindDir {
		return InvalidInode, errNotDir
	}
	if _, exists := p.children[name]; exists {
		return InvalidInode, errExists
	}

	id := alloc(node{name: name, kind: KindCharDev, parent: parent, read: read, write: write})
	nodes[parent].children[name] = id
	return id, nil
}

// Mount grafts mountRoot (the root of another tree, typically a FAT32
// volume) onto parent under name as a KindMount node that forwards lookups.
// When caseFold is true, path components resolved inside the mounted
// subtree are upper-cased before lookup, matching FAT32's case-insensitive
// short-name comparison.
func Mount(parent Inode, name string, mountRoot Inode, caseFold bool) (Inode, *kernel.Error) {
	p := &nodes[parent]
	if p.kind != KindDir {
		return InvalidInode, errNotDir
	}
	if _, exists := p.children[name]; exists {
		return InvalidInode, errExists
	}

	id := alloc(node{name: name, kind: KindMount, parent: parent, mountRoot: mountRoot, caseFold: caseFold})
	nodes[parent].children[name] = id
	return id, nil
}

// Resolve resolves a path (absolute or, given a non-root cwd, relative) to
// an inode. "." and ".." are handled lexically. Resolution through a mount
// point continues inside the mounted subtree. Kernel-node names are
// compared case-sensitively; once resolution passes through a mount made
// with caseFold, every later component is upper-cased before lookup.
func Resolve(cwd Inode, path string) (Inode, *kernel.Error) {
	cur := cwd
	foldCase := false
	if strings.HasPrefix(path, "/") {
		cur = root
	}

	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = nodes[cur].parent
		default:
			n := &nodes[cur]
			switch n.kind {
			case KindMount:
				if n.caseFold {
					foldCase = true
				}
				cur = n.mountRoot
				n = &nodes[cur]
			case KindDir:
				// fallthrough to lookup below
			default:
				return InvalidInode, errNotDir
			}
			lookupName := part
			if foldCase {
				lookupName = strings.ToUpper(part)
			}
			next, ok := nodes[cur].children[lookupName]
			if !ok {
				return InvalidInode, errNotFound
			}
			cur = next
		}
	}

	if nodes[cur].kind == KindMount {
		cur = nodes[cur].mountRoot
	}
	return cur, nil
}

// StatNode reports size and kind for inode.
func StatNode(id Inode) Stat {
	n := &nodes[id]
	kind := n.kind
	if kind == KindMount {
		n = &nodes[n.mountRoot]
		kind = n.kind
	}
	return Stat{Size: n.size, Kind: kind}
}

// Read reads up to len(buf) bytes from inode id at offset.
func Read(id Inode, offset uint64, buf []byte) (int, *kernel.Error) {
	n := &nodes[id]
	if n.kind == KindMount {
		n = &nodes[n.mountRoot]
	}
	if n.read == nil {
		return 0, errNotReadable
	}
	return n.read(offset, buf)
}

// Write writes buf to the character device at inode id.
func Write(id Inode, buf []byte) (int, *kernel.Error) {
	n := &nodes[id]
	if n.kind == KindMount {
		n = &nodes[n.mountRoot]
	}
	if n.write == nil {
		return 0, errNotWriteable
	}
	return n.write(buf)
}

// Name returns a node's own (non-path-qualified) name.
func Name(id Inode) string {
	return nodes[id].name
}

// List returns the names of a directory's direct children.
func List(id Inode) ([]string, *kernel.Error) {
	n := &nodes[id]
	if n.kind == KindMount {
		n = &nodes[n.mountRoot]
	}
	if n.kind != KindDir {
		return nil, errNotDir
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	return names, nil
}
