package process

import (
	"kestrel/kernel"
	"kestrel/kernel/vfs"
)

const maxOpenFiles = 32

var (
	errTooManyOpenFiles = &kernel.Error{Module: "process", Message: "too many open files"}
	errBadFD            = &kernel.Error{Module: "process", Message: "bad file descriptor"}
)

// fd is one file descriptor table slot: Free -> Open(node, pos) -> Free.
type fd struct {
	open bool
	node vfs.Inode
	pos  uint64
}

// FDTable is a per-process slot table. Slots 0/1/2 are reserved for
// stdin/stdout/stderr and are populated by newFDTable from the process's
// /dev nodes; Open allocates the lowest free slot.
type FDTable struct {
	slots [maxOpenFiles]fd
}

// newFDTable builds a table with stdin/stdout/stderr pre-opened at slots
// 0, 1 and 2.
func newFDTable(stdin, stdout, stderr vfs.Inode) *FDTable {
	t := &FDTable{}
	t.slots[0] = fd{open: true, node: stdin}
	t.slots[1] = fd{open: true, node: stdout}
	t.slots[2] = fd{open: true, node: stderr}
	return t
}

// Open allocates the lowest free slot for node and returns its descriptor
// number.
func (t *FDTable) Open(node vfs.Inode) (int, *kernel.Error) {
	for i := range t.slots {
		if !t.slots[i].open {
			t.slots[i] = fd{open: true, node: node}
			return i, nil
		}
	}
	return -1, errTooManyOpenFiles
}

// Close frees descriptor num.
func (t *FDTable) Close(num int) *kernel.Error {
	if num < 0 || num >= maxOpenFiles || !t.slots[num].open {
		return errBadFD
	}
	t.slots[num] = fd{}
	return nil
}

// Read reads into buf from descriptor num at its current position and
// advances it by the number of bytes actually read.
func (t *FDTable) Read(num int, buf []byte) (int, *kernel.Error) {
	if num < 0 || num >= maxOpenFiles || !t.slots[num].open {
		return 0, errBadFD
	}
	s := &t.slots[num]
	n, err := vfs.Read(s.node, s.pos, buf)
	if err != nil {
		return 0, err
	}
	s.pos += uint64(n)
	return n, nil
}

// Write writes buf to descriptor num.
func (t *FDTable) Write(num int, buf []byte) (int, *kernel.Error) {
	if num < 0 || num >= maxOpenFiles || !t.slots[num].open {
		return 0, errBadFD
	}
	return vfs.Write(t.slots[num].node, buf)
}

// Stat reports the node behind descriptor num.
func (t *FDTable) Stat(num int) (vfs.Stat, *kernel.Error) {
	if num < 0 || num >= maxOpenFiles || !t.slots[num].open {
		return vfs.Stat{}, errBadFD
	}
	return vfs.StatNode(t.slots[num].node), nil
}
