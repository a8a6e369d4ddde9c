package vfs

import (
	"kestrel/kernel"
	"testing"
)

func TestResolveDirectoriesAndFiles(t *testing.T) {
	resetTree()

	mnt, err := Mkdir(Root(), "mnt")
	if err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	content := []byte("hello")
	readFn := func(offset uint64, buf []byte) (int, *kernel.Error) {
		if offset >= uint64(len(content)) {
			return 0, nil
		}
		n := copy(buf, content[offset:])
		return n, nil
	}
	if _, err := CreateFile(mnt, "test.txt", uint64(len(content)), readFn); err != nil {
		t.Fatalf("create file failed: %v", err)
	}

	id, err := Resolve(Root(), "/mnt/test.txt")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := Read(id, 0, buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected prefix 'hello'; got %q", buf[:n])
	}

	if st := StatNode(id); st.Size != 5 || st.Kind != KindFile {
		t.Fatalf("unexpected stat: %+v", st)
	}
}

func TestResolveDotDot(t *testing.T) {
	resetTree()

	a, _ := Mkdir(Root(), "a")
	b, _ := Mkdir(a, "b")

	id, err := Resolve(b, "../../a")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if id != a {
		t.Fatalf("expected to resolve back to 'a'; got inode %d (a=%d)", id, a)
	}
}

func TestResolveNotFound(t *testing.T) {
	resetTree()

	if _, err := Resolve(Root(), "/nope"); err != errNotFound {
		t.Fatalf("expected errNotFound; got %v", err)
	}
}

func TestResolveThroughMount(t *testing.T) {
	resetTree()

	initramfsRoot := alloc(node{name: "/", kind: KindDir, parent: InvalidInode, children: map[string]Inode{}})
	if _, err := CreateFile(initramfsRoot, "init", 0, func(uint64, []byte) (int, *kernel.Error) { return 0, nil }); err != nil {
		t.Fatalf("create file failed: %v", err)
	}

	if _, err := Mount(Root(), "mnt", initramfsRoot, false); err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	id, err := Resolve(Root(), "/mnt/init")
	if err != nil {
		t.Fatalf("resolve through mount failed: %v", err)
	}
	if Name(id) != "init" {
		t.Fatalf("expected to resolve the mounted file; got %q", Name(id))
	}
}

func TestMountCaseFold(t *testing.T) {
	resetTree()

	fatRoot := alloc(node{name: "/", kind: KindDir, parent: InvalidInode, children: map[string]Inode{}})
	nodes[fatRoot].children["TEST.TXT"] = alloc(node{name: "TEST.TXT", kind: KindFile, parent: fatRoot})

	if _, err := Mount(Root(), "initramfs", fatRoot, true); err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	if _, err := Resolve(Root(), "/initramfs/test.txt"); err != nil {
		t.Fatalf("expected case-insensitive resolve to succeed: %v", err)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	resetTree()

	Mkdir(Root(), "dup")
	if _, err := Mkdir(Root(), "dup"); err != errExists {
		t.Fatalf("expected errExists; got %v", err)
	}
}

func TestDevNodesReadWrite(t *testing.T) {
	resetTree()

	var written []byte
	dev, err := MountDev(
		func(uint64, []byte) (int, *kernel.Error) { return 0, nil },
		func(buf []byte) (int, *kernel.Error) { written = append(written, buf...); return len(buf), nil },
		func(buf []byte) (int, *kernel.Error) { return len(buf), nil },
	)
	if err != nil {
		t.Fatalf("MountDev failed: %v", err)
	}

	id, err := Resolve(dev, "stdout")
	if err != nil {
		t.Fatalf("resolve /dev/stdout failed: %v", err)
	}
	n, err := Write(id, []byte("hi"))
	if err != nil || n != 2 {
		t.Fatalf("write failed: n=%d err=%v", n, err)
	}
	if string(written) != "hi" {
		t.Fatalf("expected stdout callback to observe 'hi'; got %q", written)
	}
}
