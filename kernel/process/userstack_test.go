package process

import (
	"encoding/binary"
	"testing"
)

func TestSetupUserStackLayout(t *testing.T) {
	f := newFakeAddressSpace()
	restore := installFakeMemHooks(f)
	defer restore()

	argv := []string{"prog", "arg1"}
	envp := []string{"HOME=/"}

	rsp, err := setupUserStack(f, argv, envp)
	if err != nil {
		t.Fatalf("setupUserStack failed: %v", err)
	}
	if rsp%16 != 0 {
		t.Fatalf("expected 16-byte aligned RSP, got %#x", rsp)
	}

	backing, off := f.bytesAt(rsp)
	if backing == nil {
		t.Fatalf("RSP does not fall within the mapped stack region")
	}

	argc := binary.LittleEndian.Uint64(backing[off : off+8])
	if argc != uint64(len(argv)) {
		t.Fatalf("expected argc %d, got %d", len(argv), argc)
	}

	argv0Ptr := binary.LittleEndian.Uint64(backing[off+8 : off+16])
	argv1Ptr := binary.LittleEndian.Uint64(backing[off+16 : off+24])
	argvNull := binary.LittleEndian.Uint64(backing[off+24 : off+32])
	if argvNull != 0 {
		t.Fatalf("expected NULL terminator after argv, got %#x", argvNull)
	}

	envPtr := binary.LittleEndian.Uint64(backing[off+32 : off+40])
	envNull := binary.LittleEndian.Uint64(backing[off+40 : off+48])
	if envNull != 0 {
		t.Fatalf("expected NULL terminator after envp, got %#x", envNull)
	}

	readCString := func(addr uint64) string {
		b, o := f.bytesAt(uintptr(addr))
		end := o
		for b[end] != 0 {
			end++
		}
		return string(b[o:end])
	}

	if got := readCString(argv0Ptr); got != "prog" {
		t.Fatalf("argv[0]: got %q", got)
	}
	if got := readCString(argv1Ptr); got != "arg1" {
		t.Fatalf("argv[1]: got %q", got)
	}
	if got := readCString(envPtr); got != "HOME=/" {
		t.Fatalf("envp[0]: got %q", got)
	}
}

func TestSetupUserStackEmptyArgvEnvp(t *testing.T) {
	f := newFakeAddressSpace()
	restore := installFakeMemHooks(f)
	defer restore()

	rsp, err := setupUserStack(f, nil, nil)
	if err != nil {
		t.Fatalf("setupUserStack failed: %v", err)
	}
	if rsp%16 != 0 {
		t.Fatalf("expected 16-byte aligned RSP, got %#x", rsp)
	}

	backing, off := f.bytesAt(rsp)
	if argc := binary.LittleEndian.Uint64(backing[off : off+8]); argc != 0 {
		t.Fatalf("expected argc 0, got %d", argc)
	}
}
