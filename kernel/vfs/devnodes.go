package vfs

import "kestrel/kernel"

// MountDev creates /dev and registers the fixed character devices every
// process's FD table 0/1/2 slots resolve through. stdinRead/stdoutWrite/
// stderrWrite are supplied by the console/tty driver and the PCI/UART
// drivers supply the remaining two once they are initialized.
func MountDev(stdinRead ReadFunc, stdoutWrite, stderrWrite WriteFunc) (dev Inode, err *kernel.Error) {
	dev, err = Mkdir(root, "dev")
	if err != nil {
		return InvalidInode, err
	}
	if _, err = CreateCharDev(dev, "stdin", stdinRead, nil); err != nil {
		return InvalidInode, err
	}
	if _, err = CreateCharDev(dev, "stdout", nil, stdoutWrite); err != nil {
		return InvalidInode, err
	}
	if _, err = CreateCharDev(dev, "stderr", nil, stderrWrite); err != nil {
		return InvalidInode, err
	}
	return dev, nil
}

// RegisterPCIBus publishes a synthesised text listing of the PCI
// enumeration at /dev/pci-bus. listing is recomputed on every read via the
// supplied callback so it always reflects the live bus state.
func RegisterPCIBus(dev Inode, listing ReadFunc) (Inode, *kernel.Error) {
	return CreateCharDev(dev, "pci-bus", listing, nil)
}

// RegisterUART publishes the serial driver at /dev/uart0 as a bidirectional
// passthrough character device.
func RegisterUART(dev Inode, read ReadFunc, write WriteFunc) (Inode, *kernel.Error) {
	return CreateCharDev(dev, "uart0", read, write)
}
