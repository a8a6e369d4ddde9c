package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// PortWriteByte writes val to the given I/O port using the OUT instruction.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a byte from the given I/O port using the IN instruction.
func PortReadByte(port uint16) uint8

// PortWriteWord writes a 16-bit value to the given I/O port, used by
// devices (e.g. the RTL8139's CAPR/IMR/ISR registers) that are word-wide.
func PortWriteWord(port uint16, val uint16)

// PortReadWord reads a 16-bit value from the given I/O port.
func PortReadWord(port uint16) uint16

// PortWriteLong writes a 32-bit value to the given I/O port, used for the
// PCI configuration address/data port pair (0xCF8/0xCFC) and other
// dword-wide device registers.
func PortWriteLong(port uint16, val uint32)

// PortReadLong reads a 32-bit value from the given I/O port.
func PortReadLong(port uint16) uint32

// IOWait performs a short delay by writing to an unused I/O port (0x80),
// giving older hardware (e.g. the 8259A PIC) time to process the previous
// OUT before the next one is issued.
func IOWait()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// Breakpoint executes an int3 instruction, trapping into the Breakpoint
// exception handler registered via kernel/irq.
func Breakpoint()

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
