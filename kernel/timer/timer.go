// Package timer programs the 8253/8254 Programmable Interval Timer to raise
// IRQ0 at a fixed interval and maintains a monotonic millisecond counter
// driven off that interrupt.
package timer

import (
	"kestrel/kernel/cpu"
	"kestrel/kernel/irq"
	"kestrel/kernel/sync"
	"sync/atomic"
)

const (
	pitChannel0Data = 0x40
	pitCommand      = 0x43

	// pitFrequency is the PIT's fixed oscillator frequency in Hz.
	pitFrequency = 1193182

	// tickHz is the rate at which IRQ0 fires. 1000Hz gives a 1ms tick.
	tickHz = 1000

	pitModeSquareWave = 0x36 // channel 0, lobyte/hibyte, mode 3, binary
)

var (
	portWriteByteFn = cpu.PortWriteByte
	handleIRQFn     = irq.HandleIRQ

	uptimeMs uint64

	hooksLock sync.Spinlock
	hooks     []func(nowMs uint64)
)

// Init programs the PIT for a 1ms tick and registers the IRQ0 handler. Must
// be called after RemapPIC.
func Init() {
	divisor := uint16(pitFrequency / tickHz)

	portWriteByteFn(pitCommand, pitModeSquareWave)
	portWriteByteFn(pitChannel0Data, uint8(divisor&0xff))
	portWriteByteFn(pitChannel0Data, uint8(divisor>>8))

	handleIRQFn(0, onTick)
}

// RegisterTickHook registers fn to be invoked, with the current uptime in
// milliseconds, on every timer tick. Hooks run in interrupt context and must
// not block.
func RegisterTickHook(fn func(nowMs uint64)) {
	hooksLock.Acquire()
	hooks = append(hooks, fn)
	hooksLock.Release()
}

// Uptime returns the number of milliseconds elapsed since Init was called.
func Uptime() uint64 {
	return atomic.LoadUint64(&uptimeMs)
}

func onTick(_ uint8, _ *irq.Regs) {
	now := atomic.AddUint64(&uptimeMs, 1)

	hooksLock.Acquire()
	for _, fn := range hooks {
		fn(now)
	}
	hooksLock.Release()
}
