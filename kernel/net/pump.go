package net

import (
	"kestrel/kernel"
	"kestrel/kernel/exec"
	"kestrel/kernel/sync"
	"kestrel/kernel/timer"
)

// Sender is the narrow slice of kernel/driver/rtl8139.NIC the stack needs,
// mirroring that package's own deviceLister seam so Stack can be exercised
// against a fake link instead of a real NIC.
type Sender interface {
	Send(frame []byte) *kernel.Error
}

// IPv4Handler is invoked for every received frame whose EtherType is IPv4,
// with the sender's MAC and the IPv4 payload (Ethernet header stripped).
// The IP layer is not implemented; callers that want one install a hook
// here.
type IPv4Handler func(src MAC, payload []byte)

// Stack binds an ARP table and a link-layer Sender to one configured
// identity (MAC, IPv4) and owns the packet pump that drains frames handed
// to it by the NIC's receive handler.
type Stack struct {
	mac MAC
	ip  IPv4

	arp *ARPTable
	nic Sender

	onIPv4 IPv4Handler

	lock    sync.Spinlock
	rxQueue [][]byte
	waker   *exec.Waker

	uptimeFn func() uint64
}

// NewStack returns a stack identified by mac/ip, backed by nic for
// transmission and arp for address resolution.
func NewStack(mac MAC, ip IPv4, nic Sender, arp *ARPTable) *Stack {
	return &Stack{mac: mac, ip: ip, nic: nic, arp: arp, uptimeFn: timer.Uptime}
}

// SetIPv4Handler installs the callback invoked for received IPv4 frames.
func (s *Stack) SetIPv4Handler(h IPv4Handler) { s.onIPv4 = h }

// OnFrame is installed as the NIC's ReceiveHandler (rtl8139.ReceiveHandler).
// It runs in IRQ context: copy the frame (the NIC's buffer is only valid
// for the duration of the call), enqueue it, and wake the pump task.
func (s *Stack) OnFrame(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	s.lock.Acquire()
	s.rxQueue = append(s.rxQueue, cp)
	w := s.waker
	s.lock.Release()

	if w != nil {
		w.Signal()
	}
}

// popFrame removes and returns the oldest queued frame, or ok=false if the
// queue is empty.
func (s *Stack) popFrame() ([]byte, bool) {
	s.lock.Acquire()
	defer s.lock.Release()
	if len(s.rxQueue) == 0 {
		return nil, false
	}
	f := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]
	return f, true
}

// SpawnPump starts the packet pump task: it drains every queued frame,
// dispatching ARP requests/replies to the ARP table and anything else to
// the installed IPv4Handler, then suspends until OnFrame wakes it again.
// Returns the task's handle so callers don't need a package-level global.
func (s *Stack) SpawnPump() exec.TaskID {
	return exec.Spawn(func(w *exec.Waker) bool {
		s.lock.Acquire()
		s.waker = w
		s.lock.Release()

		for {
			frame, ok := s.popFrame()
			if !ok {
				return false // nothing to do, wait for OnFrame to wake us
			}
			s.dispatch(frame)
		}
	})
}

func (s *Stack) dispatch(frame []byte) {
	_, src, etherType, payload, ok := parseEthernetFrame(frame)
	if !ok {
		return
	}

	switch etherType {
	case ethTypeARP:
		s.handleARP(payload)
	case ethTypeIPv4:
		if s.onIPv4 != nil {
			s.onIPv4(src, payload)
		}
	}
}

func (s *Stack) handleARP(payload []byte) {
	pkt, ok := decodeARP(payload)
	if !ok {
		return
	}

	s.arp.Insert(pkt.senderIP, pkt.senderMAC, s.uptimeFn())

	if pkt.oper != arpOperRequest || pkt.targetIP != s.ip {
		return
	}

	reply := arpPacket{
		oper:      arpOperReply,
		senderMAC: s.mac,
		senderIP:  s.ip,
		targetMAC: pkt.senderMAC,
		targetIP:  pkt.senderIP,
	}
	frame := buildEthernetFrame(pkt.senderMAC, s.mac, ethTypeARP, encodeARP(reply))
	s.nic.Send(frame)
}

// RequestARP broadcasts an ARP request for ip, the first step of resolving
// an address not already present in the table.
func (s *Stack) RequestARP(ip IPv4) *kernel.Error {
	req := arpPacket{
		oper:      arpOperRequest,
		senderMAC: s.mac,
		senderIP:  s.ip,
		targetMAC: MAC{},
		targetIP:  ip,
	}
	frame := buildEthernetFrame(BroadcastMAC, s.mac, ethTypeARP, encodeARP(req))
	return s.nic.Send(frame)
}
