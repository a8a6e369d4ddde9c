package net

import "encoding/binary"

const (
	ethHeaderLen = 14
	ethTypeIPv4  = 0x0800
	ethTypeARP   = 0x0806
)

// BroadcastMAC is the all-ones Ethernet destination address.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// buildEthernetFrame prepends a 14-byte Ethernet header to payload and
// returns the resulting frame.
func buildEthernetFrame(dst, src MAC, etherType uint16, payload []byte) []byte {
	frame := make([]byte, ethHeaderLen+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	copy(frame[ethHeaderLen:], payload)
	return frame
}

// parseEthernetFrame splits frame into its header fields and payload. It
// returns ok=false if frame is shorter than a valid Ethernet header.
func parseEthernetFrame(frame []byte) (dst, src MAC, etherType uint16, payload []byte, ok bool) {
	if len(frame) < ethHeaderLen {
		return MAC{}, MAC{}, 0, nil, false
	}
	copy(dst[:], frame[0:6])
	copy(src[:], frame[6:12])
	etherType = binary.BigEndian.Uint16(frame[12:14])
	payload = frame[ethHeaderLen:]
	return dst, src, etherType, payload, true
}

const (
	arpPacketLen = 28

	arpHTypeEthernet = 1
	arpOperRequest   = 1
	arpOperReply     = 2
)

type arpPacket struct {
	oper    uint16
	senderMAC MAC
	senderIP  IPv4
	targetMAC MAC
	targetIP  IPv4
}

func encodeARP(p arpPacket) []byte {
	b := make([]byte, arpPacketLen)
	binary.BigEndian.PutUint16(b[0:2], arpHTypeEthernet)
	binary.BigEndian.PutUint16(b[2:4], ethTypeIPv4)
	b[4] = 6 // hardware address length
	b[5] = 4 // protocol address length
	binary.BigEndian.PutUint16(b[6:8], p.oper)
	copy(b[8:14], p.senderMAC[:])
	copy(b[14:18], p.senderIP[:])
	copy(b[18:24], p.targetMAC[:])
	copy(b[24:28], p.targetIP[:])
	return b
}

func decodeARP(payload []byte) (arpPacket, bool) {
	if len(payload) < arpPacketLen {
		return arpPacket{}, false
	}
	if binary.BigEndian.Uint16(payload[0:2]) != arpHTypeEthernet ||
		binary.BigEndian.Uint16(payload[2:4]) != ethTypeIPv4 {
		return arpPacket{}, false
	}

	var p arpPacket
	p.oper = binary.BigEndian.Uint16(payload[6:8])
	copy(p.senderMAC[:], payload[8:14])
	copy(p.senderIP[:], payload[14:18])
	copy(p.targetMAC[:], payload[18:24])
	copy(p.targetIP[:], payload[24:28])
	return p, true
}
