// Package layer provides typed, read-only views over the byte buffers the
// decapsulation dispatcher hands it: Ethernet, 802.1Q, IPv4, IPv6 (with its
// extension header chain), TCP, UDP, ICMPv4/ICMPv6, and the tunnel headers
// (GRE, VXLAN, ERSPAN, PPP, PPPoE) spec.md §4.1 names. Where gopacket/layers
// already has a stable DecodingLayer for a protocol (Ethernet, Dot1Q, IPv4,
// IPv6, TCP, UDP, ICMPv4, ICMPv6) this package decodes through it instead of
// re-deriving byte offsets; the tunnel headers, whose exact framing is the
// thing spec.md spells out byte-by-byte, are decoded by hand.
package layer

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// Cisco control-plane destination MACs that must never reach L3 dispatch
// (spec.md §4.1 step 4): CDP/VTP/UDLD and the Cisco multicast address.
var ciscoControlMACs = [2][6]byte{
	{0x01, 0x00, 0x0c, 0xcc, 0xcc, 0xcc},
	{0x01, 0x00, 0x0c, 0xcd, 0xcd, 0xd0},
}

// Ethernet is a decoded Ethernet II frame header.
type Ethernet struct {
	SrcMAC, DstMAC gopacket.Endpoint
	EtherType      uint16
	Payload        []byte
}

// ErrFrameTooShort is returned when a buffer is too small to hold the
// header being decoded.
var ErrFrameTooShort = errors.New("layer: frame too short")

// ErrControlFrame is returned for Ethernet frames addressed to a reserved
// Cisco control-plane multicast MAC; the caller must drop the frame without
// further dispatch.
var ErrControlFrame = errors.New("layer: cisco control-plane frame")

// DecodeEthernet parses a 14-byte-or-longer Ethernet II header.
func DecodeEthernet(data []byte) (Ethernet, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return Ethernet{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}

	for _, mac := range ciscoControlMACs {
		if macEqual(eth.DstMAC, mac[:]) {
			return Ethernet{}, ErrControlFrame
		}
	}

	return Ethernet{
		SrcMAC:    eth.SrcMAC.Endpoint(),
		DstMAC:    eth.DstMAC.Endpoint(),
		EtherType: uint16(eth.EthernetType),
		Payload:   eth.Payload,
	}, nil
}

func macEqual(mac, want []byte) bool {
	if len(mac) != len(want) {
		return false
	}
	for i := range mac {
		if mac[i] != want[i] {
			return false
		}
	}
	return true
}

// EtherType values the dispatcher switches on, named for readability at
// call sites (spec.md §4.1's L3 dispatch table).
const (
	EtherTypeIPv4   = 0x0800
	EtherTypeARP    = 0x0806
	EtherTypeVLAN   = 0x8100
	EtherTypeIPv6   = 0x86DD
	EtherTypePPP    = 0x880B
	EtherTypePPPoE  = 0x8864
	EtherTypeERSPAN = 0x88BE
)

// Dot1Q is a decoded 802.1Q VLAN tag.
type Dot1Q struct {
	VLANIdentifier uint16
	EtherType      uint16
	Payload        []byte
}

// DecodeDot1Q parses a 4-byte 802.1Q tag.
func DecodeDot1Q(data []byte) (Dot1Q, error) {
	var d1q layers.Dot1Q
	if err := d1q.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return Dot1Q{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}
	return Dot1Q{
		VLANIdentifier: d1q.VLANIdentifier,
		EtherType:      uint16(d1q.Type),
		Payload:        d1q.Payload,
	}, nil
}
