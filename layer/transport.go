package layer

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// TCPFlags mirrors the subset of TCP control bits the reassembler switches
// on, packed as a small bitmask so tcpreassembly can test them without
// depending on this package's decoded struct shape.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
)

// TCP is a decoded TCP segment header.
type TCP struct {
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	Window           uint16
	Payload          []byte
}

// DecodeTCP parses a TCP segment header, including variable-length options.
func DecodeTCP(data []byte) (TCP, error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return TCP{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}

	var flags TCPFlags
	if tcp.FIN {
		flags |= FlagFIN
	}
	if tcp.SYN {
		flags |= FlagSYN
	}
	if tcp.RST {
		flags |= FlagRST
	}
	if tcp.PSH {
		flags |= FlagPSH
	}
	if tcp.ACK {
		flags |= FlagACK
	}
	if tcp.URG {
		flags |= FlagURG
	}

	return TCP{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Flags:   flags,
		Window:  tcp.Window,
		Payload: tcp.Payload,
	}, nil
}

// UDP is a decoded UDP datagram header.
type UDP struct {
	SrcPort, DstPort uint16
	Payload          []byte
}

// DecodeUDP parses an 8-byte UDP header.
func DecodeUDP(data []byte) (UDP, error) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return UDP{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}
	return UDP{
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Payload: udp.Payload,
	}, nil
}

// ICMPv4 is a decoded ICMPv4 message header.
type ICMPv4 struct {
	Type, Code uint8
	Payload    []byte
}

// DecodeICMPv4 parses an ICMPv4 header.
func DecodeICMPv4(data []byte) (ICMPv4, error) {
	var icmp layers.ICMPv4
	if err := icmp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return ICMPv4{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}
	return ICMPv4{
		Type:    icmp.TypeCode.Type(),
		Code:    icmp.TypeCode.Code(),
		Payload: icmp.Payload,
	}, nil
}

// ICMPv6 is a decoded ICMPv6 message header.
type ICMPv6 struct {
	Type, Code uint8
	Payload    []byte
}

// DecodeICMPv6 parses an ICMPv6 header.
func DecodeICMPv6(data []byte) (ICMPv6, error) {
	var icmp layers.ICMPv6
	if err := icmp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return ICMPv6{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}
	return ICMPv6{
		Type:    icmp.TypeCode.Type(),
		Code:    icmp.TypeCode.Code(),
		Payload: icmp.Payload,
	}, nil
}
