package layer

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// IPv4 is a decoded IPv4 header. TotalLength is the header's own claim about the
// datagram's total length, which the dispatcher uses to re-slice the buffer
// before handing it onward (original_source's handle_l3_ipv4 does the same
// re-slice, guarding against trailing link-layer padding).
type IPv4 struct {
	Src, Dst       netip.Addr
	Protocol       uint8
	TotalLength    uint16
	Identification uint16
	FragOffset     uint16 // in 8-byte units, as on the wire
	MoreFragments  bool
	DontFragment   bool
	Payload        []byte
}

// DecodeIPv4 parses an IPv4 header. It does not verify the header checksum;
// VerifyIPv4Checksum does that separately.
func DecodeIPv4(data []byte) (IPv4, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return IPv4{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}

	src, ok := netip.AddrFromSlice(ip.SrcIP.To4())
	if !ok {
		return IPv4{}, errors.New("layer: malformed ipv4 source address")
	}
	dst, ok := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok {
		return IPv4{}, errors.New("layer: malformed ipv4 destination address")
	}

	return IPv4{
		Src:            src,
		Dst:            dst,
		Protocol:       uint8(ip.Protocol),
		TotalLength:    ip.Length,
		Identification: ip.Id,
		FragOffset:     ip.FragOffset,
		MoreFragments:  ip.Flags&layers.IPv4MoreFragments != 0,
		DontFragment:   ip.Flags&layers.IPv4DontFragment != 0,
		Payload:        ip.Payload,
	}, nil
}

// IsFragment reports whether this header describes a fragment that is part
// of a larger datagram: either it carries more-fragments, or it starts at a
// nonzero offset.
func (ip IPv4) IsFragment() bool {
	return ip.MoreFragments || ip.FragOffset != 0
}

// L4Proto values used across the dispatcher and the IPv6 next-header chain,
// named here since IPv4 and IPv6 share the protocol number space (IANA
// assigned protocol numbers).
const (
	ProtoICMPv4   = 1
	ProtoTCP      = 6
	ProtoUDP      = 17
	ProtoGRE      = 47
	ProtoIPv6     = 41 // IPv6-in-IPv4 (6in4) / IPv6 next-header value for encapsulated IPv6
	ProtoICMPv6   = 58
	ProtoHopByHop = 0
	ProtoRouting  = 43
	ProtoFragment = 44
	ProtoESP      = 50
	ProtoAH       = 51
	ProtoNoNext   = 59
	ProtoDstOpts  = 60
	ProtoMobility = 135
)
