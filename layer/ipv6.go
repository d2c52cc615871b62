package layer

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mel2oo/pcapcore/optionals"
	"github.com/pkg/errors"
)

// IPv6 is a decoded IPv6 header plus the result of walking its extension
// header chain (§4.1's IPv6 handling: Hop-by-Hop, Routing, AH, Destination
// Options and Mobility are skipped over in turn until a true upper-layer
// protocol, a Fragment header or an ESP header is reached).
type IPv6 struct {
	Src, Dst   netip.Addr
	NextHeader uint8 // the upper-layer protocol, after skipping extension headers
	HopLimit   uint8
	PayloadLen uint16
	Payload    []byte // bytes after the last extension header walked (after the Fragment header, if any)
	Fragment   optionals.Optional[IPv6Fragment]
}

// IPv6Fragment is the IPv6 Fragment extension header (RFC 8200 §4.5).
type IPv6Fragment struct {
	Identification uint32
	FragOffset     uint16 // in 8-byte units
	MoreFragments  bool
}

// DecodeIPv6 parses the fixed IPv6 header and walks any extension headers,
// stopping at the first upper-layer protocol, Fragment header or ESP header.
func DecodeIPv6(data []byte) (IPv6, error) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return IPv6{}, errors.Wrap(ErrFrameTooShort, err.Error())
	}

	src, ok := netip.AddrFromSlice(ip.SrcIP.To16())
	if !ok {
		return IPv6{}, errors.New("layer: malformed ipv6 source address")
	}
	dst, ok := netip.AddrFromSlice(ip.DstIP.To16())
	if !ok {
		return IPv6{}, errors.New("layer: malformed ipv6 destination address")
	}

	out := IPv6{
		Src:        src,
		Dst:        dst,
		HopLimit:   ip.HopLimit,
		PayloadLen: ip.Length,
	}

	next := uint8(ip.NextHeader)
	payload := ip.Payload
	for {
		switch next {
		case ProtoHopByHop, ProtoDstOpts, ProtoRouting, ProtoMobility:
			if len(payload) < 2 {
				return IPv6{}, errors.Wrap(ErrFrameTooShort, "ipv6 extension header")
			}
			next = payload[0]
			// length field is in 8-byte units, not counting the first 8 bytes.
			hdrLen := (int(payload[1]) + 1) * 8
			if len(payload) < hdrLen {
				return IPv6{}, errors.Wrap(ErrFrameTooShort, "ipv6 extension header body")
			}
			payload = payload[hdrLen:]
			continue

		case ProtoAH:
			// AH's length field is in 4-byte units, minus 2, per RFC 4302 §2.2.
			if len(payload) < 2 {
				return IPv6{}, errors.Wrap(ErrFrameTooShort, "ipv6 ah header")
			}
			next = payload[0]
			hdrLen := (int(payload[1]) + 2) * 4
			if len(payload) < hdrLen {
				return IPv6{}, errors.Wrap(ErrFrameTooShort, "ipv6 ah body")
			}
			payload = payload[hdrLen:]
			continue

		case ProtoFragment:
			if len(payload) < 8 {
				return IPv6{}, errors.Wrap(ErrFrameTooShort, "ipv6 fragment header")
			}
			next = payload[0]
			offsetAndFlags := binary.BigEndian.Uint16(payload[2:4])
			out.Fragment = optionals.Some(IPv6Fragment{
				Identification: binary.BigEndian.Uint32(payload[4:8]),
				FragOffset:     offsetAndFlags >> 3,
				MoreFragments:  offsetAndFlags&0x1 != 0,
			})
			payload = payload[8:]
			// A Fragment header ends the chain walk: only the first fragment
			// carries the rest of the extension headers, and reassembly owns
			// interpreting them once the datagram is whole.
			out.NextHeader = next
			out.Payload = payload
			return out, nil

		case ProtoESP:
			// ESP's payload is opaque without decryption; stop walking and
			// hand the still-encrypted body up as an opaque blob.
			out.NextHeader = ProtoESP
			out.Payload = payload
			return out, nil

		default:
			out.NextHeader = next
			out.Payload = payload
			return out, nil
		}
	}
}
