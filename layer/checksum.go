package layer

import (
	"encoding/binary"
	"net/netip"
)

// checksum computes the Internet checksum (RFC 1071): the one's-complement
// sum of data's 16-bit words, folded to 16 bits and complemented. Run over
// a header that already carries its own checksum field, a valid header
// sums to zero.
func checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// VerifyIPv4Checksum reports whether data's IPv4 header checksum is valid.
// data must start at the IPv4 header; only the header itself (the first
// ip.IHL*4 bytes) participates, per RFC 791 §3.1.
func VerifyIPv4Checksum(data []byte) bool {
	if len(data) < 20 {
		return false
	}
	ihl := int(data[0]&0x0F) * 4
	if ihl < 20 || len(data) < ihl {
		return false
	}
	return checksum(data[:ihl]) == 0
}

// VerifyICMPv4Checksum reports whether an ICMPv4 message's checksum is
// valid. Unlike ICMPv6, ICMPv4's checksum covers only the message itself
// (type, code, checksum, and payload) with no pseudo-header.
func VerifyICMPv4Checksum(data []byte) bool {
	return checksum(data) == 0
}

// VerifyICMPv6Checksum reports whether an ICMPv6 message's checksum is
// valid. The checksum folds in an IPv6 pseudo-header (RFC 8200 §8.1):
// source address, destination address, upper-layer packet length, and next
// header, zero-padded to a 32-bit boundary.
func VerifyICMPv6Checksum(src, dst netip.Addr, data []byte) bool {
	pseudo := make([]byte, 40, 40+len(data))
	s16 := src.As16()
	d16 := dst.As16()
	copy(pseudo[0:16], s16[:])
	copy(pseudo[16:32], d16[:])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(data)))
	pseudo[39] = ProtoICMPv6
	pseudo = append(pseudo, data...)
	return checksum(pseudo) == 0
}
