package layer_test

import (
	"net/netip"
	"testing"

	"github.com/mel2oo/pcapcore/layer"
	"github.com/stretchr/testify/require"
)

func validIPv4HeaderWithChecksum() []byte {
	h := make([]byte, 20)
	h[0] = 0x45
	h[8] = 64
	h[9] = 6
	copy(h[12:16], []byte{10, 0, 0, 1})
	copy(h[16:20], []byte{10, 0, 0, 2})
	// zero the checksum field before computing it, then fill it in.
	h[10], h[11] = 0, 0
	sum := ipv4HeaderChecksum(h)
	h[10] = byte(sum >> 8)
	h[11] = byte(sum)
	return h
}

// ipv4HeaderChecksum is a reference RFC 1071 implementation, independent of
// layer.checksum, used only to build a known-good header for the test.
func ipv4HeaderChecksum(h []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(h); i += 2 {
		sum += uint32(h[i])<<8 | uint32(h[i+1])
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

func TestVerifyIPv4ChecksumAcceptsValidHeader(t *testing.T) {
	h := validIPv4HeaderWithChecksum()
	require.True(t, layer.VerifyIPv4Checksum(h))
}

func TestVerifyIPv4ChecksumRejectsCorruptedHeader(t *testing.T) {
	h := validIPv4HeaderWithChecksum()
	h[12] ^= 0xFF // flip a byte of the source address
	require.False(t, layer.VerifyIPv4Checksum(h))
}

func TestVerifyICMPv4ChecksumRoundTrip(t *testing.T) {
	msg := []byte{0x08, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 'p', 'i', 'n', 'g'}
	sum := ipv4HeaderChecksum(msg)
	msg[2] = byte(sum >> 8)
	msg[3] = byte(sum)
	require.True(t, layer.VerifyICMPv4Checksum(msg))

	msg[8] ^= 0xFF
	require.False(t, layer.VerifyICMPv4Checksum(msg))
}

func TestVerifyICMPv6ChecksumRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("fe80::1")
	dst := netip.MustParseAddr("fe80::2")
	msg := []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 'p', 'i', 'n', 'g'}

	pseudo := make([]byte, 40)
	s16 := src.As16()
	d16 := dst.As16()
	copy(pseudo[0:16], s16[:])
	copy(pseudo[16:32], d16[:])
	pseudo[35] = byte(len(msg))
	pseudo[39] = layer.ProtoICMPv6
	sum := ipv4HeaderChecksum(append(pseudo, msg...))
	msg[2] = byte(sum >> 8)
	msg[3] = byte(sum)

	require.True(t, layer.VerifyICMPv6Checksum(src, dst, msg))

	msg[8] ^= 0xFF
	require.False(t, layer.VerifyICMPv6Checksum(src, dst, msg))
}
