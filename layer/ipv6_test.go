package layer_test

import (
	"encoding/binary"
	"testing"

	"github.com/mel2oo/pcapcore/layer"
	"github.com/stretchr/testify/require"
)

func ipv6Header(nextHeader uint8, payload []byte) []byte {
	hdr := make([]byte, 40)
	hdr[0] = 0x60
	binary.BigEndian.PutUint16(hdr[4:6], uint16(len(payload)))
	hdr[6] = nextHeader
	hdr[7] = 64 // hop limit
	src := []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	dst := []byte{0xfe, 0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2}
	copy(hdr[8:24], src)
	copy(hdr[24:40], dst)
	return append(hdr, payload...)
}

func TestDecodeIPv6NoExtensionHeaders(t *testing.T) {
	data := ipv6Header(layer.ProtoTCP, []byte("payload"))
	ip, err := layer.DecodeIPv6(data)
	require.NoError(t, err)
	require.Equal(t, uint8(layer.ProtoTCP), ip.NextHeader)
	require.Equal(t, []byte("payload"), ip.Payload)
	require.True(t, ip.Fragment.IsNone())
}

func TestDecodeIPv6WithFragmentHeader(t *testing.T) {
	frag := make([]byte, 8)
	frag[0] = layer.ProtoTCP
	offsetAndFlags := uint16(5<<3) | 0x1 // offset 5 units, more fragments set
	binary.BigEndian.PutUint16(frag[2:4], offsetAndFlags)
	binary.BigEndian.PutUint32(frag[4:8], 0xdeadbeef)

	body := append(frag, []byte("rest")...)
	data := ipv6Header(layer.ProtoFragment, body)

	ip, err := layer.DecodeIPv6(data)
	require.NoError(t, err)
	require.Equal(t, uint8(layer.ProtoTCP), ip.NextHeader)
	require.Equal(t, []byte("rest"), ip.Payload)

	f, ok := ip.Fragment.Get()
	require.True(t, ok)
	require.EqualValues(t, 0xdeadbeef, f.Identification)
	require.EqualValues(t, 5, f.FragOffset)
	require.True(t, f.MoreFragments)
}
