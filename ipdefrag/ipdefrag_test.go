package ipdefrag_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/mel2oo/pcapcore/ipdefrag"
	"github.com/stretchr/testify/require"
)

func testKey() ipdefrag.Key {
	return ipdefrag.Key{
		Identification: 42,
		Src:            netip.MustParseAddr("10.0.0.1"),
		Dst:            netip.MustParseAddr("10.0.0.2"),
		Protocol:       6,
	}
}

func TestUpdateNoFragReturnsImmediately(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	payload, res := d.Update(testKey(), 0, false, []byte("hello"), time.Unix(0, 0))
	require.Equal(t, ipdefrag.NoFrag, res)
	require.Equal(t, []byte("hello"), payload)
	require.Equal(t, 0, d.Len())
}

func TestReassemblesTwoFragmentsInOrder(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	now := time.Unix(0, 0)

	_, res := d.Update(testKey(), 0, true, []byte("HELLO,"), now)
	require.Equal(t, ipdefrag.Incomplete, res)
	require.Equal(t, 1, d.Len())

	payload, res := d.Update(testKey(), 6, false, []byte(" WORLD"), now)
	require.Equal(t, ipdefrag.Complete, res)
	require.Equal(t, []byte("HELLO, WORLD"), payload)
	require.Equal(t, 0, d.Len())
}

func TestReassemblesOutOfOrderFragments(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	now := time.Unix(0, 0)

	_, res := d.Update(testKey(), 6, false, []byte(" WORLD"), now)
	require.Equal(t, ipdefrag.Incomplete, res)

	payload, res := d.Update(testKey(), 0, true, []byte("HELLO,"), now)
	require.Equal(t, ipdefrag.Complete, res)
	require.Equal(t, []byte("HELLO, WORLD"), payload)
}

func TestDistinctKeysDoNotInterfere(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	now := time.Unix(0, 0)
	k2 := testKey()
	k2.Identification = 99

	d.Update(testKey(), 0, true, []byte("AAAA"), now)
	d.Update(k2, 0, true, []byte("BBBB"), now)
	require.Equal(t, 2, d.Len())

	_, res := d.Update(testKey(), 4, false, []byte("CCCC"), now)
	require.Equal(t, ipdefrag.Complete, res)
	require.Equal(t, 1, d.Len())
}

func TestExpiredReassemblyIsEvicted(t *testing.T) {
	d := ipdefrag.New(time.Second)
	start := time.Unix(0, 0)

	d.Update(testKey(), 0, true, []byte("AAAA"), start)
	require.Equal(t, 1, d.Len())

	k2 := testKey()
	k2.Identification = 7
	d.Update(k2, 0, true, []byte("BBBB"), start.Add(2*time.Second))

	require.Equal(t, 1, d.Len(), "the stale reassembly should have been evicted, leaving only the new one")
}

func TestOverlappingFragmentIsAnError(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	now := time.Unix(0, 0)

	d.Update(testKey(), 0, true, []byte("AAAA"), now)
	payload, res := d.Update(testKey(), 2, false, []byte("ZZ"), now)
	require.Equal(t, ipdefrag.Error, res)
	require.Nil(t, payload, "a fragment overlapping bytes already covered rejects the whole datagram")
}

func TestFragmentPastClaimedLengthIsAnError(t *testing.T) {
	d := ipdefrag.New(time.Minute)
	now := time.Unix(0, 0)

	// This fragment claims bytes [10, 20), but the final fragment arriving
	// next says the datagram is only 5 bytes long.
	_, res := d.Update(testKey(), 10, true, []byte("XXXXXXXXXX"), now)
	require.Equal(t, ipdefrag.Incomplete, res)

	_, res = d.Update(testKey(), 0, false, []byte("AAAAA"), now)
	require.Equal(t, ipdefrag.Error, res)
}
