// Package flowtable implements the 5-tuple-keyed flow table: lookup,
// insertion with reverse-direction attachment, and the Flow record itself.
// It is grounded on the FiveTuple/Flow contract that
// libpcap-tools exposes to libpcap-analyzer's Analyzer (see
// analyzer.rs's lookup_flow/insert_flow), generalized from a plain HashMap
// into a lightly sharded table so the multi-threaded variant described in
// spec.md's concurrency model (shard packets by flow id) has a home.
package flowtable

import (
	"encoding/binary"
	"net/netip"

	"github.com/mel2oo/pcapcore/gid"
)

// ThreeTuple identifies a network-layer conversation: the EtherType that
// names the payload protocol, plus the two endpoint addresses.
type ThreeTuple struct {
	L3Proto uint16
	SrcIP   netip.Addr
	DstIP   netip.Addr
}

// FiveTuple identifies a directed transport-layer conversation. Equality is
// literal: FiveTuple{A,B,1,2,6} != FiveTuple{B,A,2,1,6}. Use Reverse to get
// the tuple of the opposite direction.
type FiveTuple struct {
	ThreeTuple
	SrcPort uint16
	DstPort uint16
	L4Proto uint8
}

// Reverse swaps source and destination addresses and ports, preserving both
// protocol fields.
func (t FiveTuple) Reverse() FiveTuple {
	rev := t
	rev.SrcIP, rev.DstIP = t.DstIP, t.SrcIP
	rev.SrcPort, rev.DstPort = t.DstPort, t.SrcPort
	return rev
}

// key packs the tuple into a byte form suitable for hashing. IPv4 and
// IPv6 addresses are encoded at their native width via netip.Addr.AsSlice,
// so the encoding never collides an IPv4 host with the IPv6-mapped form of
// the same bytes.
func (t FiveTuple) key() []byte {
	buf := make([]byte, 0, 2+1+2+16+16+2+2)
	buf = binary.BigEndian.AppendUint16(buf, t.L3Proto)
	buf = append(buf, t.L4Proto)
	buf = binary.BigEndian.AppendUint16(buf, t.SrcPort)
	buf = binary.BigEndian.AppendUint16(buf, t.DstPort)
	buf = append(buf, t.SrcIP.AsSlice()...)
	buf = append(buf, 0) // separator so a short src doesn't fuse with dst
	buf = append(buf, t.DstIP.AsSlice()...)
	return buf
}

// Flow is a bidirectional transport conversation: one canonical 5-tuple (the
// direction of the first packet observed) plus the span of time over which
// traffic for it has been seen.
type Flow struct {
	FlowID    gid.FlowID
	FiveTuple FiveTuple
	FirstSeen Timestamp
	LastSeen  Timestamp
}

// Timestamp is a capture timestamp with microsecond resolution, matching the
// (seconds, microseconds) pair pcap records carry.
type Timestamp struct {
	Sec  int64
	Usec int64
}

// Before reports whether t occurred strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	if t.Sec != other.Sec {
		return t.Sec < other.Sec
	}
	return t.Usec < other.Usec
}

// Sub returns t - other as a count of microseconds.
func (t Timestamp) Sub(other Timestamp) int64 {
	return (t.Sec-other.Sec)*1_000_000 + (t.Usec - other.Usec)
}
