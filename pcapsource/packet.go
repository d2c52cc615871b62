// Package pcapsource defines the contract between a packet source (a pcap
// or pcap-ng reader, or any other frame feed) and the dispatcher: a
// captured frame plus the context needed to interpret it. This mirrors the
// (Packet, ParseContext) pair libpcap-analyzer's PcapAnalyzer::handle_packet
// builds before handing a frame to the L2 dispatcher. The frame carries its
// pcap link type, and the dispatcher itself unwraps Ethernet (DLT_EN10MB),
// raw IP (DLT_RAW) and BSD loopback (DLT_NULL) framing; other link types
// are logged and dropped.
package pcapsource

import "github.com/mel2oo/pcapcore/flowtable"

// LinkType identifies the datalink framing a Frame was captured under, using
// the same numbering pcap's DLT_* constants do.
type LinkType int

const (
	LinkTypeNull     LinkType = 0
	LinkTypeEthernet LinkType = 1
	LinkTypeRaw      LinkType = 101
)

// Frame is one captured packet as handed to the dispatcher: the raw bytes
// exactly as captured, the link type they're framed in, and capture
// metadata.
type Frame struct {
	Index    uint64
	LinkType LinkType
	Data     []byte
	CapLen   int // bytes actually captured; may be less than len(Data) on a truncated snap length
	Seen     flowtable.Timestamp
}
