package tcpreassembly

import (
	"net/netip"

	"github.com/mel2oo/pcapcore/layer"
)

// Segment is one TCP segment queued for a peer, with sequence numbers made
// relative to that peer's ISN so all downstream arithmetic deals in byte
// offsets from the start of the stream instead of wrapping 32-bit wire
// values.
type Segment struct {
	RelSeq    uint32
	RelAck    uint32
	Flags     layer.TCPFlags
	Data      []byte
	PacketIdx uint64 // caller-supplied index of the originating packet, for correlating delivered data back to its source
}

// Peer tracks one direction of a TCP connection: its address, its initial
// sequence numbers, and the segments it has sent that haven't yet been
// delivered to the application (acked by the other side).
type Peer struct {
	Addr netip.Addr
	Port uint16

	ISN          uint32 // this peer's initial sequence number
	IAN          uint32 // the initial sequence number this peer first acknowledged (the other peer's ISN)
	NextRelSeq   uint32 // relative sequence number of the next byte this peer is expected to send
	LastRelAck   uint32 // relative ack number last delivered via sendPeerSegments, for dedup
	Status       Status
	Segments     []Segment
}

// insertSorted inserts seg into p.Segments keeping the slice ordered by
// RelSeq, matching TcpPeer::insert_sorted's "insert before the first
// segment with a strictly greater rel_seq, else push to the back" rule.
func (p *Peer) insertSorted(seg Segment) {
	for i, s := range p.Segments {
		if s.RelSeq > seg.RelSeq {
			p.Segments = append(p.Segments, Segment{})
			copy(p.Segments[i+1:], p.Segments[i:])
			p.Segments[i] = seg
			return
		}
	}
	p.Segments = append(p.Segments, seg)
}

// popFront removes and returns the first queued segment, if any.
func (p *Peer) popFront() (Segment, bool) {
	if len(p.Segments) == 0 {
		return Segment{}, false
	}
	s := p.Segments[0]
	p.Segments = p.Segments[1:]
	return s, true
}

// front returns the first queued segment without removing it.
func (p *Peer) front() (Segment, bool) {
	if len(p.Segments) == 0 {
		return Segment{}, false
	}
	return p.Segments[0], true
}
