package tcpreassembly

import (
	"time"

	"github.com/mel2oo/pcapcore/internal/logging"
	"github.com/mel2oo/pcapcore/layer"
	"github.com/mel2oo/pcapcore/memview"
)

// Delivery is one contiguous run of acknowledged TCP payload handed to the
// caller, tagged with the direction it traveled and the packet that most
// recently extended it (send_single_segment's "synthetic packet carrying
// the delivered bytes", minus the synthetic-packet wrapping: callers here
// get the bytes and metadata directly instead of a re-injected Packet).
type Delivery struct {
	FromClient bool
	Data       []byte
	PacketIdx  uint64
}

// Stream holds the state of one TCP connection: a Peer for each direction
// plus the connection-level status used to pick which handler processes the
// next segment.
type Stream struct {
	Client, Server Peer
	Status         Status
}

// Packet is the subset of a decoded TCP segment the state machine needs,
// tagged with which side sent it.
type Packet struct {
	FromClient bool
	Seq, Ack   uint32
	Flags      layer.TCPFlags
	Data       []byte
	PacketIdx  uint64
	Seen       time.Time
}

func (s *Stream) originDest(fromClient bool) (origin, dest *Peer) {
	if fromClient {
		return &s.Client, &s.Server
	}
	return &s.Server, &s.Client
}

// handleNewConnection runs the handshake state machine (Closed, Listen,
// SynSent, SynRcv) for one incoming packet. It only updates peer state and
// returns nothing: no data is queued or delivered from a handshake packet.
func (s *Stream) handleNewConnection(pkt Packet) {
	origin, peer := s.originDest(pkt.FromClient)

	switch origin.Status {
	case StatusClosed:
		if pkt.Flags&layer.FlagRST != 0 {
			return
		}
		if pkt.Flags&layer.FlagSYN == 0 {
			logging.Warnf("tcpreassembly: non-SYN packet on a closed connection, ignoring")
			return
		}
		origin.ISN = pkt.Seq
		origin.NextRelSeq = 1
		peer.IAN = pkt.Seq
		origin.Status = StatusSynSent
		peer.Status = StatusListen

	case StatusListen:
		// expects the SYN+ACK completing the handshake started by the peer.
		if pkt.Ack != peer.ISN+1 {
			logging.Warnf("tcpreassembly: handshake failed, unexpected ack in LISTEN")
			origin.Status = StatusClosed
			peer.Status = StatusClosed
			return
		}
		origin.ISN = pkt.Seq
		origin.NextRelSeq = 1
		peer.IAN = pkt.Seq
		peer.LastRelAck = 1
		origin.Status = StatusSynRcv

	case StatusSynSent:
		if pkt.Ack != peer.ISN+1 {
			logging.Warnf("tcpreassembly: handshake failed, unexpected ack in SYN_SENT")
			origin.Status = StatusClosed
			peer.Status = StatusClosed
			return
		}
		origin.Status = StatusEstablished
		peer.Status = StatusEstablished
		peer.LastRelAck = 1

	case StatusSynRcv:
		origin.Status = StatusEstablished
		peer.Status = StatusEstablished
	}
}

// handleEstablishedConnection queues the segment and, if it acks data,
// delivers whatever that ack now covers.
func (s *Stream) handleEstablishedConnection(pkt Packet, out *[]Delivery) {
	origin, dest := s.originDest(pkt.FromClient)

	relSeq := pkt.Seq - origin.ISN
	relAck := pkt.Ack - dest.ISN

	queueSegment(origin, Segment{RelSeq: relSeq, RelAck: relAck, Flags: pkt.Flags, Data: pkt.Data, PacketIdx: pkt.PacketIdx})

	if pkt.Flags&layer.FlagACK != 0 {
		sendPeerSegments(dest, origin, relAck, !pkt.FromClient, out)
	}
}

// handleClosingConnection runs once either side has started a FIN/RST
// teardown.
func (s *Stream) handleClosingConnection(pkt Packet, out *[]Delivery) {
	origin, dest := s.originDest(pkt.FromClient)

	if pkt.Flags&layer.FlagRST != 0 {
		relSeq := pkt.Seq - origin.ISN
		kept := dest.Segments[:0]
		for _, seg := range dest.Segments {
			if seg.RelAck != relSeq {
				kept = append(kept, seg)
			}
		}
		dest.Segments = kept
		origin.Status = StatusClosed
		return
	}

	if pkt.Flags&layer.FlagACK != 0 {
		relAck := pkt.Ack - dest.ISN
		sendPeerSegments(dest, origin, relAck, !pkt.FromClient, out)
	}

	relSeq := pkt.Seq - origin.ISN
	relAck := pkt.Ack - dest.ISN
	queueSegment(origin, Segment{RelSeq: relSeq, RelAck: relAck, Flags: pkt.Flags, Data: pkt.Data, PacketIdx: pkt.PacketIdx})

	if origin.Status == StatusEstablished {
		if pkt.Flags&layer.FlagFIN == 0 {
			logging.Warnf("tcpreassembly: connection closing without a FIN flag")
		}
		origin.Status = StatusFinWait1
	}
}

// queueSegment appends seg to peer's ordered queue, warning (but still
// queuing) on gaps or overlaps against the segment currently at the front —
// matching the original's stance that reassembly should never silently drop
// data it was handed, only flag it as suspicious.
func queueSegment(peer *Peer, seg Segment) {
	if len(seg.Data) == 0 && seg.Flags&layer.FlagFIN == 0 {
		return
	}

	if front, ok := peer.front(); ok {
		nextSeq := front.RelSeq + uint32(len(front.Data))
		if seg.RelSeq > nextSeq {
			logging.Debugf("tcpreassembly: missing segment, expected seq %d got %d", nextSeq, seg.RelSeq)
		} else if seg.RelSeq < nextSeq {
			logging.Debugf("tcpreassembly: overlapping segment, expected seq %d got %d", nextSeq, seg.RelSeq)
		}
	}

	peer.insertSorted(seg)
}

// sendPeerSegments delivers every byte of origin's queue that relAck now
// covers, splitting the segment straddling the ack boundary if the ack
// falls in its middle. The segments an ack newly covers are coalesced into
// a single Delivery via a MemView, the same zero-copy-until-handoff
// approach the teacher's HTTP body assembly uses for joining chunks read
// off the wire, rather than handing the caller one Delivery per queued
// segment. origin is the peer whose Segments are being drained; fromClient
// tags the coalesced delivery with the direction the data travels.
func sendPeerSegments(origin, destination *Peer, relAck uint32, fromClient bool, out *[]Delivery) {
	_ = destination
	if relAck == origin.LastRelAck {
		return
	}

	var view memview.MemView
	var lastIdx uint64

	for {
		seg, ok := origin.front()
		if !ok {
			break
		}
		if seqGreater(origin.NextRelSeq, relAck) {
			logging.Debugf("tcpreassembly: partial ack inside an unsent segment, ignoring")
			break
		}
		if relAck == seg.RelSeq {
			break
		}

		origin.popFront()

		if seqLess(relAck, seg.RelSeq) {
			// Acks a byte before this segment even starts; the ack must be
			// stale relative to our queue. Discard and keep draining.
			continue
		}

		if seqLess(relAck, seg.RelSeq+uint32(len(seg.Data))) {
			splitAt := relAck - seg.RelSeq
			remaining := Segment{
				RelSeq:    relAck,
				RelAck:    relAck,
				Flags:     seg.Flags,
				Data:      append([]byte(nil), seg.Data[splitAt:]...),
				PacketIdx: seg.PacketIdx,
			}
			seg.Data = seg.Data[:splitAt]
			origin.insertSorted(remaining)
		}

		if len(seg.Data) > 0 {
			view.Append(memview.New(seg.Data))
			lastIdx = seg.PacketIdx
		}

		origin.NextRelSeq += uint32(len(seg.Data))
		if seg.Flags&layer.FlagFIN != 0 {
			origin.NextRelSeq++
		}
	}

	if view.Len() > 0 {
		*out = append(*out, Delivery{FromClient: fromClient, Data: []byte(view.String()), PacketIdx: lastIdx})
	}

	if origin.NextRelSeq != relAck {
		logging.Debugf("tcpreassembly: gap between delivered data (%d) and ack (%d)", origin.NextRelSeq, relAck)
	}
	origin.LastRelAck = relAck
}

// seqLess and seqGreater compare relative sequence numbers with wraparound
// semantics (RFC 1323 §4.3's "serial number arithmetic"): a < b iff their
// difference, taken modulo 2^32 and reinterpreted as signed, is negative.
func seqLess(a, b uint32) bool   { return int32(a-b) < 0 }
func seqGreater(a, b uint32) bool { return int32(a-b) > 0 }
