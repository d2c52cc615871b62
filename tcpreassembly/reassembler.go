package tcpreassembly

import (
	"time"

	"github.com/mel2oo/pcapcore/gid"
	"github.com/mel2oo/pcapcore/layer"
	"github.com/pkg/errors"
)

// ErrExpired is returned by Update when the flow's stream had gone idle
// past the reassembly timeout; the stream is force-closed and the packet
// that triggered the check starts a fresh one on the caller's next Update.
var ErrExpired = errors.New("tcpreassembly: stream expired")

const defaultTimeout = 120 * time.Second

// Reassembler tracks TCP stream state per flow and turns incoming segments
// into ordered, ACK-delivered byte runs.
type Reassembler struct {
	streams  map[gid.FlowID]*Stream
	lastSeen map[gid.FlowID]time.Time
	timeout  time.Duration
}

// New returns a Reassembler with the default 120-second idle timeout,
// matching tcp_reassembly.rs's TcpStreamReassembly::new.
func New() *Reassembler {
	return NewWithTimeout(defaultTimeout)
}

// NewWithTimeout returns a Reassembler with a caller-chosen idle timeout.
func NewWithTimeout(timeout time.Duration) *Reassembler {
	return &Reassembler{
		streams:  make(map[gid.FlowID]*Stream),
		lastSeen: make(map[gid.FlowID]time.Time),
		timeout:  timeout,
	}
}

// Update feeds one TCP segment belonging to flow into its stream, creating
// the stream on first sight. pkt.FromClient indicates which side of the
// flow's canonical 5-tuple sent this packet.
//
// It returns every contiguous, now-acknowledged byte run the segment made
// available, in delivery order, plus ErrExpired if the stream had gone
// idle past the timeout (in which case the stream is reset to Closed and
// this packet is not applied; the caller should re-submit it).
func (r *Reassembler) Update(flow gid.FlowID, pkt Packet) ([]Delivery, error) {
	if last, ok := r.lastSeen[flow]; ok && pkt.Seen.Sub(last) > r.timeout {
		r.lastSeen[flow] = pkt.Seen
		r.expireLocked(flow)
		return nil, ErrExpired
	}
	r.lastSeen[flow] = pkt.Seen

	stream, ok := r.streams[flow]
	if !ok {
		stream = &Stream{}
		r.streams[flow] = stream
	}

	var deliveries []Delivery
	origin, _ := stream.originDest(pkt.FromClient)

	switch {
	case !origin.Status.isClosing() && origin.Status != StatusEstablished:
		stream.handleNewConnection(pkt)

	case origin.Status.isClosing() || stream.Status.isClosing() ||
		(origin.Status == StatusEstablished && pkt.Flags&(layer.FlagFIN|layer.FlagRST) != 0):
		stream.handleClosingConnection(pkt, &deliveries)

	default:
		stream.handleEstablishedConnection(pkt, &deliveries)
	}

	return deliveries, nil
}

// expireLocked force-closes the stream for flow, if one exists.
func (r *Reassembler) expireLocked(flow gid.FlowID) {
	if s, ok := r.streams[flow]; ok {
		s.Client.Status = StatusClosed
		s.Server.Status = StatusClosed
	}
}

// CheckExpiredConnections force-closes every stream that has gone idle
// longer than the timeout as of now, independent of Update — for periodic
// sweeps between packets, matching tcp_reassembly.rs's standalone
// check_expired_connections.
func (r *Reassembler) CheckExpiredConnections(now time.Time) {
	for flow, last := range r.lastSeen {
		if now.Sub(last) > r.timeout {
			r.expireLocked(flow)
		}
	}
}

// Teardown removes flow's stream and returns any segments left undelivered
// in either direction. Unlike the original implementation (which silently
// drops whatever remains unacked when a stream is torn down), this drains
// and returns it: a capture that ends mid-stream still has payload sitting
// in the reassembly queue, and a caller analyzing a finished capture would
// rather see it than silently lose it. See DESIGN.md for the rationale.
func (r *Reassembler) Teardown(flow gid.FlowID) []Delivery {
	stream, ok := r.streams[flow]
	if !ok {
		return nil
	}
	delete(r.streams, flow)
	delete(r.lastSeen, flow)

	var out []Delivery
	for _, seg := range stream.Client.Segments {
		if len(seg.Data) > 0 {
			out = append(out, Delivery{FromClient: true, Data: seg.Data, PacketIdx: seg.PacketIdx})
		}
	}
	for _, seg := range stream.Server.Segments {
		if len(seg.Data) > 0 {
			out = append(out, Delivery{FromClient: false, Data: seg.Data, PacketIdx: seg.PacketIdx})
		}
	}
	return out
}

// Len reports the number of live streams.
func (r *Reassembler) Len() int { return len(r.streams) }
