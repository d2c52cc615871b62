// Package plugin defines the callback contract the dispatcher invokes
// analyzer plugins through. The shape is grounded on the teacher's
// gnet/http TCPParserFactory/TCPParser split (a factory that decides
// whether it wants a stream, paired with a stateful per-stream handler) —
// generalized here from "one factory per protocol guess" into "one plugin
// registered against the layer types and filters it cares about", per
// spec.md §4.5.
package plugin

import (
	"github.com/google/uuid"
	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/gid"
	"github.com/mel2oo/pcapcore/sets"
)

// Type is a bitmask of the layer callbacks a plugin wants invoked for it.
// A plugin registers the union of the callbacks it implements so the
// registry never calls into a plugin for a layer it has no interest in.
type Type uint32

const (
	TypePhysical Type = 1 << iota
	TypeLink
	TypeNetwork
	TypeTransport
	TypeFlowCreated
	TypeFlowDestroyed
)

// Has reports whether t includes every bit set in want.
func (t Type) Has(want Type) bool { return t&want == want }

// ID identifies a registered plugin instance.
type ID uuid.UUID

func (id ID) String() string { return uuid.UUID(id).String() }

// NewID generates a fresh plugin ID.
func NewID() ID { return ID(uuid.New()) }

// LinkInfo describes the physical/link-layer framing a packet arrived in,
// passed to HandleLinkLayer.
type LinkInfo struct {
	LinkType int
	FrameLen int
	CapLen   int
}

// NetworkInfo is passed to HandleNetworkLayer once for every IPv4/IPv6
// datagram the dispatcher hands on to L4 dispatch, tunneled or not, after
// that datagram's L4 handling has run. A fragment is not reported on its
// own; a fragmented datagram is reported once, when reassembly completes it.
type NetworkInfo struct {
	ThreeTuple flowtable.ThreeTuple
	L4Proto    uint8
}

// PacketInfo is passed to HandleTransportLayer: everything a plugin needs
// to correlate a segment back to its flow and, if the packet carries
// reassembled TCP payload, which direction it traveled.
type PacketInfo struct {
	FlowID    gid.FlowID
	FiveTuple flowtable.FiveTuple
	ToServer  bool
	L4Proto   uint8
	Payload   []byte
	Seen      flowtable.Timestamp
	PacketIdx uint64
}

// Plugin is the full capability surface the registry can dispatch to. A
// plugin that only cares about, say, transport-layer payloads still
// implements every method; Type's bitmask is what keeps the registry from
// bothering to call the ones it doesn't need.
type Plugin interface {
	Name() string
	Capabilities() Type

	PreProcess()
	HandlePhysicalLayer(info LinkInfo)
	HandleLinkLayer(info LinkInfo)
	HandleNetworkLayer(info NetworkInfo)
	HandleTransportLayer(info PacketInfo)
	FlowCreated(flow *flowtable.Flow)
	FlowDestroyed(flow *flowtable.Flow)
	PostProcess()
}

// L4Filter is an optional interface a Plugin can implement to narrow
// HandleTransportLayer calls to a specific set of IP protocol numbers (for
// example, only TCP and UDP) instead of receiving every transport-layer
// packet regardless of protocol. Plugins that don't implement it see every
// protocol their Capabilities bitmask already opted into.
type L4Filter interface {
	L4Protocols() sets.Set[uint8]
}

// Base implements every Plugin method as a no-op. Concrete plugins embed it
// and override only the callbacks named by the Type bits they advertise
// from Capabilities, the same "implement the interface, override what you
// need" shape the teacher's gnet content types use for ParsedNetworkContent.
type Base struct{}

func (Base) PreProcess()                     {}
func (Base) HandlePhysicalLayer(LinkInfo)    {}
func (Base) HandleLinkLayer(LinkInfo)        {}
func (Base) HandleNetworkLayer(NetworkInfo)  {}
func (Base) HandleTransportLayer(PacketInfo) {}
func (Base) FlowCreated(*flowtable.Flow)     {}
func (Base) FlowDestroyed(*flowtable.Flow)   {}
func (Base) PostProcess()                    {}
