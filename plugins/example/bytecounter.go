package example

import (
	"sync"

	"github.com/mel2oo/pcapcore/gid"
	"github.com/mel2oo/pcapcore/layer"
	"github.com/mel2oo/pcapcore/plugin"
	"github.com/mel2oo/pcapcore/sets"
)

// ByteCounter tallies transport-layer payload bytes per flow, split by
// direction. Safe for concurrent use since the registry may invoke a
// plugin's callbacks from more than one dispatch goroutine.
type ByteCounter struct {
	plugin.Base

	mu     sync.Mutex
	toSrv  map[gid.FlowID]uint64
	toDst  map[gid.FlowID]uint64
}

// NewByteCounter returns a ready-to-register ByteCounter.
func NewByteCounter() *ByteCounter {
	return &ByteCounter{
		toSrv: make(map[gid.FlowID]uint64),
		toDst: make(map[gid.FlowID]uint64),
	}
}

func (*ByteCounter) Name() string              { return "byte-counter" }
func (*ByteCounter) Capabilities() plugin.Type { return plugin.TypeTransport }

// L4Protocols restricts this plugin to TCP and UDP; it has no use for raw
// ICMP transport-layer callbacks.
func (*ByteCounter) L4Protocols() sets.Set[uint8] {
	return sets.NewSet[uint8](layer.ProtoTCP, layer.ProtoUDP)
}

func (c *ByteCounter) HandleTransportLayer(info plugin.PacketInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info.ToServer {
		c.toSrv[info.FlowID] += uint64(len(info.Payload))
	} else {
		c.toDst[info.FlowID] += uint64(len(info.Payload))
	}
}

// Totals returns the bytes seen toward the server and back, for flow.
func (c *ByteCounter) Totals(flow gid.FlowID) (toServer, toClient uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toSrv[flow], c.toDst[flow]
}
