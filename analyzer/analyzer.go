package analyzer

import (
	"github.com/mel2oo/pcapcore/dispatch"
	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/internal/logging"
	"github.com/mel2oo/pcapcore/ipdefrag"
	"github.com/mel2oo/pcapcore/pcapsource"
	"github.com/mel2oo/pcapcore/plugin"
	"github.com/mel2oo/pcapcore/registry"
	"github.com/mel2oo/pcapcore/tcpreassembly"
)

// Analyzer decapsulates a stream of captured frames, reassembles IP
// fragments and TCP streams, and fans every layer out to registered
// plugins. It corresponds to libpcap-analyzer's Analyzer, generalized from
// a single pcap-file run into something a caller can feed frames one at a
// time and query mid-run.
type Analyzer struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	opts       Options
}

// New returns an Analyzer with no plugins registered; call RegisterPlugin
// before feeding it frames.
func New(opts ...Option) *Analyzer {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	logging.Debug = o.debugLog

	reg := registry.New()
	d := &dispatch.Dispatcher{
		Flows:           flowtable.NewFlowTable(),
		IPv4Frag:        ipdefrag.NewIPv4Defragmenter(o.fragTimeout),
		IPv6Frag:        ipdefrag.NewIPv6Defragmenter(o.fragTimeout),
		TCP:             tcpreassembly.NewWithTimeout(o.tcpTimeout),
		Plugins:         reg,
		VerifyChecksums: o.doChecksums,
	}

	return &Analyzer{dispatcher: d, registry: reg, opts: o}
}

// RegisterPlugin adds p to the analyzer's plugin registry and returns the
// ID it was assigned.
func (a *Analyzer) RegisterPlugin(p plugin.Plugin) plugin.ID {
	return a.registry.Register(p)
}

// UnregisterPlugin removes a previously registered plugin.
func (a *Analyzer) UnregisterPlugin(id plugin.ID) {
	a.registry.Unregister(id)
}

// Run calls PreProcess on every registered plugin. Call it once before
// feeding the first frame.
func (a *Analyzer) Run() {
	a.registry.PreProcess()
}

// HandlePacket decapsulates one captured frame, updating flow, fragment,
// and TCP reassembly state and dispatching to plugins along the way.
func (a *Analyzer) HandlePacket(f pcapsource.Frame) {
	a.dispatcher.HandlePacket(f)
}

// Close drains every live TCP stream's undelivered segments to the
// registry and calls PostProcess on every plugin. Call it once after the
// last frame has been handed to HandlePacket.
func (a *Analyzer) Close() {
	for _, flow := range a.dispatcher.Flows.Values() {
		for _, del := range a.dispatcher.TCP.Teardown(flow.FlowID) {
			a.registry.DispatchTransportLayer(plugin.PacketInfo{
				FlowID:    flow.FlowID,
				FiveTuple: flow.FiveTuple,
				ToServer:  del.FromClient,
				L4Proto:   flow.FiveTuple.L4Proto,
				Payload:   del.Data,
				Seen:      flow.LastSeen,
				PacketIdx: del.PacketIdx,
			})
		}
		a.registry.DispatchFlowDestroyed(flow)
	}
	a.registry.PostProcess()
}

// FlowCount reports the number of flows currently tracked.
func (a *Analyzer) FlowCount() int {
	return a.dispatcher.Flows.Len()
}
