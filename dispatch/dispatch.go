// Package dispatch implements the recursive layer decapsulation engine:
// given one captured frame, it walks L2 through L4, re-entering L3 for
// every tunnel header it unwraps (VLAN, PPPoE/PPP, GRE, ERSPAN, VXLAN,
// IP-in-IP), defragments IP datagrams, feeds TCP segments to the stream
// reassembler, and fans every layer out to the plugin registry. It is a
// direct port of analyzer.rs's handle_l2/handle_l3_*/handle_l4_* chain, with
// the ThreeTuple.L3Proto field corrected to hold the EtherType (the
// original conflates it with the L4 protocol number on IPv4 — see
// DESIGN.md's Open Question note) and VXLAN/ERSPAN/PPPoE handling added
// from spec.md, which the original Rust analyzer predates.
package dispatch

import (
	"time"

	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/gid"
	"github.com/mel2oo/pcapcore/internal/logging"
	"github.com/mel2oo/pcapcore/ipdefrag"
	"github.com/mel2oo/pcapcore/layer"
	"github.com/mel2oo/pcapcore/pcapsource"
	"github.com/mel2oo/pcapcore/plugin"
	"github.com/mel2oo/pcapcore/registry"
	"github.com/mel2oo/pcapcore/tcpreassembly"
)

// maxTunnelDepth bounds the L3 re-entry recursion so a pathological or
// hostile capture (a GRE packet tunneling itself) can't recurse forever.
const maxTunnelDepth = 8

// Dispatcher wires together the flow table, both IP defragmenters, the TCP
// reassembler, and the plugin registry, and walks one frame at a time
// through the full decapsulation chain.
type Dispatcher struct {
	Flows    *flowtable.FlowTable
	IPv4Frag *ipdefrag.IPv4Defragmenter
	IPv6Frag *ipdefrag.IPv6Defragmenter
	TCP      *tcpreassembly.Reassembler
	Plugins  *registry.Registry

	// VerifyChecksums gates IPv4/ICMPv4/ICMPv6 checksum validation. A
	// mismatch only ever produces a warning log line — per spec.md §6's
	// do_checksums gating property, turning this off must never change
	// which packets get delivered, only suppress the warning.
	VerifyChecksums bool
}

// New returns a Dispatcher with fresh, empty state and the given plugin
// registry. Checksum validation is on by default.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		Flows:           flowtable.NewFlowTable(),
		IPv4Frag:        ipdefrag.NewIPv4Defragmenter(30 * time.Second),
		IPv6Frag:        ipdefrag.NewIPv6Defragmenter(30 * time.Second),
		TCP:             tcpreassembly.New(),
		Plugins:         reg,
		VerifyChecksums: true,
	}
}

// HandlePacket decapsulates one captured frame. Per spec.md §4.1 L2 step 1,
// the frame is first trimmed to what was actually captured (caplen can be
// shorter than the on-wire frame length when the capture used a snaplen),
// and the unfiltered physical-layer callback fires on every frame
// regardless of whether it goes on to decode successfully. The link-layer
// callback fires only once the frame has survived Ethernet decoding (and
// the Cisco-control-frame drop inside it), since a frame dropped at that
// step never reaches spec step 5.
func (d *Dispatcher) HandlePacket(f pcapsource.Frame) {
	if f.CapLen < len(f.Data) {
		f.Data = f.Data[:f.CapLen]
	}

	d.Plugins.DispatchPhysicalLayer(plugin.LinkInfo{
		LinkType: int(f.LinkType),
		FrameLen: len(f.Data),
		CapLen:   f.CapLen,
	})

	switch f.LinkType {
	case pcapsource.LinkTypeEthernet:
		d.handleEthernet(f.Data, f, 0)
	case pcapsource.LinkTypeRaw:
		d.handleIPGuess(f.Data, f, 0)
	case pcapsource.LinkTypeNull:
		d.handleNull(f.Data, f, 0)
	default:
		logging.Warnf("dispatch: unsupported link type %d", f.LinkType)
	}
}

// handleNull unwraps a BSD loopback (DLT_NULL) 4-byte address-family header.
func (d *Dispatcher) handleNull(data []byte, f pcapsource.Frame, depth int) {
	if len(data) < 4 {
		return
	}
	d.handleIPGuess(data[4:], f, depth)
}

// handleIPGuess inspects the IP version nibble directly, for link types
// that carry a bare IP datagram with no L2 framing at all.
func (d *Dispatcher) handleIPGuess(data []byte, f pcapsource.Frame, depth int) {
	if len(data) < 1 {
		return
	}
	switch data[0] >> 4 {
	case 4:
		d.handleIPv4(data, f, depth, layer.EtherTypeIPv4)
	case 6:
		d.handleIPv6(data, f, depth, layer.EtherTypeIPv6)
	default:
		logging.Debugf("dispatch: unrecognized raw IP version nibble")
	}
}

func (d *Dispatcher) handleEthernet(data []byte, f pcapsource.Frame, depth int) {
	eth, err := layer.DecodeEthernet(data)
	if err != nil {
		logging.Debugf("dispatch: ethernet decode failed: %v", err)
		return
	}

	// Fires only for Ethernet link type, and only once the frame has
	// survived the Cisco-control-frame drop inside DecodeEthernet — a
	// frame dropped there never reaches spec.md §4.1 step 5.
	d.Plugins.DispatchLinkLayer(plugin.LinkInfo{
		LinkType: int(f.LinkType),
		FrameLen: len(f.Data),
		CapLen:   f.CapLen,
	})

	d.handleL3(eth.EtherType, eth.Payload, f, depth)
}

// handleL3 dispatches on EtherType, the single entry point every L2 and
// tunnel unwrap funnels back into — this is the recursion point for VLAN,
// PPPoE, GRE, and VXLAN payloads.
func (d *Dispatcher) handleL3(etherType uint16, payload []byte, f pcapsource.Frame, depth int) {
	if depth > maxTunnelDepth {
		logging.Warnf("dispatch: tunnel nesting exceeded %d, dropping", maxTunnelDepth)
		return
	}

	switch etherType {
	case layer.EtherTypeIPv4:
		d.handleIPv4(payload, f, depth, etherType)
	case layer.EtherTypeIPv6:
		d.handleIPv6(payload, f, depth, etherType)
	case layer.EtherTypeVLAN:
		d.handleVLAN(payload, f, depth)
	case layer.EtherTypePPPoE:
		d.handlePPPoE(payload, f, depth)
	case layer.EtherTypePPP:
		d.handlePPP(payload, f, depth)
	case layer.EtherTypeERSPAN:
		d.handleERSPAN(payload, f, depth)
	case layer.EtherTypeARP:
		// ARP carries no transport conversation; nothing further to dispatch.
	default:
		logging.Debugf("dispatch: unhandled ethertype %#04x", etherType)
	}
}

func (d *Dispatcher) handleVLAN(data []byte, f pcapsource.Frame, depth int) {
	tag, err := layer.DecodeDot1Q(data)
	if err != nil {
		logging.Debugf("dispatch: vlan decode failed: %v", err)
		return
	}
	d.handleL3(tag.EtherType, tag.Payload, f, depth+1)
}

func (d *Dispatcher) handlePPPoE(data []byte, f pcapsource.Frame, depth int) {
	sess, err := layer.DecodePPPoESession(data)
	if err != nil {
		logging.Debugf("dispatch: pppoe decode failed: %v", err)
		return
	}
	d.handlePPP(sess.Payload, f, depth+1)
}

func (d *Dispatcher) handlePPP(data []byte, f pcapsource.Frame, depth int) {
	ppp, err := layer.DecodePPP(data)
	if err != nil {
		logging.Debugf("dispatch: ppp decode failed: %v", err)
		return
	}
	switch ppp.Protocol {
	case layer.PPPProtoIPv4:
		d.handleIPv4(ppp.Payload, f, depth+1, layer.EtherTypeIPv4)
	case layer.PPPProtoIPv6:
		d.handleIPv6(ppp.Payload, f, depth+1, layer.EtherTypeIPv6)
	default:
		logging.Debugf("dispatch: unhandled ppp protocol %#04x", ppp.Protocol)
	}
}

// handleIPv4 decodes an IPv4 datagram, defragmenting it if needed, then
// dispatches the (possibly just-completed) payload to L4. l3Proto is the
// EtherType that led here, carried through to the flow's ThreeTuple.
func (d *Dispatcher) handleIPv4(data []byte, f pcapsource.Frame, depth int, l3Proto uint16) {
	ip, err := layer.DecodeIPv4(data)
	if err != nil {
		logging.Debugf("dispatch: ipv4 decode failed: %v", err)
		return
	}

	if d.VerifyChecksums && !layer.VerifyIPv4Checksum(data) {
		logging.Warnf("dispatch: ipv4 checksum mismatch src=%s dst=%s", ip.Src, ip.Dst)
	}

	// Re-slice to the header's own claimed length: link-layer padding can
	// leave trailing garbage past the end of the real datagram. The payload
	// starts after the IHL-sized header, options included.
	ihl := int(data[0]&0x0F) * 4
	if int(ip.TotalLength) <= len(data) && int(ip.TotalLength) >= ihl {
		ip.Payload = data[ihl:ip.TotalLength]
	}

	payload := ip.Payload
	if ip.IsFragment() {
		reassembled, res := d.IPv4Frag.Update(ip, timeOf(f.Seen))
		switch res {
		case ipdefrag.Complete:
			payload = reassembled
		case ipdefrag.Incomplete:
			return
		case ipdefrag.Error:
			logging.Debugf("dispatch: ipv4 fragment reassembly error")
			return
		}
	}

	three := flowtable.ThreeTuple{L3Proto: l3Proto, SrcIP: ip.Src, DstIP: ip.Dst}
	d.handleL4(three, ip.Protocol, payload, f, depth)
}

func (d *Dispatcher) handleIPv6(data []byte, f pcapsource.Frame, depth int, l3Proto uint16) {
	ip, err := layer.DecodeIPv6(data)
	if err != nil {
		logging.Debugf("dispatch: ipv6 decode failed: %v", err)
		return
	}

	payload := ip.Payload
	nextHeader := ip.NextHeader
	if frag, ok := ip.Fragment.Get(); ok {
		reassembled, res := d.IPv6Frag.Update(ip, frag, timeOf(f.Seen))
		switch res {
		case ipdefrag.Complete:
			payload = reassembled
		case ipdefrag.Incomplete:
			return
		case ipdefrag.Error:
			logging.Debugf("dispatch: ipv6 fragment reassembly error")
			return
		}
	}

	three := flowtable.ThreeTuple{L3Proto: l3Proto, SrcIP: ip.Src, DstIP: ip.Dst}
	d.handleL4(three, nextHeader, payload, f, depth)
}

// handleL4 dispatches a transport-or-tunnel payload by IP protocol number.
// TCP and UDP terminate here (flow lookup, reassembly, plugin dispatch);
// GRE and IP-in-IP re-enter the L3/L2 chain.
func (d *Dispatcher) handleL4(three flowtable.ThreeTuple, proto uint8, payload []byte, f pcapsource.Frame, depth int) {
	switch proto {
	case layer.ProtoTCP:
		d.handleTCP(three, payload, f)
	case layer.ProtoUDP:
		d.handleUDP(three, payload, f, depth)
	case layer.ProtoICMPv4, layer.ProtoICMPv6:
		d.handleICMP(three, proto, payload, f)
	case layer.ProtoGRE:
		d.handleGRE(payload, f, depth)
	case layer.ProtoIPv6:
		// IPv6-in-IPv4 (6in4) or IPv6-in-IPv6: re-enter L3 directly, no L2
		// framing to unwrap.
		d.handleIPv6(payload, f, depth+1, layer.EtherTypeIPv6)
	case 4: // IP-in-IP (RFC 2003)
		d.handleIPv4(payload, f, depth+1, layer.EtherTypeIPv4)
	default:
		d.handleL4Generic(three, proto, f)
	}

	d.Plugins.DispatchNetworkLayer(plugin.NetworkInfo{ThreeTuple: three, L4Proto: proto})
}

// handleL4Generic still surfaces a flow for an L4 protocol none of the
// named handlers recognize, with both ports zeroed, rather than dropping
// the datagram's existence entirely. This mirrors analyzer.rs's
// handle_l4_generic, which does the same for any protocol number its match
// arms don't name.
func (d *Dispatcher) handleL4Generic(three flowtable.ThreeTuple, proto uint8, f pcapsource.Frame) {
	logging.Debugf("dispatch: unhandled l4 protocol %d", proto)
	five := flowtable.FiveTuple{ThreeTuple: three, L4Proto: proto}
	d.lookupOrCreateFlow(five, f)
}

func (d *Dispatcher) handleGRE(data []byte, f pcapsource.Frame, depth int) {
	gre, err := layer.DecodeGRE(data)
	if err != nil {
		logging.Debugf("dispatch: gre decode failed: %v", err)
		return
	}

	if gre.ProtocolType == layer.GREProtoERSPANv1 {
		d.handleERSPAN(gre.Payload, f, depth)
		return
	}
	d.handleL3(gre.ProtocolType, gre.Payload, f, depth+1)
}

// handleERSPAN tries both ERSPAN header versions since the GRE protocol
// type 0x88BE is shared by ERSPAN type I and type II/III, which are only
// distinguishable by the version nibble inside the ERSPAN header itself.
func (d *Dispatcher) handleERSPAN(data []byte, f pcapsource.Frame, depth int) {
	if len(data) < 2 {
		return
	}
	version := data[0] >> 4
	var (
		span layer.ERSPAN
		err  error
	)
	if version == 1 {
		span, err = layer.DecodeERSPAN(data, 1)
	} else {
		span, err = layer.DecodeERSPAN(data, 2)
	}
	if err != nil {
		logging.Debugf("dispatch: erspan decode failed: %v", err)
		return
	}
	// The mirrored payload is a full Ethernet frame.
	d.handleEthernet(span.Payload, f, depth+1)
}

func (d *Dispatcher) handleVXLAN(data []byte, f pcapsource.Frame, depth int) {
	vx, err := layer.DecodeVXLAN(data)
	if err != nil {
		logging.Debugf("dispatch: vxlan decode failed: %v", err)
		return
	}
	d.handleEthernet(vx.Payload, f, depth+1)
}

const vxlanPort = 4789

func (d *Dispatcher) handleTCP(three flowtable.ThreeTuple, data []byte, f pcapsource.Frame) {
	tcp, err := layer.DecodeTCP(data)
	if err != nil {
		logging.Debugf("dispatch: tcp decode failed: %v", err)
		return
	}

	five := flowtable.FiveTuple{ThreeTuple: three, SrcPort: tcp.SrcPort, DstPort: tcp.DstPort, L4Proto: layer.ProtoTCP}
	flowID, toServer, _ := d.lookupOrCreateFlow(five, f)

	deliveries, err := d.TCP.Update(flowID, tcpreassembly.Packet{
		FromClient: toServer,
		Seq:        tcp.Seq,
		Ack:        tcp.Ack,
		Flags:      tcp.Flags,
		Data:       tcp.Payload,
		PacketIdx:  f.Index,
		Seen:       timeOf(f.Seen),
	})
	if err != nil {
		logging.Debugf("dispatch: tcp reassembly for flow %s: %v", flowID, err)
	}

	for _, del := range deliveries {
		d.Plugins.DispatchTransportLayer(plugin.PacketInfo{
			FlowID:    flowID,
			FiveTuple: five,
			ToServer:  del.FromClient,
			L4Proto:   layer.ProtoTCP,
			Payload:   del.Data,
			Seen:      f.Seen,
			PacketIdx: del.PacketIdx,
		})
	}
}

func (d *Dispatcher) handleUDP(three flowtable.ThreeTuple, data []byte, f pcapsource.Frame, depth int) {
	udp, err := layer.DecodeUDP(data)
	if err != nil {
		logging.Debugf("dispatch: udp decode failed: %v", err)
		return
	}

	if udp.DstPort == vxlanPort || udp.SrcPort == vxlanPort {
		// Boundary scenario S3 (spec.md §4.1): the outer UDP datagram is
		// purely a VXLAN carrier and never reaches L4 plugins itself, only
		// the decapsulated inner Ethernet frame does.
		d.handleVXLAN(udp.Payload, f, depth)
		return
	}

	five := flowtable.FiveTuple{ThreeTuple: three, SrcPort: udp.SrcPort, DstPort: udp.DstPort, L4Proto: layer.ProtoUDP}
	flowID, toServer, _ := d.lookupOrCreateFlow(five, f)

	d.Plugins.DispatchTransportLayer(plugin.PacketInfo{
		FlowID:    flowID,
		FiveTuple: five,
		ToServer:  toServer,
		L4Proto:   layer.ProtoUDP,
		Payload:   udp.Payload,
		Seen:      f.Seen,
		PacketIdx: f.Index,
	})
}

// handleICMP fabricates a pseudo-5-tuple for ICMP traffic (spec.md §4.1):
// ICMPv4 carries its type/code into the port fields (src_port=icmp_type,
// dst_port=icmp_code) so e.g. echo requests and replies key to distinct
// flows; ICMPv6 leaves both zero.
func (d *Dispatcher) handleICMP(three flowtable.ThreeTuple, proto uint8, data []byte, f pcapsource.Frame) {
	var (
		payload          []byte
		srcPort, dstPort uint16
	)
	if proto == layer.ProtoICMPv4 {
		icmp, err := layer.DecodeICMPv4(data)
		if err != nil {
			return
		}
		if d.VerifyChecksums && !layer.VerifyICMPv4Checksum(data) {
			logging.Warnf("dispatch: icmpv4 checksum mismatch src=%s dst=%s", three.SrcIP, three.DstIP)
		}
		payload = icmp.Payload
		srcPort = uint16(icmp.Type)
		dstPort = uint16(icmp.Code)
	} else {
		icmp, err := layer.DecodeICMPv6(data)
		if err != nil {
			return
		}
		if d.VerifyChecksums && !layer.VerifyICMPv6Checksum(three.SrcIP, three.DstIP, data) {
			logging.Warnf("dispatch: icmpv6 checksum mismatch src=%s dst=%s", three.SrcIP, three.DstIP)
		}
		payload = icmp.Payload
	}

	five := flowtable.FiveTuple{ThreeTuple: three, SrcPort: srcPort, DstPort: dstPort, L4Proto: proto}
	flowID, toServer, _ := d.lookupOrCreateFlow(five, f)

	d.Plugins.DispatchTransportLayer(plugin.PacketInfo{
		FlowID:    flowID,
		FiveTuple: five,
		ToServer:  toServer,
		L4Proto:   proto,
		Payload:   payload,
		Seen:      f.Seen,
		PacketIdx: f.Index,
	})
}

// lookupOrCreateFlow looks up five in the flow table, inserting a new Flow
// and notifying the registry if this is the first time it's been seen.
// toServer reports whether this packet travels in the flow's canonical
// direction.
func (d *Dispatcher) lookupOrCreateFlow(five flowtable.FiveTuple, f pcapsource.Frame) (gid.FlowID, bool, *flowtable.Flow) {
	if id, ok := d.Flows.LookupFlow(five); ok {
		flow, _ := d.Flows.GetFlow(id)
		toServer := flow != nil && flow.FiveTuple == five
		if flow != nil {
			flow.LastSeen = f.Seen
		}
		return id, toServer, flow
	}

	flow := &flowtable.Flow{FiveTuple: five, FirstSeen: f.Seen, LastSeen: f.Seen}
	id := d.Flows.InsertFlow(five, flow)
	d.Plugins.DispatchFlowCreated(flow)
	return id, true, flow
}

func timeOf(ts flowtable.Timestamp) time.Time {
	return time.Unix(ts.Sec, ts.Usec*1000)
}
