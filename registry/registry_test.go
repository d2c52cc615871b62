package registry_test

import (
	"sync/atomic"
	"testing"

	"github.com/mel2oo/pcapcore/plugin"
	"github.com/mel2oo/pcapcore/registry"
	"github.com/mel2oo/pcapcore/sets"
	"github.com/stretchr/testify/require"
)

type countingPlugin struct {
	plugin.Base
	caps         plugin.Type
	transportHit int32
	networkHit   int32
}

func (p *countingPlugin) Name() string              { return "counter" }
func (p *countingPlugin) Capabilities() plugin.Type { return p.caps }
func (p *countingPlugin) HandleTransportLayer(plugin.PacketInfo) {
	atomic.AddInt32(&p.transportHit, 1)
}
func (p *countingPlugin) HandleNetworkLayer(plugin.NetworkInfo) {
	atomic.AddInt32(&p.networkHit, 1)
}

func TestDispatchOnlyReachesInterestedPlugins(t *testing.T) {
	r := registry.New()
	transportOnly := &countingPlugin{caps: plugin.TypeTransport}
	networkOnly := &countingPlugin{caps: plugin.TypeNetwork}
	r.Register(transportOnly)
	r.Register(networkOnly)

	r.DispatchTransportLayer(plugin.PacketInfo{})
	require.EqualValues(t, 1, transportOnly.transportHit)
	require.EqualValues(t, 0, networkOnly.transportHit)

	r.DispatchNetworkLayer(plugin.NetworkInfo{})
	require.EqualValues(t, 0, transportOnly.networkHit)
	require.EqualValues(t, 1, networkOnly.networkHit)
}

type panickyPlugin struct {
	plugin.Base
}

func (panickyPlugin) Name() string              { return "panicky" }
func (panickyPlugin) Capabilities() plugin.Type { return plugin.TypeTransport }
func (panickyPlugin) HandleTransportLayer(plugin.PacketInfo) {
	panic("boom")
}

func TestPanickingPluginDoesNotStopOthers(t *testing.T) {
	r := registry.New()
	r.Register(panickyPlugin{})
	ok := &countingPlugin{caps: plugin.TypeTransport}
	r.Register(ok)

	require.NotPanics(t, func() {
		r.DispatchTransportLayer(plugin.PacketInfo{})
	})
	require.EqualValues(t, 1, ok.transportHit)
}

type filteringPlugin struct {
	plugin.Base
	want         sets.Set[uint8]
	transportHit int32
}

func (p *filteringPlugin) Name() string                 { return "filtering" }
func (p *filteringPlugin) Capabilities() plugin.Type    { return plugin.TypeTransport }
func (p *filteringPlugin) L4Protocols() sets.Set[uint8] { return p.want }
func (p *filteringPlugin) HandleTransportLayer(plugin.PacketInfo) {
	atomic.AddInt32(&p.transportHit, 1)
}

func TestL4FilterNarrowsTransportDispatch(t *testing.T) {
	r := registry.New()
	tcpOnly := &filteringPlugin{want: sets.NewSet[uint8](6)}
	everything := &countingPlugin{caps: plugin.TypeTransport}
	r.Register(tcpOnly)
	r.Register(everything)

	r.DispatchTransportLayer(plugin.PacketInfo{L4Proto: 17}) // UDP
	require.EqualValues(t, 0, tcpOnly.transportHit, "plugin filtered to TCP shouldn't see UDP")
	require.EqualValues(t, 1, everything.transportHit)

	r.DispatchTransportLayer(plugin.PacketInfo{L4Proto: 6}) // TCP
	require.EqualValues(t, 1, tcpOnly.transportHit)
	require.EqualValues(t, 2, everything.transportHit)
}

type orderedPlugin struct {
	plugin.Base
	name string
	log  *[]string
}

func (p *orderedPlugin) Name() string              { return p.name }
func (p *orderedPlugin) Capabilities() plugin.Type { return 0 }
func (p *orderedPlugin) PostProcess()              { *p.log = append(*p.log, p.name) }

func TestNamesAndPostProcessOrder(t *testing.T) {
	r := registry.New()
	var postOrder []string
	r.Register(&orderedPlugin{name: "a", log: &postOrder})
	r.Register(&orderedPlugin{name: "b", log: &postOrder})
	r.Register(&orderedPlugin{name: "c", log: &postOrder})

	require.Equal(t, []string{"a", "b", "c"}, r.Names())

	r.PostProcess()
	require.Equal(t, []string{"c", "b", "a"}, postOrder, "teardown runs in reverse registration order")
}

type physicalPlugin struct {
	plugin.Base
	hits int32
}

func (p *physicalPlugin) Name() string              { return "physical" }
func (p *physicalPlugin) Capabilities() plugin.Type { return plugin.TypePhysical }
func (p *physicalPlugin) HandlePhysicalLayer(plugin.LinkInfo) {
	atomic.AddInt32(&p.hits, 1)
}

func TestDispatchPhysicalLayerReachesOnlyPhysicalPlugins(t *testing.T) {
	r := registry.New()
	phys := &physicalPlugin{}
	link := &countingPlugin{caps: plugin.TypeLink}
	r.Register(phys)
	r.Register(link)

	r.DispatchPhysicalLayer(plugin.LinkInfo{})
	require.EqualValues(t, 1, phys.hits)

	r.DispatchLinkLayer(plugin.LinkInfo{})
	require.EqualValues(t, 1, phys.hits, "a link-layer dispatch shouldn't also hit a physical-only plugin")
}

func TestUnregisterRemovesPlugin(t *testing.T) {
	r := registry.New()
	p := &countingPlugin{caps: plugin.TypeTransport}
	id := r.Register(p)
	require.Equal(t, 1, r.Len())

	r.Unregister(id)
	require.Equal(t, 0, r.Len())

	r.DispatchTransportLayer(plugin.PacketInfo{})
	require.EqualValues(t, 0, p.transportHit)
}
