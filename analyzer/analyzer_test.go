package analyzer_test

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/mel2oo/pcapcore/analyzer"
	"github.com/mel2oo/pcapcore/flowtable"
	"github.com/mel2oo/pcapcore/pcapsource"
	"github.com/mel2oo/pcapcore/plugin"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	plugin.Base
	created   int
	destroyed int
}

func (p *recordingPlugin) Name() string { return "recorder" }
func (p *recordingPlugin) Capabilities() plugin.Type {
	return plugin.TypeFlowCreated | plugin.TypeFlowDestroyed
}
func (p *recordingPlugin) FlowCreated(*flowtable.Flow)   { p.created++ }
func (p *recordingPlugin) FlowDestroyed(*flowtable.Flow) { p.destroyed++ }

func udpFrame(index uint64) pcapsource.Frame {
	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)

	udp := make([]byte, 8)
	binary.BigEndian.PutUint16(udp[0:2], 1234)
	binary.BigEndian.PutUint16(udp[2:4], 53)
	binary.BigEndian.PutUint16(udp[4:6], 8)

	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+len(udp)))
	ip[8] = 64
	ip[9] = 17
	copy(ip[12:16], net.ParseIP("10.0.0.1").To4())
	copy(ip[16:20], net.ParseIP("10.0.0.2").To4())

	data := append(append(eth, ip...), udp...)
	return pcapsource.Frame{Index: index, LinkType: pcapsource.LinkTypeEthernet, Data: data, CapLen: len(data)}
}

func TestAnalyzerLifecycleNotifiesPlugins(t *testing.T) {
	a := analyzer.New()
	rec := &recordingPlugin{}
	a.RegisterPlugin(rec)

	a.Run()
	a.HandlePacket(udpFrame(1))
	require.Equal(t, 1, rec.created)
	require.Equal(t, 1, a.FlowCount())

	a.Close()
	require.Equal(t, 1, rec.destroyed)
}

func TestDisablingChecksumsStillDeliversThePacket(t *testing.T) {
	// udpFrame's IPv4 header carries no valid checksum; disabling
	// validation must only suppress the warning, never the delivery.
	a := analyzer.New(analyzer.WithChecksums(false))
	rec := &recordingPlugin{}
	a.RegisterPlugin(rec)

	a.Run()
	a.HandlePacket(udpFrame(1))
	require.Equal(t, 1, rec.created)
	require.Equal(t, 1, a.FlowCount())
}
